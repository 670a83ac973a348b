package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/quodlibetor/s3glob/pkg/glob"
)

// URI parsing errors.
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// ObjectURI represents a parsed CLI target: a bucket plus either a bare key
// or a glob pattern (spec §6 "s3://bucket/pattern or bucket/pattern").
//
// Example URIs:
//   - s3://bucket/key/path.txt
//   - s3://bucket/prefix/
//   - s3://bucket/prefix/**/*.parquet
type ObjectURI struct {
	// Provider is the storage provider (currently only "s3").
	Provider string

	// Bucket is the bucket name.
	Bucket string

	// Key is the object key, or the directory-rounded prefix before the
	// first glob character when Pattern is set. May be empty for bucket root.
	Key string

	// Pattern is set if Key contains glob characters. When set, it is the
	// full glob text (relative to the bucket) that pkg/glob.Compile consumes.
	Pattern string
}

// String returns the URI in canonical form.
func (u *ObjectURI) String() string {
	if u.Pattern != "" {
		return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Pattern)
	}
	if u.Key != "" {
		return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Key)
	}
	return fmt.Sprintf("%s://%s/", u.Provider, u.Bucket)
}

// IsPattern reports whether the URI contains glob pattern characters.
func (u *ObjectURI) IsPattern() bool {
	return u.Pattern != ""
}

// IsPrefix reports whether the URI represents a directory-like prefix
// (ends with the delimiter, or is the bucket root).
func (u *ObjectURI) IsPrefix() bool {
	return strings.HasSuffix(u.Key, "/") || u.Key == ""
}

// Compile parses u.Pattern (or the bare Key, if there is no pattern) into a
// compiled glob ready for pkg/scanner.
func (u *ObjectURI) Compile() (*glob.Pattern, error) {
	if u.Pattern != "" {
		return glob.Compile(u.Pattern)
	}
	return glob.Compile(u.Key)
}

// ParseURI parses a CLI target into its components.
//
// Supported formats:
//   - s3://bucket
//   - s3://bucket/
//   - s3://bucket/key
//   - s3://bucket/prefix/
//   - s3://bucket/prefix/**/*.parquet
//   - bucket/prefix/*.csv (scheme-less shorthand, spec §6)
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	bucket, key, err := parseBucketAndKey(uri)
	if err != nil {
		return nil, err
	}

	// Validate the bucket name doesn't contain characters that would make
	// this an unparseable URI downstream.
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}

	result := &ObjectURI{Provider: "s3", Bucket: bucket}

	if glob.IsGlobPattern(key) {
		result.Pattern = key
		result.Key = derivePrefix(key)
	} else {
		result.Key = unescapeGlob(key)
	}

	return result, nil
}

// parseBucketAndKey handles the scheme detection and scheme-less shorthand
// that pkg/glob.ParseURI doesn't need to (the CLI accepts a bare "s3://"
// scheme or no scheme at all; pkg/glob only ever sees the bucket+pattern
// half once the CLI has stripped the scheme).
func parseBucketAndKey(uri string) (bucket, key string, err error) {
	remainder := uri
	if schemeEnd := strings.Index(uri, "://"); schemeEnd != -1 {
		scheme := strings.ToLower(uri[:schemeEnd])
		if scheme != "s3" {
			return "", "", fmt.Errorf("%w: %s (supported: s3)", ErrUnsupportedProvider, scheme)
		}
		remainder = uri[schemeEnd+3:]
	}
	if remainder == "" {
		return "", "", fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}

	slashIdx := strings.Index(remainder, "/")
	if slashIdx == -1 {
		return remainder, "", nil
	}
	bucket = remainder[:slashIdx]
	key = remainder[slashIdx+1:]
	if bucket == "" {
		return "", "", fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	return bucket, key, nil
}

// derivePrefix rounds a glob pattern's literal lead-in down to the enclosing
// directory, for use as a human-readable "listing under" prefix. This is
// coarser than pkg/glob's exact-character LiteralPrefix (spec §3), which the
// downloader uses for from-first-glob path derivation instead.
func derivePrefix(pattern string) string {
	idx := firstUnescapedMeta(pattern)
	if idx == -1 {
		return unescapeGlob(pattern)
	}
	if slash := strings.LastIndexByte(pattern[:idx], '/'); slash >= 0 {
		return unescapeGlob(pattern[:slash+1])
	}
	return ""
}

func firstUnescapedMeta(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?', '[', '{':
			return i
		}
	}
	return -1
}

// unescapeGlob turns glob escape syntax (e.g. "file\*.txt") into the literal
// key an S3 object would actually have ("file*.txt").
func unescapeGlob(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
