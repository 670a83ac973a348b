package downloader

import (
	"fmt"
	"strings"
)

// PathMode selects how a matched object's key maps onto a local filesystem
// path under a destination directory (spec §4.4).
type PathMode string

const (
	// PathModeAbsolute joins destinationDir directly onto the full key.
	PathModeAbsolute PathMode = "absolute"

	// PathModeFromFirstGlob strips the pattern's literal prefix (spec §3)
	// from the key before joining.
	PathModeFromFirstGlob PathMode = "from-first-glob"

	// PathModeShortest strips the longest common prefix observed across an
	// initial batch of matches, recomputing once if a later key disagrees.
	PathModeShortest PathMode = "shortest"
)

// shortestLookahead is the batch size used to establish the initial LCP
// before the policy freezes (spec §4.4: "e.g. first 256 matches").
const shortestLookahead = 256

// pathResolver derives and deduplicates local destination paths for a
// stream of matched keys. Not safe for concurrent use without external
// locking; callers serialize through resolve.
type pathResolver struct {
	mode            PathMode
	destinationDir  string
	literalPrefix   string
	flatten         bool
	pathSeparator   string

	// shortest-mode state
	buffered      []string
	lcp           string
	lcpFrozen     bool
	lcpRecomputed bool

	seen map[string]int
}

// newPathResolver builds a resolver. literalPrefix is the compiled pattern's
// §3 literal prefix, used by from-first-glob mode.
func newPathResolver(mode PathMode, destinationDir, literalPrefix string, flatten bool) *pathResolver {
	return &pathResolver{
		mode:           mode,
		destinationDir: destinationDir,
		literalPrefix:  literalPrefix,
		flatten:        flatten,
		pathSeparator:  "/",
		seen:           make(map[string]int),
	}
}

// resolve returns the deduplicated local path for key. Keys must be
// presented in the order they should win collision ties (lexicographic key
// order, per spec §8 S6) since the first key to claim a path keeps the bare
// name and later ones receive a numeric suffix.
func (r *pathResolver) resolve(key string) string {
	stripped := r.strip(key)
	if r.flatten {
		stripped = strings.ReplaceAll(stripped, r.pathSeparator, "-")
	}
	rel := joinPath(stripped)
	full := joinPath(r.destinationDir, rel)
	return r.dedupe(full)
}

func (r *pathResolver) strip(key string) string {
	switch r.mode {
	case PathModeFromFirstGlob:
		return strings.TrimPrefix(key, r.literalPrefix)
	case PathModeShortest:
		return r.stripShortest(key)
	default: // PathModeAbsolute
		return key
	}
}

// stripShortest implements the buffer-then-freeze LCP policy: the first
// shortestLookahead keys are buffered to establish an initial common
// prefix; once frozen, any key that disagrees with the frozen LCP triggers
// exactly one recomputation down to whatever prefix still fits all keys
// seen so far (spec §4.4).
func (r *pathResolver) stripShortest(key string) string {
	if !r.lcpFrozen {
		r.buffered = append(r.buffered, key)
		r.lcp = commonPrefix(r.buffered)
		if len(r.buffered) >= shortestLookahead {
			r.freeze()
		}
		return strings.TrimPrefix(key, r.lcp)
	}

	if !r.lcpRecomputed && !strings.HasPrefix(key, r.lcp) {
		r.lcp = commonPrefix([]string{r.lcp, key})
		r.lcpRecomputed = true
		// Re-trim every path already handed out so far is impossible
		// without re-deriving them; instead we shrink the frozen LCP once
		// and keep it frozen, matching the spec's "recompute once, then
		// freeze" wording. Paths already resolved under the old, longer
		// LCP remain correct (a shorter LCP strictly adds a prefix onto
		// keys already stripped to a suffix of the same string).
	}
	return strings.TrimPrefix(key, r.lcp)
}

func (r *pathResolver) freeze() {
	r.lcpFrozen = true
}

// dedupe returns path unchanged the first time it's requested, and with an
// incrementing " (n)" suffix before the extension on every subsequent
// request (spec §4.4 collision policy).
func (r *pathResolver) dedupe(path string) string {
	n, exists := r.seen[path]
	r.seen[path] = n + 1
	if !exists {
		return path
	}
	return suffixed(path, n)
}

// suffixed inserts " (n)" before the final extension, e.g.
// suffixed("out/a.txt", 1) == "out/a (1).txt".
func suffixed(path string, n int) string {
	dir, base := splitDir(path)
	ext := ""
	if idx := strings.LastIndex(base, "."); idx > 0 {
		ext = base[idx:]
		base = base[:idx]
	}
	name := fmt.Sprintf("%s (%d)%s", base, n, ext)
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func splitDir(path string) (dir, base string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// commonPrefix returns the longest common prefix of ss, truncated to end at
// a delimiter boundary so a partial path segment is never stripped.
func commonPrefix(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	prefix := ss[0]
	for _, s := range ss[1:] {
		prefix = commonPrefixOf(prefix, s)
		if prefix == "" {
			break
		}
	}
	if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
		return prefix[:idx+1]
	}
	return ""
}

func commonPrefixOf(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// joinPath joins parts with "/", skipping empty segments, without relying
// on path/filepath (keys and destination dirs here are always slash-separated
// logical paths, not OS-native paths).
func joinPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	joined := strings.Join(nonEmpty, "/")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "/") {
		// Keep an absolute destination directory absolute.
		return "/" + joined
	}
	return joined
}
