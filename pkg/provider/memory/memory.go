// Package memory implements an in-process provider.Provider test double.
//
// It is grounded on kelindar-s3's mock server idiom (sorted key listing,
// injectable latency/error behavior) but skips the HTTP layer entirely: it
// implements pkg/provider's interfaces directly, which is all pkg/scanner
// and pkg/downloader's tests need.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quodlibetor/s3glob/pkg/provider"
)

// Object is a single stored object.
type Object struct {
	Key          string
	Body         []byte
	ETag         string
	LastModified time.Time
}

// Provider is an in-memory provider.Provider + DelimiterLister + ObjectGetter
// + RegionDiscoverer, for tests.
type Provider struct {
	mu      sync.RWMutex
	objects map[string]Object
	region  string

	// Delay, if set, is applied before every List/ListWithDelimiter/Head/
	// GetObject call, to exercise rate limiting and cancellation.
	Delay time.Duration

	// Err, if set, is returned by every operation. ErrAfter limits this to
	// the first N calls if non-zero, after which calls succeed normally -
	// useful for exercising retry paths.
	Err      error
	ErrAfter int32
	calls    atomic.Int32

	listCalls atomic.Int64
}

var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.DelimiterLister  = (*Provider)(nil)
	_ provider.ObjectGetter     = (*Provider)(nil)
	_ provider.RegionDiscoverer = (*Provider)(nil)
)

// New creates an empty in-memory provider.
func New(region string) *Provider {
	return &Provider{objects: make(map[string]Object), region: region}
}

// Put adds or replaces an object.
func (p *Provider) Put(key string, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = Object{
		Key:          key,
		Body:         body,
		ETag:         "\"" + etagFor(body) + "\"",
		LastModified: time.Now().UTC(),
	}
}

// PutKeys adds empty objects for each key, for tests that only care about
// keyspace shape.
func (p *Provider) PutKeys(keys ...string) {
	for _, k := range keys {
		p.Put(k, nil)
	}
}

// ListCalls returns the number of List/ListWithDelimiter calls made so far.
func (p *Provider) ListCalls() int64 {
	return p.listCalls.Load()
}

func (p *Provider) maybeErr() error {
	if p.Err == nil {
		return nil
	}
	if p.ErrAfter == 0 {
		return p.Err
	}
	if p.calls.Add(1) <= p.ErrAfter {
		return p.Err
	}
	return nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Delay):
		return nil
	}
}

// List implements provider.Provider.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if err := p.maybeErr(); err != nil {
		return nil, err
	}
	p.listCalls.Add(1)

	p.mu.RLock()
	keys := p.sortedKeysWithPrefix(opts.Prefix)
	p.mu.RUnlock()

	start := 0
	if opts.ContinuationToken != "" {
		for i, k := range keys {
			if k == opts.ContinuationToken {
				start = i + 1
				break
			}
		}
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	end := start + maxKeys
	truncated := false
	if end < len(keys) {
		truncated = true
	} else {
		end = len(keys)
	}

	var next string
	if truncated {
		next = keys[end-1]
	}

	result := &provider.ListResult{
		Objects:           p.summaries(keys[start:end]),
		ContinuationToken: next,
		IsTruncated:       truncated,
	}
	return result, nil
}

// ListWithDelimiter implements provider.DelimiterLister.
func (p *Provider) ListWithDelimiter(ctx context.Context, opts provider.ListWithDelimiterOptions) (*provider.ListWithDelimiterResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if err := p.maybeErr(); err != nil {
		return nil, err
	}
	p.listCalls.Add(1)

	delim := opts.Delimiter
	if delim == "" {
		delim = "/"
	}

	p.mu.RLock()
	keys := p.sortedKeysWithPrefix(opts.Prefix)
	p.mu.RUnlock()

	seenPrefix := make(map[string]bool)
	var objects []provider.ObjectSummary
	var commonPrefixes []string

	for _, k := range keys {
		rest := k[len(opts.Prefix):]
		if idx := strings.Index(rest, delim); idx >= 0 {
			cp := opts.Prefix + rest[:idx+len(delim)]
			if !seenPrefix[cp] {
				seenPrefix[cp] = true
				commonPrefixes = append(commonPrefixes, cp)
			}
			continue
		}
		objects = append(objects, p.summary(k))
	}

	sort.Strings(commonPrefixes)

	return &provider.ListWithDelimiterResult{
		Objects:        objects,
		CommonPrefixes: commonPrefixes,
	}, nil
}

// Head implements provider.Provider.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if err := p.maybeErr(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	obj, ok := p.objects[key]
	p.mu.RUnlock()
	if !ok {
		return nil, provider.ErrNotFound
	}
	return &provider.ObjectMeta{ObjectSummary: summaryOf(obj)}, nil
}

// GetObject implements provider.ObjectGetter.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := p.wait(ctx); err != nil {
		return nil, 0, err
	}
	if err := p.maybeErr(); err != nil {
		return nil, 0, err
	}
	p.mu.RLock()
	obj, ok := p.objects[key]
	p.mu.RUnlock()
	if !ok {
		return nil, 0, provider.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Body)), int64(len(obj.Body)), nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error { return nil }

// HeadBucket implements provider.RegionDiscoverer.
func (p *Provider) HeadBucket(ctx context.Context, bucket string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if err := p.maybeErr(); err != nil {
		return "", err
	}
	return p.region, nil
}

func (p *Provider) sortedKeysWithPrefix(prefix string) []string {
	keys := make([]string, 0, len(p.objects))
	for k := range p.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (p *Provider) summaries(keys []string) []provider.ObjectSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]provider.ObjectSummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, summaryOf(p.objects[k]))
	}
	return out
}

func (p *Provider) summary(key string) provider.ObjectSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return summaryOf(p.objects[key])
}

func summaryOf(o Object) provider.ObjectSummary {
	return provider.ObjectSummary{
		Key:          o.Key,
		Size:         int64(len(o.Body)),
		ETag:         o.ETag,
		LastModified: o.LastModified,
	}
}

// etagFor produces a short, deterministic, non-cryptographic fingerprint -
// good enough for test assertions, not meant to match S3's real ETag scheme.
func etagFor(body []byte) string {
	var h uint32 = 2166136261
	for _, b := range body {
		h ^= uint32(b)
		h *= 16777619
	}
	const hex = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hex[h&0xf]
		h >>= 4
	}
	return string(buf)
}
