// Package scanner implements the recursive prefix-subdivision pipeline that
// resolves a compiled glob pattern against a live (or in-memory) S3 bucket
// (spec §4.3).
//
// The scanner takes the frontier produced by pkg/prefixgen and, for every
// node still carrying unresolved atoms, lists the bucket one delimiter level
// at a time, pruning any common prefix the pattern's NFA reports as
// incompatible and recursing into the rest. Once a DoubleStar has been
// entered the scanner switches to a flat, non-delimited walk rather than
// continuing to subdivide by level.
package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quodlibetor/s3glob/pkg/glob"
	"github.com/quodlibetor/s3glob/pkg/output"
	"github.com/quodlibetor/s3glob/pkg/prefixgen"
	"github.com/quodlibetor/s3glob/pkg/provider"
	"golang.org/x/time/rate"
)

// DefaultMaxParallelism is the ceiling on concurrent scan workers (spec §4.3).
const DefaultMaxParallelism = 10000

// DefaultMinParallelism is the floor applied when the frontier is small
// (spec §4.3: "implementation-chosen floor").
const DefaultMinParallelism = 50

// DefaultExpansionCap bounds pkg/prefixgen's Cartesian expansion (spec §4.2).
const DefaultExpansionCap = 100_000

// DefaultQueueHighWaterMark bounds the task queue's combined backlog (queued
// plus in-flight prefixes) so a pathologically wide prefix tree can't grow
// scanner memory without bound (spec §4.3 "backpressure", §5 "memory
// bound"). Scaled well above DefaultMaxParallelism so legitimate bursts of
// child prefixes from a single List page don't starve on backpressure.
const DefaultQueueHighWaterMark = 50_000

// Config configures a Scanner.
type Config struct {
	// MaxParallelism is the ceiling on concurrent list workers.
	MaxParallelism int

	// MinParallelism is the floor on concurrent list workers.
	MinParallelism int

	// ExpansionCap bounds the prefixgen Cartesian expansion.
	ExpansionCap int

	// RateLimit is the maximum list requests per second. Zero disables
	// limiting.
	RateLimit float64

	// MaxRetries is the number of retry attempts for TransientIO errors
	// before a prefix is abandoned and reported via WriteError.
	MaxRetries int

	// RetryBaseDelay is the base delay for exponential retry backoff.
	RetryBaseDelay time.Duration

	// QueueHighWaterMark bounds the task queue's combined backlog (queued
	// plus in-flight prefixes); push blocks above it (spec §4.3
	// backpressure). Zero uses DefaultQueueHighWaterMark.
	QueueHighWaterMark int
}

// DefaultConfig returns spec-default scanner tuning.
func DefaultConfig() Config {
	return Config{
		MaxParallelism:     DefaultMaxParallelism,
		MinParallelism:     DefaultMinParallelism,
		ExpansionCap:       DefaultExpansionCap,
		MaxRetries:         3,
		RetryBaseDelay:     200 * time.Millisecond,
		QueueHighWaterMark: DefaultQueueHighWaterMark,
	}
}

// MatchedObject is a single object whose key fully matches the pattern
// (spec §3 MatchedObject).
type MatchedObject struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Summary reports scan diagnostics (spec §4.3 "diagnostics").
type Summary struct {
	ObjectsExamined int64
	ObjectsMatched  int64
	ListCalls       int64
	PeakFrontier    int64
	Prefixes        []string
	Errors          int64
	Duration        time.Duration
}

// Scanner resolves a compiled pattern's frontier against a bucket.
//
// Scanner is safe for single use: create a new Scanner per Scan call.
type Scanner struct {
	lister   provider.DelimiterLister
	flat     provider.Provider
	pattern  *glob.Pattern
	matcher  *glob.PrefixMatcher
	cfg      Config
	limiter  *rate.Limiter
	writer   output.Writer // optional, may be nil

	listCalls       atomic.Int64
	objectsExamined atomic.Int64
	objectsMatched  atomic.Int64
	errorCount      atomic.Int64
	peakFrontier    atomic.Int64
}

// ErrNoDelimiterSupport is returned by New when p does not implement
// provider.DelimiterLister.
var ErrNoDelimiterSupport = errors.New("scanner: provider does not support delimiter listing")

// New builds a Scanner over p for pattern. writer is optional; when non-nil,
// non-fatal per-prefix errors are emitted as error records.
func New(p provider.Provider, pattern *glob.Pattern, cfg Config, writer output.Writer) (*Scanner, error) {
	lister, ok := p.(provider.DelimiterLister)
	if !ok {
		return nil, ErrNoDelimiterSupport
	}

	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = DefaultMaxParallelism
	}
	if cfg.MinParallelism <= 0 {
		cfg.MinParallelism = DefaultMinParallelism
	}
	if cfg.ExpansionCap <= 0 {
		cfg.ExpansionCap = DefaultExpansionCap
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.QueueHighWaterMark <= 0 {
		cfg.QueueHighWaterMark = DefaultQueueHighWaterMark
	}

	s := &Scanner{
		lister:  lister,
		flat:    p,
		pattern: pattern,
		matcher: glob.NewPrefixMatcher(pattern),
		cfg:     cfg,
		writer:  writer,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s, nil
}

// scanTask is one unit of scanner work: a concrete prefix to subdivide or
// walk, depending on recursive.
type scanTask struct {
	prefix    string
	recursive bool
}

// Scan runs the pattern's frontier to completion, streaming every matched
// object on the returned channel. The error channel receives at most one
// fatal error (context cancellation, or a non-recoverable provider failure);
// non-fatal per-prefix failures are reported via the optional writer and
// folded into Summary.Errors instead.
//
// Both channels are closed when the scan completes. Callers should drain
// the object channel until closed before inspecting the error channel.
func (s *Scanner) Scan(ctx context.Context) (<-chan MatchedObject, <-chan error) {
	out := make(chan MatchedObject, 1024)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		start := time.Now()
		if err := s.run(ctx, out); err != nil {
			errc <- err
		}
		_ = start
	}()

	return out, errc
}

// ScanSummary runs Scan to completion, collecting every match, and returns
// diagnostics. Intended for tests and for callers that don't need to
// stream incrementally.
func (s *Scanner) ScanSummary(ctx context.Context) ([]MatchedObject, *Summary, error) {
	start := time.Now()
	out, errc := s.Scan(ctx)

	var matches []MatchedObject
	for m := range out {
		matches = append(matches, m)
	}
	err := <-errc

	summary := &Summary{
		ObjectsExamined: s.objectsExamined.Load(),
		ObjectsMatched:  s.objectsMatched.Load(),
		ListCalls:       s.listCalls.Load(),
		PeakFrontier:    s.peakFrontier.Load(),
		Errors:          s.errorCount.Load(),
		Duration:        time.Since(start),
	}
	return matches, summary, err
}

func (s *Scanner) run(ctx context.Context, out chan<- MatchedObject) error {
	gen, err := prefixgen.Generate(s.pattern, s.cfg.ExpansionCap)
	var capErr *prefixgen.CapExceededError
	if err != nil && !errors.As(err, &capErr) {
		return err
	}
	if int64(gen.PeakFrontier) > s.peakFrontier.Load() {
		s.peakFrontier.Store(int64(gen.PeakFrontier))
	}

	initial := make([]scanTask, 0, len(gen.Frontier))
	for _, node := range gen.Frontier {
		if node.Done() {
			if err := s.checkLiteral(ctx, node.Literal, out); err != nil {
				return err
			}
			continue
		}
		initial = append(initial, scanTask{prefix: node.Literal, recursive: headIsRecursive(node.Remaining)})
	}

	if len(initial) == 0 {
		return nil
	}

	workers := s.cfg.MinParallelism
	if len(initial) > workers {
		workers = len(initial)
	}
	if workers > s.cfg.MaxParallelism {
		workers = s.cfg.MaxParallelism
	}

	q := newTaskQueue(s.cfg.QueueHighWaterMark)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Force-closes the queue on cancellation even if outstanding work never
	// drains pending to zero on its own (e.g. the initial push loop below
	// aborts before queuing anything), so workers blocked in pop() don't
	// wait forever.
	go func() {
		<-runCtx.Done()
		q.shutdown()
	}()

	var wg sync.WaitGroup
	var fatalOnce sync.Once
	var fatalErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.pop()
				if !ok {
					return
				}
				if err := s.processTask(runCtx, task, q, out); err != nil {
					fatalOnce.Do(func() {
						fatalErr = err
						cancel()
					})
				}
				q.done()
				if int64(q.live()) > s.peakFrontier.Load() {
					s.peakFrontier.Store(int64(q.live()))
				}
			}
		}()
	}

	// Pushed after workers start: push blocks once the queue reaches its
	// high-water mark, and only a running worker's pop()/done() frees space.
	for _, t := range initial {
		if err := q.push(runCtx, t); err != nil {
			fatalOnce.Do(func() {
				fatalErr = err
				cancel()
			})
			break
		}
	}

	wg.Wait()

	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}

// headIsRecursive reports whether the first remaining atom is a DoubleStar,
// meaning this frontier node must be walked recursively rather than
// subdivided level by level.
func headIsRecursive(remaining []glob.Atom) bool {
	if len(remaining) == 0 {
		return false
	}
	_, ok := remaining[0].(glob.DoubleStar)
	return ok
}

// checkLiteral confirms whether a fully-literal frontier node names an
// object that actually exists, with a single List call (spec §8 invariant
// I3: a literal pattern issues at most one list call).
func (s *Scanner) checkLiteral(ctx context.Context, key string, out chan<- MatchedObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.waitRateLimit(ctx); err != nil {
		return err
	}
	var result *provider.ListResult
	var err error
	delay := s.cfg.RetryBaseDelay
	for attempt := 0; ; attempt++ {
		s.listCalls.Add(1)
		result, err = s.flat.List(ctx, provider.ListOptions{Prefix: key, MaxKeys: 1})
		if err == nil || attempt == s.cfg.MaxRetries || (!provider.IsThrottled(err) && !provider.IsProviderUnavailable(err)) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil {
		s.reportError(ctx, err, key)
		return nil
	}
	for _, obj := range result.Objects {
		s.objectsExamined.Add(1)
		if obj.Key == key {
			s.objectsMatched.Add(1)
			select {
			case out <- MatchedObject{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// processTask lists one prefix (delimited subdivision, or a flat recursive
// walk) and pushes compatible children back onto the queue.
func (s *Scanner) processTask(ctx context.Context, task scanTask, q *taskQueue, out chan<- MatchedObject) error {
	if task.recursive {
		return s.walkRecursive(ctx, task.prefix, out)
	}
	return s.subdivide(ctx, task, q, out)
}

func (s *Scanner) subdivide(ctx context.Context, task scanTask, q *taskQueue, out chan<- MatchedObject) error {
	var token string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.waitRateLimit(ctx); err != nil {
			return err
		}

		result, err := s.listWithRetry(ctx, task.prefix, token)
		if err != nil {
			if isRecoverable(err) {
				s.reportError(ctx, err, task.prefix)
				return nil
			}
			return err
		}

		for _, obj := range result.Objects {
			s.objectsExamined.Add(1)
			if s.pattern.Match(obj.Key) {
				s.objectsMatched.Add(1)
				select {
				case out <- MatchedObject{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		for _, cp := range result.CommonPrefixes {
			ok, recursive := s.matcher.Compatible(cp)
			if !ok {
				continue
			}
			if err := q.push(ctx, scanTask{prefix: cp, recursive: recursive}); err != nil {
				return err
			}
		}

		if !result.IsTruncated || result.ContinuationToken == "" {
			return nil
		}
		token = result.ContinuationToken
	}
}

// walkRecursive lists prefix without a delimiter, matching every object
// against the full pattern regex. Used once a DoubleStar atom is live,
// since further delimiter subdivision would gain nothing (spec §9).
func (s *Scanner) walkRecursive(ctx context.Context, prefix string, out chan<- MatchedObject) error {
	var token string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.waitRateLimit(ctx); err != nil {
			return err
		}

		var result *provider.ListResult
		var err error
		delay := s.cfg.RetryBaseDelay
		for attempt := 0; ; attempt++ {
			s.listCalls.Add(1)
			result, err = s.flat.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
			if err == nil || attempt == s.cfg.MaxRetries || (!provider.IsThrottled(err) && !provider.IsProviderUnavailable(err)) {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err != nil {
			if isRecoverable(err) {
				s.reportError(ctx, err, prefix)
				return nil
			}
			return err
		}

		for _, obj := range result.Objects {
			s.objectsExamined.Add(1)
			if s.pattern.Match(obj.Key) {
				s.objectsMatched.Add(1)
				select {
				case out <- MatchedObject{Key: obj.Key, Size: obj.Size, ETag: obj.ETag, LastModified: obj.LastModified}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if !result.IsTruncated || result.ContinuationToken == "" {
			return nil
		}
		token = result.ContinuationToken
	}
}

// listWithRetry issues one ListWithDelimiter call, retrying TransientIO
// errors (throttling, provider unavailability) with exponential backoff.
func (s *Scanner) listWithRetry(ctx context.Context, prefix, token string) (*provider.ListWithDelimiterResult, error) {
	var lastErr error
	delay := s.cfg.RetryBaseDelay

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		s.listCalls.Add(1)
		result, err := s.lister.ListWithDelimiter(ctx, provider.ListWithDelimiterOptions{
			Prefix:            prefix,
			Delimiter:         string(s.pattern.Delimiter),
			ContinuationToken: token,
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !provider.IsThrottled(err) && !provider.IsProviderUnavailable(err) {
			return nil, err
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

func (s *Scanner) waitRateLimit(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// isRecoverable reports whether err should be reported and the affected
// prefix skipped, rather than aborting the whole scan (spec §7: TransientIO
// after retries exhausted, AccessDenied, NotFound on a sub-prefix are
// non-fatal; everything else is Fatal).
func isRecoverable(err error) bool {
	return provider.IsAccessDenied(err) ||
		provider.IsNotFound(err) ||
		provider.IsThrottled(err) ||
		provider.IsProviderUnavailable(err)
}

func (s *Scanner) reportError(ctx context.Context, err error, prefix string) {
	s.errorCount.Add(1)
	if s.writer == nil {
		return
	}
	code := output.ErrCodeInternal
	switch {
	case provider.IsAccessDenied(err):
		code = output.ErrCodeAccessDenied
	case provider.IsNotFound(err):
		code = output.ErrCodeNotFound
	case provider.IsThrottled(err):
		code = output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		code = output.ErrCodeProviderUnavailable
	}
	_ = s.writer.WriteError(ctx, &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Prefix:  prefix,
	})
}

// taskQueue is a bounded, dynamically-growing work queue: workers pop a
// task, may push zero or more child tasks while processing it, then mark it
// done. The queue has to grow dynamically rather than be a fixed-capacity
// channel because a subdivided prefix requeues an a priori unknown number
// of children, but it still has to cap outstanding memory the same way the
// teacher's bounded channel between pipeline stages does
// (`listCh := make(chan objectItem, c.config.ChannelBuffer)`,
// pkg/crawler/crawler.go:280): push acquires one token from a
// highWaterMark-sized semaphore channel before queuing a task, and done
// releases it once that task's own processing has finished (each child it
// pushed holds a token of its own), so the combined backlog of queued-plus-in-flight tasks can never
// exceed highWaterMark (spec §4.3 "backpressure", §5 "memory bound"). push
// is context-aware so a blocked producer unblocks on cancellation instead of
// risking every worker wedging against a full queue during shutdown. The
// queue closes itself once no task is pending and none is being processed,
// which is what lets a fixed worker pool drain a frontier whose size isn't
// known up front.
type taskQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []scanTask
	pending int // queued + in-flight
	closed  bool
	sem     chan struct{} // one token per unit of backlog capacity
}

func newTaskQueue(highWaterMark int) *taskQueue {
	if highWaterMark <= 0 {
		highWaterMark = DefaultQueueHighWaterMark
	}
	q := &taskQueue{sem: make(chan struct{}, highWaterMark)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) push(ctx context.Context, t scanTask) error {
	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.mu.Lock()
	q.items = append(q.items, t)
	q.pending++
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

func (q *taskQueue) pop() (scanTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return scanTask{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *taskQueue) done() {
	q.mu.Lock()
	q.pending--
	if q.pending == 0 {
		q.closed = true
	}
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.sem // release this task's backlog slot
}

// shutdown force-closes the queue regardless of pending count, waking every
// blocked pop() so a cancelled run doesn't leave workers waiting forever on
// a queue that will never naturally drain to zero-pending.
func (q *taskQueue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *taskQueue) live() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}
