// Package downloader persists a stream of matched S3 objects to the local
// filesystem (spec §4.4).
//
// Downloads are dispatched across per-prefix worker pools so a slow or
// throttled "directory" can't head-of-line block unrelated downloads, and
// every write goes through a temp-file-then-rename discipline so a failed
// or interrupted transfer never leaves a partial file at its final path.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quodlibetor/s3glob/pkg/output"
	"github.com/quodlibetor/s3glob/pkg/provider"
)

// DefaultPoolCount is the number of per-prefix worker pools (spec §4.4 "P").
const DefaultPoolCount = 8

// DefaultPerPoolConcurrency is the concurrent GET limit within one pool
// (spec §4.4 "K").
const DefaultPerPoolConcurrency = 16

// Object is one item to download. It mirrors pkg/scanner.MatchedObject
// without importing it, keeping downloader independently testable.
type Object struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Config configures a Downloader.
type Config struct {
	PathMode       PathMode
	Flatten        bool
	DestinationDir string
	LiteralPrefix  string // pattern's §3 literal prefix, for from-first-glob mode

	PoolCount          int
	PerPoolConcurrency int

	MaxRetries     int
	RetryBaseDelay time.Duration
}

// DefaultConfig returns spec-default downloader tuning.
func DefaultConfig() Config {
	return Config{
		PathMode:           PathModeAbsolute,
		PoolCount:          DefaultPoolCount,
		PerPoolConcurrency: DefaultPerPoolConcurrency,
		MaxRetries:         3,
		RetryBaseDelay:     200 * time.Millisecond,
	}
}

// Summary reports download diagnostics (spec §4.4 progress counters).
type Summary struct {
	ObjectsQueued    int64
	ObjectsCompleted int64
	BytesTransferred int64
	Errors           int64
	Duration         time.Duration
}

// Downloader fetches matched objects and writes them under DestinationDir.
type Downloader struct {
	getter   provider.ObjectGetter
	writer   output.Writer
	cfg      Config
	resolver *pathResolver

	pools []chan struct{}

	queued    atomic.Int64
	completed atomic.Int64
	bytes     atomic.Int64
	errs      atomic.Int64
}

// New builds a Downloader. getter is typically an S3 provider asserted to
// provider.ObjectGetter; writer is optional.
func New(getter provider.ObjectGetter, writer output.Writer, cfg Config) *Downloader {
	if cfg.PoolCount <= 0 {
		cfg.PoolCount = DefaultPoolCount
	}
	if cfg.PerPoolConcurrency <= 0 {
		cfg.PerPoolConcurrency = DefaultPerPoolConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.PathMode == "" {
		cfg.PathMode = PathModeAbsolute
	}

	pools := make([]chan struct{}, cfg.PoolCount)
	for i := range pools {
		pools[i] = make(chan struct{}, cfg.PerPoolConcurrency)
	}

	return &Downloader{
		getter:   getter,
		writer:   writer,
		cfg:      cfg,
		resolver: newPathResolver(cfg.PathMode, cfg.DestinationDir, cfg.LiteralPrefix, cfg.Flatten),
		pools:    pools,
	}
}

// Run downloads every object received on in until it closes, or ctx is
// cancelled. It returns once every dispatched download has completed (or
// been abandoned on cancellation).
func (d *Downloader) Run(ctx context.Context, in <-chan Object) (*Summary, error) {
	start := time.Now()

	var wg sync.WaitGroup
	var fatalOnce sync.Once
	var fatalErr error

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

loop:
	for {
		select {
		case obj, ok := <-in:
			if !ok {
				break loop
			}
			d.queued.Add(1)
			pool := d.pools[poolIndex(obj.Key, len(d.pools))]

			select {
			case pool <- struct{}{}:
			case <-runCtx.Done():
				break loop
			}

			// Paths are resolved here, in arrival order, because the
			// resolver is not safe for concurrent use.
			localPath := d.resolver.resolve(obj.Key)

			wg.Add(1)
			go func(obj Object) {
				defer wg.Done()
				defer func() { <-pool }()

				if err := d.downloadOne(runCtx, obj, localPath); err != nil {
					if isFatal(err) {
						fatalOnce.Do(func() {
							fatalErr = err
							cancel()
						})
					}
				}
			}(obj)
		case <-runCtx.Done():
			break loop
		}
	}

	wg.Wait()

	summary := &Summary{
		ObjectsQueued:    d.queued.Load(),
		ObjectsCompleted: d.completed.Load(),
		BytesTransferred: d.bytes.Load(),
		Errors:           d.errs.Load(),
		Duration:         time.Since(start),
	}

	if fatalErr != nil {
		return summary, fatalErr
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// downloadOne fetches and writes a single object, retrying transient
// failures with exponential backoff. Non-retryable errors (NotFound,
// AccessDenied) fail that object without aborting the run (spec §4.4).
func (d *Downloader) downloadOne(ctx context.Context, obj Object, localPath string) error {
	var lastErr error
	delay := d.cfg.RetryBaseDelay
	attempts := 0

	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		attempts = attempt
		err := d.fetchAndWrite(ctx, obj.Key, localPath)
		if err == nil {
			d.completed.Add(1)
			d.bytes.Add(obj.Size)
			d.reportDone(ctx, obj, localPath, true, "", attempt, nil)
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == d.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempts = d.cfg.MaxRetries
		case <-time.After(delay):
		}
		delay *= 2
	}

	d.errs.Add(1)
	d.reportDone(ctx, obj, localPath, false, classifyDownloadError(lastErr), attempts, lastErr)
	return lastErr
}

// fetchAndWrite streams the object to a temp file beside localPath, then
// renames it into place. On any failure the temp file is removed so a
// partial download never occupies the final path (spec §4.4, §5 cancellation).
func (d *Downloader) fetchAndWrite(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &LocalIOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(localPath)+".part-*")
	if err != nil {
		return &LocalIOError{Op: "create_temp", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	body, _, err := d.getter.GetObject(ctx, key)
	if err != nil {
		cleanup()
		return err
	}
	defer body.Close()

	if _, err := io.Copy(tmp, body); err != nil {
		cleanup()
		return &LocalIOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &LocalIOError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return &LocalIOError{Op: "rename", Path: localPath, Err: err}
	}
	return nil
}

func (d *Downloader) reportDone(ctx context.Context, obj Object, localPath string, success bool, errCode string, retries int, cause error) {
	if d.writer == nil {
		return
	}
	rec := &output.DownloadRecord{
		Key:     obj.Key,
		Path:    localPath,
		Size:    obj.Size,
		Success: success,
		Retries: retries,
	}
	if !success {
		rec.ErrorCode = errCode
		if cause != nil {
			rec.ErrorMessage = cause.Error()
		}
	}
	_ = d.writer.WriteDownload(ctx, rec)
}

// poolIndex maps a key's directory onto one of n pools, so objects in the
// same logical directory share a pool (and its concurrency limit) while
// unrelated directories don't contend (spec §4.4 "per-bucket-prefix worker
// pools").
func poolIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	dir := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		dir = key[:idx]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(dir))
	return int(h.Sum32() % uint32(n))
}

func isRetryable(err error) bool {
	return provider.IsThrottled(err) || provider.IsProviderUnavailable(err)
}

// isFatal reports whether err should abort the whole run rather than just
// failing this object (spec §7: AccessDenied/NotFound on one object is
// Fatal to *that object*, not the run; context cancellation is fatal).
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func classifyDownloadError(err error) string {
	switch {
	case provider.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeProviderUnavailable
	}
	var localIOErr *LocalIOError
	if errors.As(err, &localIOErr) {
		return output.ErrCodeLocalIO
	}
	return output.ErrCodeInternal
}

// LocalIOError wraps a filesystem failure during download (spec §7 LocalIO).
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("downloader: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}
