package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quodlibetor/s3glob/pkg/provider"
	"github.com/quodlibetor/s3glob/pkg/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errThrottled() error {
	return provider.ErrThrottled
}

func TestDownloaderWritesObjectsUnderDestination(t *testing.T) {
	dir := t.TempDir()

	p := memory.New("us-east-1")
	p.Put("proj/2024/a.txt", []byte("hello"))
	p.Put("proj/2024/b.txt", []byte("world"))

	cfg := DefaultConfig()
	cfg.DestinationDir = dir
	cfg.PathMode = PathModeFromFirstGlob
	cfg.LiteralPrefix = "proj/2024/"

	d := New(p, nil, cfg)

	in := make(chan Object, 2)
	in <- Object{Key: "proj/2024/a.txt", Size: 5}
	in <- Object{Key: "proj/2024/b.txt", Size: 5}
	close(in)

	summary, err := d.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.ObjectsCompleted)
	assert.Equal(t, int64(0), summary.Errors)

	contentA, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contentA))

	contentB, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(contentB))
}

func TestDownloaderLeavesNoPartialFileOnNotFound(t *testing.T) {
	dir := t.TempDir()

	p := memory.New("us-east-1")
	// Intentionally do not Put the object: GetObject returns ErrNotFound.

	cfg := DefaultConfig()
	cfg.DestinationDir = dir
	cfg.PathMode = PathModeAbsolute
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = 0

	d := New(p, nil, cfg)

	in := make(chan Object, 1)
	in <- Object{Key: "missing.txt", Size: 0}
	close(in)

	summary, err := d.Run(context.Background(), in)
	require.NoError(t, err) // object-level failure is non-fatal to the run
	assert.Equal(t, int64(1), summary.Errors)
	assert.Equal(t, int64(0), summary.ObjectsCompleted)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloaderRetriesThrottledThenSucceeds(t *testing.T) {
	dir := t.TempDir()

	p := memory.New("us-east-1")
	p.Put("a.txt", []byte("ok"))
	p.Err = errThrottled()
	p.ErrAfter = 1

	cfg := DefaultConfig()
	cfg.DestinationDir = dir
	cfg.PathMode = PathModeAbsolute
	cfg.RetryBaseDelay = 0

	d := New(p, nil, cfg)

	in := make(chan Object, 1)
	in <- Object{Key: "a.txt", Size: 2}
	close(in)

	summary, err := d.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.ObjectsCompleted)

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(content))
}

func TestPoolIndexGroupsByDirectory(t *testing.T) {
	a := poolIndex("dir1/a.txt", 8)
	b := poolIndex("dir1/b.txt", 8)
	assert.Equal(t, a, b)
}
