package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathResolverAbsoluteMode(t *testing.T) {
	r := newPathResolver(PathModeAbsolute, "out", "", false)
	assert.Equal(t, "out/proj/2024/a.txt", r.resolve("proj/2024/a.txt"))
}

func TestPathResolverFromFirstGlobStripsLiteralPrefix(t *testing.T) {
	r := newPathResolver(PathModeFromFirstGlob, "out", "proj/2024/", false)
	assert.Equal(t, "out/a.txt", r.resolve("proj/2024/a.txt"))
}

func TestPathResolverFlattenReplacesSlashes(t *testing.T) {
	r := newPathResolver(PathModeFromFirstGlob, "out", "proj/", true)
	assert.Equal(t, "out/2024-a.txt", r.resolve("proj/2024/a.txt"))
}

func TestPathResolverShortestStripsCommonDirectory(t *testing.T) {
	r := newPathResolver(PathModeShortest, "out", "", false)
	assert.Equal(t, "out/a.txt", r.resolve("proj/2024/a.txt"))
	assert.Equal(t, "out/b.txt", r.resolve("proj/2024/b.txt"))
}

func TestPathResolverShortestRecomputesOnDisagreement(t *testing.T) {
	r := newPathResolver(PathModeShortest, "out", "", false)
	assert.Equal(t, "out/a.txt", r.resolve("proj/2024/a.txt"))
	assert.Equal(t, "out/b.txt", r.resolve("proj/2024/b.txt"))
	// A later key outside proj/2024/ shrinks the shared prefix down to
	// "proj/"; only this and subsequent keys reflect the shorter prefix.
	assert.Equal(t, "out/2025/c.txt", r.resolve("proj/2025/c.txt"))
}

func TestPathResolverCollisionGetsNumericSuffix(t *testing.T) {
	// Flattening can make two distinct keys land on the same local name.
	r := newPathResolver(PathModeAbsolute, "out", "", true)
	assert.Equal(t, "out/a-b.txt", r.resolve("a/b.txt"))
	assert.Equal(t, "out/a-b (1).txt", r.resolve("a-b.txt"))
}

func TestSuffixedInsertsBeforeExtension(t *testing.T) {
	assert.Equal(t, "out/a (1).txt", suffixed("out/a.txt", 1))
	assert.Equal(t, "out/a (2)", suffixed("out/a", 2))
}

func TestCommonPrefixTruncatesToDelimiterBoundary(t *testing.T) {
	assert.Equal(t, "proj/2024/", commonPrefix([]string{"proj/2024/a.txt", "proj/2024/b.txt"}))
	assert.Equal(t, "proj/", commonPrefix([]string{"proj/2024/a.txt", "proj/2025/a.txt"}))
}
