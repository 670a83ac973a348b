package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixMatcherLiteral(t *testing.T) {
	p, err := Compile("logs/2024/01/report.csv")
	require.NoError(t, err)
	m := NewPrefixMatcher(p)

	ok, recursive := m.Compatible("logs/2024/01/")
	assert.True(t, ok)
	assert.False(t, recursive)

	ok, _ = m.Compatible("logs/2025/")
	assert.False(t, ok)
}

func TestPrefixMatcherStarLeaf(t *testing.T) {
	p, err := Compile("logs/2024/*.csv")
	require.NoError(t, err)
	m := NewPrefixMatcher(p)

	ok, _ := m.Compatible("logs/2024/report")
	assert.True(t, ok)

	ok, _ = m.Compatible("logs/2024/report/sub")
	assert.False(t, ok, "star may not cross the delimiter")
}

func TestPrefixMatcherDoubleStarIsRecursive(t *testing.T) {
	p, err := Compile("archive/**/*.log")
	require.NoError(t, err)
	m := NewPrefixMatcher(p)

	ok, recursive := m.Compatible("archive/a/b/c/")
	assert.True(t, ok)
	assert.True(t, recursive)
}

func TestPrefixMatcherNegatedClassAndAlternation(t *testing.T) {
	p, err := Compile("data/[!0-9]*/{a,b}.json")
	require.NoError(t, err)
	m := NewPrefixMatcher(p)

	ok, _ := m.Compatible("data/x")
	assert.True(t, ok)

	ok, _ = m.Compatible("data/9")
	assert.False(t, ok)
}

func TestPrefixMatcherPrunesIncompatibleBranch(t *testing.T) {
	p, err := Compile("data/[abc]/file.txt")
	require.NoError(t, err)
	m := NewPrefixMatcher(p)

	ok, _ := m.Compatible("data/a/")
	assert.True(t, ok)
	ok, _ = m.Compatible("data/d/")
	assert.False(t, ok)
}
