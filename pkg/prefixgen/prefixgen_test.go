package prefixgen

import (
	"testing"

	"github.com/quodlibetor/s3glob/pkg/glob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, pattern string) *glob.Pattern {
	t.Helper()
	p, err := glob.Compile(pattern)
	require.NoError(t, err)
	return p
}

func TestGenerateLiteralPattern(t *testing.T) {
	p := compile(t, "logs/2024/01/report.csv")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	require.Len(t, res.Frontier, 1)
	assert.True(t, res.Frontier[0].Done())
	assert.Equal(t, "logs/2024/01/report.csv", res.Frontier[0].Literal)
}

func TestGenerateStarLeafStopsAtStar(t *testing.T) {
	p := compile(t, "logs/2024/*.csv")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	require.Len(t, res.Frontier, 1)
	assert.False(t, res.Frontier[0].Done())
	assert.Equal(t, "logs/2024/", res.Frontier[0].Literal)
	_, isStar := res.Frontier[0].Remaining[0].(glob.Star)
	assert.True(t, isStar)
}

func TestGenerateClassExpansion(t *testing.T) {
	p := compile(t, "data/[abc]/file.txt")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	require.Len(t, res.Frontier, 3)
	var got []string
	for _, n := range res.Frontier {
		got = append(got, n.Literal)
	}
	assert.ElementsMatch(t, []string{"data/a/file.txt", "data/b/file.txt", "data/c/file.txt"}, got)
	for _, n := range res.Frontier {
		assert.True(t, n.Done())
	}
}

func TestGenerateAlternationExpansion(t *testing.T) {
	p := compile(t, "data/{foo,bar}/out.json")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	var got []string
	for _, n := range res.Frontier {
		got = append(got, n.Literal)
	}
	assert.ElementsMatch(t, []string{"data/foo/out.json", "data/bar/out.json"}, got)
}

func TestGenerateNegatedClassDoesNotExpand(t *testing.T) {
	p := compile(t, "data/[!0-9]*/x.json")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	require.Len(t, res.Frontier, 1)
	assert.Equal(t, "data/", res.Frontier[0].Literal)
	_, isClass := res.Frontier[0].Remaining[0].(glob.Class)
	assert.True(t, isClass)
}

func TestGenerateDoubleStarStopsImmediately(t *testing.T) {
	p := compile(t, "archive/**/*.log")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	require.Len(t, res.Frontier, 1)
	assert.Equal(t, "archive/", res.Frontier[0].Literal)
	_, isDoubleStar := res.Frontier[0].Remaining[0].(glob.DoubleStar)
	assert.True(t, isDoubleStar)
}

func TestGenerateCapExceeded(t *testing.T) {
	p := compile(t, "data/[abcdefghij]/[abcdefghij]/file.txt")
	_, err := Generate(p, 5)
	require.Error(t, err)
	var capErr *CapExceededError
	assert.ErrorAs(t, err, &capErr)
}

func TestGeneratePeakFrontierTracksMaxSize(t *testing.T) {
	p := compile(t, "data/{a,b}/{x,y}/file.txt")
	res, err := Generate(p, 100)
	require.NoError(t, err)
	assert.Equal(t, 4, res.PeakFrontier)
}
