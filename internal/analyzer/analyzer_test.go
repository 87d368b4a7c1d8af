package analyzer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanLine(t *testing.T) {
	assert.Equal(t, "Error: boom",
		cleanLine("2020-01-01 10:00:00,123 - STDERR: Error: boom"))
	assert.Equal(t, "plain line", cleanLine("  plain \t line  "))
	assert.Equal(t, "", cleanLine("   "))
}

func TestCompareLine(t *testing.T) {
	// Query tails are cut so per-job URL parameters do not fragment groups.
	assert.Equal(t, "GET https://api.example.com/v1/data?",
		compareLine("GET https://api.example.com/v1/data?job=17 failed"))
	assert.Equal(t, "no url here", compareLine("no url here"))
}

func TestUniqueLinesDedupes(t *testing.T) {
	pairs := uniqueLines("a\nb\na\n\nb")
	require.Len(t, pairs, 2)
	assert.Equal(t, "a", pairs[0].clean)
	assert.Equal(t, "b", pairs[1].clean)

	assert.Nil(t, uniqueLines(""))
}

func TestRankErrorsGroupsByJobSet(t *testing.T) {
	groups := RankErrors([]JobOutput{
		{ID: "j1", Output: "line1\nline2\nlineX"},
		{ID: "j2", Output: "line1\nline3\nlineX"},
	})
	require.Len(t, groups, 3)

	// line1 and lineX appear in both jobs: one group, score 0 (their
	// trigrams are in every job, so entropy is 0 and clamps to 1).
	shared := groups[0]
	assert.InDelta(t, 0, shared.Score, 1e-9)
	assert.Equal(t, []string{"j1", "j2"}, shared.JobIDs)
	require.Len(t, shared.CommonLines, 2)
	assert.Equal(t, "line1", shared.CommonLines[0].Line)
	assert.Equal(t, "lineX", shared.CommonLines[1].Line)

	// The job-specific lines each form their own group with a negative
	// score: one distinguishing trigram at probability 1/2, over 4 distinct
	// lines.
	want := math.Log(0.5) / 4
	assert.Equal(t, "line2", groups[1].Line)
	assert.InDelta(t, want, groups[1].Score, 1e-9)
	assert.Equal(t, []string{"j1"}, groups[1].JobIDs)
	assert.Equal(t, "line3", groups[2].Line)
	assert.InDelta(t, want, groups[2].Score, 1e-9)
	assert.Equal(t, []string{"j2"}, groups[2].JobIDs)
}

func TestRankErrorsSingleJob(t *testing.T) {
	groups := RankErrors([]JobOutput{
		{ID: "j1", Output: "This is a line\nAnd the next one\nAnd the next one"},
	})
	require.Len(t, groups, 1)
	assert.InDelta(t, 0, groups[0].Score, 1e-9)
	assert.Equal(t, []string{"j1"}, groups[0].JobIDs)
	assert.Len(t, groups[0].CommonLines, 2)
}

func TestRankErrorsMergesURLVariants(t *testing.T) {
	groups := RankErrors([]JobOutput{
		{ID: "j1", Output: "fetch https://svc.example.com/data?job=1 timed out"},
		{ID: "j2", Output: "fetch https://svc.example.com/data?job=2 timed out"},
	})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"j1", "j2"}, groups[0].JobIDs)
	// The displayed line is the clean form of the first occurrence.
	assert.Equal(t, "fetch https://svc.example.com/data?job=1 timed out", groups[0].Line)
}

func TestRankErrorsEmpty(t *testing.T) {
	assert.Empty(t, RankErrors(nil))
	assert.Empty(t, RankErrors([]JobOutput{{ID: "j1", Output: ""}}))
}
