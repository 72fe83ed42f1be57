package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rannes/pact-stub-server/internal/index"
	"github.com/rannes/pact-stub-server/internal/matching"
	"github.com/rannes/pact-stub-server/pkg/contract"
)

func scorerCandidates(paths ...string) []index.Candidate {
	cands := make([]index.Candidate, len(paths))
	for i, p := range paths {
		cands[i] = index.Candidate{
			Rank: i,
			Interaction: &contract.Interaction{
				ID:      p,
				Request: contract.Request{Method: "GET", Path: p},
			},
		}
	}
	return cands
}

func scorerRequest(t *testing.T, rawPath string) *matching.Request {
	t.Helper()
	normalized, segments, err := matching.NormalizePath(rawPath)
	require.NoError(t, err)
	return &matching.Request{
		Method:   "GET",
		Path:     normalized,
		Segments: segments,
	}
}

func TestScoreCandidates(t *testing.T) {
	cands := scorerCandidates("/match", "/no-match", "/match")
	results, err := scoreCandidates(context.Background(), cands, scorerRequest(t, "/match"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Zero(t, results[0].score())
	assert.NotZero(t, results[1].score())
	assert.Zero(t, results[2].score())
}

func TestScoreCandidatesManyCandidates(t *testing.T) {
	// Exceed the parallelism cap to exercise the bounded pool.
	paths := make([]string, 100)
	for i := range paths {
		paths[i] = "/match"
	}
	results, err := scoreCandidates(context.Background(), scorerCandidates(paths...), scorerRequest(t, "/match"))
	require.NoError(t, err)
	require.Len(t, results, 100)
	for _, r := range results {
		assert.True(t, r.done)
		assert.Zero(t, r.score())
	}
}

func TestScoreCandidatesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scoreCandidates(ctx, scorerCandidates("/a", "/b"), scorerRequest(t, "/a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScoreCandidatesDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := scoreCandidates(ctx, scorerCandidates("/a"), scorerRequest(t, "/a"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPickWinnerRespectsRank(t *testing.T) {
	results := []scoredCandidate{
		{candidate: index.Candidate{Rank: 2, Interaction: &contract.Interaction{ID: "c"}}, done: true},
		{candidate: index.Candidate{Rank: 0, Interaction: &contract.Interaction{ID: "a"}}, done: true},
		{candidate: index.Candidate{Rank: 1, Interaction: &contract.Interaction{ID: "b"}}, done: true},
	}

	winner, perfect := pickWinner(results)
	require.NotNil(t, winner)
	assert.Equal(t, 3, perfect)
	assert.Equal(t, "a", winner.candidate.Interaction.ID)
}

func TestPickWinnerIgnoresPartials(t *testing.T) {
	results := []scoredCandidate{
		{
			candidate:  index.Candidate{Rank: 0, Interaction: &contract.Interaction{ID: "partial"}},
			mismatches: []matching.Mismatch{{Kind: matching.MismatchBody}},
			done:       true,
		},
		{candidate: index.Candidate{Rank: 1, Interaction: &contract.Interaction{ID: "perfect"}}, done: true},
	}

	winner, perfect := pickWinner(results)
	require.NotNil(t, winner)
	assert.Equal(t, 1, perfect)
	assert.Equal(t, "perfect", winner.candidate.Interaction.ID)
}

func TestPickWinnerNone(t *testing.T) {
	results := []scoredCandidate{
		{
			candidate:  index.Candidate{Rank: 0, Interaction: &contract.Interaction{ID: "partial"}},
			mismatches: []matching.Mismatch{{Kind: matching.MismatchQuery}},
			done:       true,
		},
	}
	winner, perfect := pickWinner(results)
	assert.Nil(t, winner)
	assert.Zero(t, perfect)
}

func TestClosestMatchesOrderedByScoreThenRank(t *testing.T) {
	results := []scoredCandidate{
		{
			candidate:  index.Candidate{Rank: 0, Interaction: &contract.Interaction{ID: "worst"}},
			mismatches: make([]matching.Mismatch, 5),
			done:       true,
		},
		{
			candidate:  index.Candidate{Rank: 1, Interaction: &contract.Interaction{ID: "best"}},
			mismatches: make([]matching.Mismatch, 1),
			done:       true,
		},
		{
			candidate:  index.Candidate{Rank: 2, Interaction: &contract.Interaction{ID: "tied"}},
			mismatches: make([]matching.Mismatch, 1),
			done:       true,
		},
		{candidate: index.Candidate{Rank: 3, Interaction: &contract.Interaction{ID: "perfect"}}, done: true},
	}

	closest := closestMatches(results)
	require.Len(t, closest, 3)
	assert.Equal(t, "best", closest[0].candidate.Interaction.ID)
	assert.Equal(t, "tied", closest[1].candidate.Interaction.ID)
	assert.Equal(t, "worst", closest[2].candidate.Interaction.ID)
}
