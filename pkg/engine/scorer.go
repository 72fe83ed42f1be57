package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rannes/pact-stub-server/internal/index"
	"github.com/rannes/pact-stub-server/internal/matching"
)

// scoreParallelism caps the number of candidates scored concurrently
// for one request.
const scoreParallelism = 32

// scoredCandidate pairs a candidate with its mismatch list. The rank
// travels with the result so out-of-order completion cannot change the
// final pick.
type scoredCandidate struct {
	candidate  index.Candidate
	mismatches []matching.Mismatch
	done       bool
}

func (s scoredCandidate) score() int {
	return len(s.mismatches)
}

// scoreCandidates runs the full matcher over every candidate on a
// bounded pool of goroutines. Scoring has no side effects, so on
// cancellation the partial results are simply discarded.
func scoreCandidates(ctx context.Context, candidates []index.Candidate, actual *matching.Request) ([]scoredCandidate, error) {
	results := make([]scoredCandidate, len(candidates))

	sem := make(chan struct{}, scoreParallelism)
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c index.Candidate) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			results[i] = scoredCandidate{
				candidate:  c,
				mismatches: matching.MatchRequest(&c.Interaction.Request, actual),
				done:       true,
			}
		}(i, c)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// pickWinner selects the perfect match with the lowest rank and counts
// how many perfect matches there were.
func pickWinner(results []scoredCandidate) (*scoredCandidate, int) {
	var winner *scoredCandidate
	perfect := 0
	for i := range results {
		r := &results[i]
		if !r.done || r.score() != 0 {
			continue
		}
		perfect++
		if winner == nil || r.candidate.Rank < winner.candidate.Rank {
			winner = r
		}
	}
	return winner, perfect
}

// closestMatches returns the best partial matches ordered by
// (score, rank), capped for the 404 diagnostic body.
func closestMatches(results []scoredCandidate) []scoredCandidate {
	const maxClosest = 3

	var partials []scoredCandidate
	for _, r := range results {
		if r.done && r.score() > 0 {
			partials = append(partials, r)
		}
	}
	sort.Slice(partials, func(i, j int) bool {
		if partials[i].score() != partials[j].score() {
			return partials[i].score() < partials[j].score()
		}
		return partials[i].candidate.Rank < partials[j].candidate.Rank
	})
	if len(partials) > maxClosest {
		partials = partials[:maxClosest]
	}
	return partials
}
