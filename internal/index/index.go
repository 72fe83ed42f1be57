package index

import (
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rannes/pact-stub-server/internal/matching"
	"github.com/rannes/pact-stub-server/pkg/contract"
)

type exactKey struct {
	method string
	path   string
}

// Candidate pairs an interaction with its deterministic rank within one
// narrowing result: exact hits first in index order, templated hits
// after, also in index order.
type Candidate struct {
	Rank        int
	Interaction *contract.Interaction
}

// Index is the immutable interaction index.
type Index struct {
	all       []*contract.Interaction
	exact     map[exactKey][]int
	templated []int
	segments  [][]string // pre-split expected path per interaction (templated only)
	byID      map[string]*contract.Interaction
}

// Build constructs an Index from a contract set. The set is not
// retained; interactions are shared by reference and must not be
// mutated afterwards.
func Build(set *contract.Set, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}

	idx := &Index{
		exact: make(map[exactKey][]int),
		byID:  make(map[string]*contract.Interaction),
	}

	seen := make(map[string]string) // duplicate detection: key+states -> first ID

	for _, in := range set.Interactions {
		pos := len(idx.all)
		idx.all = append(idx.all, in)
		idx.segments = append(idx.segments, nil)
		idx.byID[in.ID] = in

		if matching.IsTemplated(in.Request.Path) || !in.Request.Rules.Path.Empty() {
			idx.segments[pos] = matching.SplitExpected(in.Request.Path)
			idx.templated = append(idx.templated, pos)
			continue
		}

		normalized, _, err := matching.NormalizePath(in.Request.Path)
		if err != nil {
			// A literal path the normalizer rejects can never be
			// requested; fall back to segment matching so the
			// interaction is at least visible in diagnostics.
			log.Warn("interaction has malformed literal path",
				"id", in.ID, "path", in.Request.Path)
			idx.segments[pos] = matching.SplitExpected(in.Request.Path)
			idx.templated = append(idx.templated, pos)
			continue
		}

		key := exactKey{method: strings.ToUpper(in.Request.Method), path: normalized}
		dupKey := key.method + " " + key.path + " " + strings.Join(in.StateNames(), ",")
		if first, ok := seen[dupKey]; ok {
			log.Warn("duplicate interaction for method and path, first one wins",
				"first", first, "duplicate", in.ID,
				"method", key.method, "path", key.path)
		} else {
			seen[dupKey] = in.ID
		}
		idx.exact[key] = append(idx.exact[key], pos)
	}

	return idx
}

// Len returns the number of indexed interactions.
func (x *Index) Len() int {
	return len(x.all)
}

// ByID returns an interaction by its ID, or nil.
func (x *Index) ByID(id string) *contract.Interaction {
	return x.byID[id]
}

// Interactions returns all interactions in index order. The returned
// slice is shared; callers must not mutate it.
func (x *Index) Interactions() []*contract.Interaction {
	return x.all
}

// Candidates narrows the index to the interactions whose method and
// path could match the request: the exact bucket for (method, path)
// first, then every templated interaction whose pattern matches.
func (x *Index) Candidates(method, normalizedPath string, segments []string) []Candidate {
	var out []Candidate

	key := exactKey{method: strings.ToUpper(method), path: normalizedPath}
	for _, pos := range x.exact[key] {
		out = append(out, Candidate{Rank: len(out), Interaction: x.all[pos]})
	}

	for _, pos := range x.templated {
		in := x.all[pos]
		if matching.QuickPathMatch(&in.Request, x.segments[pos], method, normalizedPath, segments) {
			out = append(out, Candidate{Rank: len(out), Interaction: in})
		}
	}

	return out
}

// Stats summarizes the index for startup logging.
func (x *Index) Stats() (exact, templated int) {
	return len(x.all) - len(x.templated), len(x.templated)
}

// Keys returns the exact lookup keys in sorted order, for tests and
// debug logging.
func (x *Index) Keys() []string {
	keys := make([]string, 0, len(x.exact))
	for k := range x.exact {
		keys = append(keys, k.method+" "+k.path)
	}
	sort.Strings(keys)
	return keys
}

// Published holds the currently served index. Reloads swap the pointer
// atomically; readers always see a complete index and never block.
type Published struct {
	p atomic.Pointer[Index]
}

// NewPublished creates a Published handle serving idx.
func NewPublished(idx *Index) *Published {
	pub := &Published{}
	pub.p.Store(idx)
	return pub
}

// Load returns the current index snapshot.
func (p *Published) Load() *Index {
	return p.p.Load()
}

// Swap atomically replaces the served index. In-flight requests keep
// the snapshot they loaded.
func (p *Published) Swap(idx *Index) {
	p.p.Store(idx)
}
