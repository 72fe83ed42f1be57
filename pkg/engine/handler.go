package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/rannes/pact-stub-server/internal/index"
	"github.com/rannes/pact-stub-server/internal/matching"
	"github.com/rannes/pact-stub-server/pkg/logging"
)

// Handler is the per-request dispatcher. It is safe for concurrent use;
// the published index is its only shared state.
type Handler struct {
	cfg Config
	pub *index.Published
	log *slog.Logger
}

// NewHandler creates a dispatcher serving the given published index.
func NewHandler(cfg Config, pub *index.Published, log *slog.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	return &Handler{cfg: cfg, pub: pub, log: log}
}

// ServeHTTP implements the dispatcher state machine: CORS fast path,
// narrowing, parallel scoring, winner pick, response build.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.With("request_id", uuid.NewString())
	log.Debug("received request", "method", r.Method, "path", r.URL.Path)

	// The matcher converts malformed input into mismatches, so a panic
	// here is a bug; answer 500 and keep the process serving.
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("internal matcher error", "panic", rec)
			h.writeInternalError(w)
		}
	}()

	if h.cfg.AutoCORS && r.Method == http.MethodOptions {
		h.writePreflight(w, r)
		return
	}

	normalized, segments, err := matching.NormalizePath(r.URL.EscapedPath())
	if err != nil {
		log.Warn("malformed request path", "path", r.URL.Path)
		h.writeBadRequest(w, "malformed path")
		return
	}

	idx := h.pub.Load()
	candidates := idx.Candidates(r.Method, normalized, segments)
	candidates = h.filterProviderState(candidates, r, log)
	if len(candidates) == 0 {
		log.Warn("no matching interaction", "method", r.Method, "path", normalized)
		h.writeNotFound(w, r.Method, normalized, nil)
		return
	}

	// The body is only consumed once narrowing produced a candidate,
	// capping the cost of pathological unmatched requests.
	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			log.Warn("failed to read request body", "error", err)
			body = nil
		}
	}
	actual := matching.FromHTTP(r, normalized, segments, body)

	ctx := r.Context()
	if h.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RequestTimeout)
		defer cancel()
	}

	results, err := scoreCandidates(ctx, candidates, actual)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error("matching deadline exceeded", "method", r.Method, "path", normalized)
			h.writeUnavailable(w)
			return
		}
		// Client is gone; write nothing.
		log.Debug("request cancelled during scoring")
		return
	}

	winner, perfect := pickWinner(results)
	if winner == nil {
		log.Warn("no matching interaction", "method", r.Method, "path", normalized,
			"candidates", len(candidates))
		h.writeNotFound(w, r.Method, normalized, closestMatches(results))
		return
	}
	if perfect > 1 {
		log.Warn("more than one interaction matched, using the first in index order",
			"method", r.Method, "path", normalized, "winner", winner.candidate.Interaction.ID)
	}

	log.Log(ctx, logging.LevelTrace, "serving interaction",
		"id", winner.candidate.Interaction.ID, "description", winner.candidate.Interaction.Description)
	h.writeResponse(w, winner.candidate.Interaction)
}

// filterProviderState applies the stage-2 filter. It only acts when the
// request carries the provider state header. A state matches when it
// equals the header value, or when the value compiles as a regular
// expression and the state matches it.
func (h *Handler) filterProviderState(candidates []index.Candidate, r *http.Request, log *slog.Logger) []index.Candidate {
	value := r.Header.Get(h.cfg.providerStateHeader())
	if value == "" {
		return candidates
	}

	re, reErr := regexp.Compile(value)
	matches := func(state string) bool {
		if state == value {
			return true
		}
		return reErr == nil && re.MatchString(state)
	}

	filtered := candidates[:0:0]
	for _, c := range candidates {
		if providerStateAllows(c, matches, h.cfg.EmptyProviderState) {
			filtered = append(filtered, c)
		}
	}
	log.Debug("provider state filter applied",
		"state", value, "before", len(candidates), "after", len(filtered))
	return filtered
}

func providerStateAllows(c index.Candidate, matches func(string) bool, includeEmpty bool) bool {
	states := c.Interaction.ProviderStates
	if len(states) == 0 {
		return includeEmpty
	}
	for _, ps := range states {
		if includeEmpty && ps.Name == "" {
			return true
		}
		if matches(ps.Name) {
			return true
		}
	}
	return false
}
