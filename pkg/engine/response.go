package engine

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rannes/pact-stub-server/internal/matching"
	"github.com/rannes/pact-stub-server/pkg/contract"
)

// writeResponse replays the chosen interaction's response: status,
// headers and body bit-identical to the contract, with CORS headers
// merged in when enabled. Content-Length is recomputed from the body.
func (h *Handler) writeResponse(w http.ResponseWriter, in *contract.Interaction) {
	resp := in.Response
	hdr := w.Header()

	for name, values := range resp.Headers {
		for _, v := range values {
			hdr.Add(name, v)
		}
	}
	h.mergeCORS(hdr)

	hdr.Del("Content-Length")
	if resp.Body.Present() {
		if hdr.Get("Content-Type") == "" && resp.Body.ContentType != "" {
			hdr.Set("Content-Type", resp.Body.ContentType)
		}
		hdr.Set("Content-Length", strconv.Itoa(len(resp.Body.Content)))
	}

	w.WriteHeader(resp.Status)
	if len(resp.Body.Content) > 0 {
		_, _ = w.Write(resp.Body.Content)
	}
}

// notFoundBody is the diagnostic 404 payload: the request that failed
// plus the closest partial matches and their mismatch traces.
type notFoundBody struct {
	Error   string         `json:"error"`
	Method  string         `json:"method"`
	Path    string         `json:"path"`
	Closest []closestEntry `json:"closest,omitempty"`
}

type closestEntry struct {
	Interaction string              `json:"interaction"`
	Description string              `json:"description,omitempty"`
	Score       int                 `json:"mismatchCount"`
	Mismatches  []matching.Mismatch `json:"mismatches"`
}

func (h *Handler) writeNotFound(w http.ResponseWriter, method, path string, closest []scoredCandidate) {
	body := notFoundBody{
		Error:  "no matching interaction found",
		Method: method,
		Path:   path,
	}
	for _, c := range closest {
		body.Closest = append(body.Closest, closestEntry{
			Interaction: c.candidate.Interaction.ID,
			Description: c.candidate.Interaction.Description,
			Score:       c.score(),
			Mismatches:  c.mismatches,
		})
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/json")
	h.mergeCORS(hdr)
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handler) writeInternalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal matcher error"})
}

func (h *Handler) writeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "request deadline exceeded"})
}
