package engine

import "net/http"

// writePreflight answers the CORS fast path: any OPTIONS request when
// CORS is enabled, regardless of loaded interactions.
func (h *Handler) writePreflight(w http.ResponseWriter, r *http.Request) {
	origin := "*"
	if h.cfg.CORSReferer {
		if referer := r.Header.Get("Referer"); referer != "" {
			origin = referer
		}
	}

	allowHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowHeaders == "" {
		allowHeaders = "*"
	}

	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", origin)
	hdr.Set("Access-Control-Allow-Methods", "*")
	hdr.Set("Access-Control-Allow-Headers", allowHeaders)
	w.WriteHeader(http.StatusNoContent)
}

// mergeCORS adds the wildcard origin header unless the interaction's
// response already carries one; contract headers take precedence.
func (h *Handler) mergeCORS(hdr http.Header) {
	if !h.cfg.AutoCORS {
		return
	}
	if hdr.Get("Access-Control-Allow-Origin") == "" {
		hdr.Set("Access-Control-Allow-Origin", "*")
	}
}
