package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rannes/pact-stub-server/internal/index"
	"github.com/rannes/pact-stub-server/pkg/contract"
	"github.com/rannes/pact-stub-server/pkg/logging"
)

func textInteraction(id, method, path, responseBody string) *contract.Interaction {
	return &contract.Interaction{
		ID: id,
		Request: contract.Request{
			Method: method,
			Path:   path,
		},
		Response: contract.Response{
			Status: 200,
			Body:   contract.Body{Content: []byte(responseBody), ContentType: "text/plain"},
		},
	}
}

func newTestHandler(cfg Config, interactions ...*contract.Interaction) *Handler {
	set := &contract.Set{Interactions: interactions}
	pub := index.NewPublished(index.Build(set, logging.Nop()))
	return NewHandler(cfg, pub, logging.Nop())
}

func do(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLiteralMatch(t *testing.T) {
	h := newTestHandler(Config{}, textInteraction("ping", "GET", "/ping", "pong"))

	rec := do(h, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	// Trailing slash is a different path.
	rec = do(h, httptest.NewRequest("GET", "/ping/", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestTemplateMatch(t *testing.T) {
	in := textInteraction("users", "GET", "/users/{id}", `{"id":"x"}`)
	in.Response.Body.ContentType = "application/json"
	h := newTestHandler(Config{}, in)

	rec := do(h, httptest.NewRequest("GET", "/users/42", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, `{"id":"x"}`, rec.Body.String())

	rec = do(h, httptest.NewRequest("GET", "/users", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestExactBeatsTemplate(t *testing.T) {
	h := newTestHandler(Config{},
		textInteraction("literal", "GET", "/users/42", "A"),
		textInteraction("template", "GET", "/users/{id}", "B"),
	)

	rec := do(h, httptest.NewRequest("GET", "/users/42", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "A", rec.Body.String())

	rec = do(h, httptest.NewRequest("GET", "/users/7", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "B", rec.Body.String())
}

func TestProviderStateFilter(t *testing.T) {
	loggedIn := textInteraction("li", "GET", "/x", "logged-in response")
	loggedIn.ProviderStates = []contract.ProviderState{{Name: "logged-in"}}
	guest := textInteraction("g", "GET", "/x", "guest response")
	guest.ProviderStates = []contract.ProviderState{{Name: "guest"}}

	h := newTestHandler(Config{}, loggedIn, guest)

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(DefaultProviderStateHeader, "guest")
	rec := do(h, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "guest response", rec.Body.String())

	// Without the header, first-declared wins.
	rec = do(h, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "logged-in response", rec.Body.String())
}

func TestProviderStateHeaderOverride(t *testing.T) {
	in := textInteraction("a", "GET", "/x", "ok")
	in.ProviderStates = []contract.ProviderState{{Name: "ready"}}
	h := newTestHandler(Config{ProviderStateHeader: "X-Stub-State"}, in)

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Stub-State", "other")
	rec := do(h, req)
	assert.Equal(t, 404, rec.Code)

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Stub-State", "ready")
	rec = do(h, req)
	assert.Equal(t, 200, rec.Code)
}

func TestProviderStateEmptyFlag(t *testing.T) {
	stateless := textInteraction("none", "GET", "/x", "stateless")

	h := newTestHandler(Config{}, stateless)
	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(DefaultProviderStateHeader, "whatever")
	assert.Equal(t, 404, do(h, req).Code)

	h = newTestHandler(Config{EmptyProviderState: true}, stateless)
	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(DefaultProviderStateHeader, "whatever")
	assert.Equal(t, 200, do(h, req).Code)
}

func TestProviderStateHeaderAsRegex(t *testing.T) {
	one := textInteraction("one", "GET", "/x", "one")
	one.ProviderStates = []contract.ProviderState{{Name: "state one"}}
	two := textInteraction("two", "GET", "/x", "two")
	two.ProviderStates = []contract.ProviderState{{Name: "state two"}}

	h := newTestHandler(Config{}, one, two)

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(DefaultProviderStateHeader, "state .*")
	rec := do(h, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "one", rec.Body.String())
}

func TestCORSPreflightFastPath(t *testing.T) {
	h := newTestHandler(Config{AutoCORS: true}, textInteraction("opt", "OPTIONS", "/whatever", "real"))

	req := httptest.NewRequest("OPTIONS", "/whatever", nil)
	req.Header.Set("Access-Control-Request-Headers", "X-Custom, Authorization")
	rec := do(h, req)

	// The fast path dominates even though an OPTIONS interaction exists.
	assert.Equal(t, 204, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "X-Custom, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, rec.Body.String())
}

func TestCORSPreflightReferer(t *testing.T) {
	h := newTestHandler(Config{AutoCORS: true, CORSReferer: true})

	req := httptest.NewRequest("OPTIONS", "/anything", nil)
	req.Header.Set("Referer", "https://app.example.com")
	rec := do(h, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSDisabledOptionsFallsThrough(t *testing.T) {
	h := newTestHandler(Config{})
	rec := do(h, httptest.NewRequest("OPTIONS", "/whatever", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestCORSHeaderOnNotFound(t *testing.T) {
	h := newTestHandler(Config{AutoCORS: true})
	rec := do(h, httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, 404, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMergePrecedence(t *testing.T) {
	in := textInteraction("a", "GET", "/x", "ok")
	in.Response.Headers = map[string][]string{
		"Access-Control-Allow-Origin": {"https://only.example.com"},
	}
	h := newTestHandler(Config{AutoCORS: true}, in)

	rec := do(h, httptest.NewRequest("GET", "/x", nil))
	// The interaction's own header wins over the CORS merge.
	assert.Equal(t, "https://only.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBodyMismatchNotServed(t *testing.T) {
	in := &contract.Interaction{
		ID: "submit",
		Request: contract.Request{
			Method: "POST",
			Path:   "/submit",
			Body:   contract.Body{Content: []byte(`{"a":1}`), ContentType: "application/json"},
		},
		Response: contract.Response{Status: 200, Body: contract.Body{Content: []byte("ok"), ContentType: "text/plain"}},
	}
	h := newTestHandler(Config{}, in)

	req := httptest.NewRequest("POST", "/submit", bytes.NewReader([]byte(`{"a":2}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := do(h, req)
	assert.Equal(t, 404, rec.Code)

	// The diagnostic body names the near miss.
	var body struct {
		Error   string `json:"error"`
		Closest []struct {
			Interaction string `json:"interaction"`
			Score       int    `json:"mismatchCount"`
		} `json:"closest"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Closest, 1)
	assert.Equal(t, "submit", body.Closest[0].Interaction)
	assert.Equal(t, 1, body.Closest[0].Score)

	req = httptest.NewRequest("POST", "/submit", bytes.NewReader([]byte(`{"a":1}`)))
	req.Header.Set("Content-Type", "application/json")
	rec = do(h, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestEmptyContractSet(t *testing.T) {
	h := newTestHandler(Config{})
	for _, path := range []string{"/", "/anything", "/a/b/c"} {
		rec := do(h, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, 404, rec.Code, path)
	}
}

func TestMalformedPathRejected(t *testing.T) {
	h := newTestHandler(Config{}, textInteraction("a", "GET", "/ping", "pong"))

	rec := do(h, httptest.NewRequest("GET", "/a/../b", nil))
	assert.Equal(t, 400, rec.Code)

	rec = do(h, httptest.NewRequest("GET", "/a/./b", nil))
	assert.Equal(t, 400, rec.Code)
}

func TestEncodedSlashIsLiteralSegment(t *testing.T) {
	h := newTestHandler(Config{},
		textInteraction("plain", "GET", "/a/b", "two segments"),
	)

	req := httptest.NewRequest("GET", "/a%2Fb", nil)
	rec := do(h, req)
	assert.Equal(t, 404, rec.Code)

	rec = do(h, httptest.NewRequest("GET", "/a/b", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestDeterminism(t *testing.T) {
	h := newTestHandler(Config{},
		textInteraction("one", "GET", "/dup", "first"),
		textInteraction("two", "GET", "/dup", "second"),
	)

	var first *httptest.ResponseRecorder
	for i := 0; i < 20; i++ {
		rec := do(h, httptest.NewRequest("GET", "/dup", nil))
		if first == nil {
			first = rec
			continue
		}
		assert.Equal(t, first.Code, rec.Code)
		assert.Equal(t, first.Body.String(), rec.Body.String())
	}
	assert.Equal(t, "first", first.Body.String())
}

func TestResponseRoundTrip(t *testing.T) {
	in := &contract.Interaction{
		ID: "rt",
		Request: contract.Request{
			Method: "GET",
			Path:   "/resource",
		},
		Response: contract.Response{
			Status: 201,
			Headers: map[string][]string{
				"X-Custom":     {"one", "two"},
				"Content-Type": {"application/json"},
			},
			Body: contract.Body{Content: []byte(`{"ok":true}`), ContentType: "application/json"},
		},
	}
	h := newTestHandler(Config{}, in)

	rec := do(h, httptest.NewRequest("GET", "/resource", nil))
	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, []string{"one", "two"}, rec.Header().Values("X-Custom"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
}

func TestQueryMismatch(t *testing.T) {
	in := textInteraction("q", "GET", "/search", "results")
	in.Request.Query = map[string][]string{"q": {"stub"}}
	h := newTestHandler(Config{}, in)

	rec := do(h, httptest.NewRequest("GET", "/search?q=stub", nil))
	assert.Equal(t, 200, rec.Code)

	rec = do(h, httptest.NewRequest("GET", "/search?q=other", nil))
	assert.Equal(t, 404, rec.Code)

	rec = do(h, httptest.NewRequest("GET", "/search", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHeaderMismatch(t *testing.T) {
	in := textInteraction("h", "GET", "/private", "secret")
	in.Request.Headers = map[string][]string{"Authorization": {"Bearer token"}}
	h := newTestHandler(Config{}, in)

	req := httptest.NewRequest("GET", "/private", nil)
	req.Header.Set("Authorization", "Bearer token")
	assert.Equal(t, 200, do(h, req).Code)

	assert.Equal(t, 404, do(h, httptest.NewRequest("GET", "/private", nil)).Code)
}
