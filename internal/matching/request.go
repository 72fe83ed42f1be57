package matching

import (
	"net/http"
	"net/url"

	"github.com/rannes/pact-stub-server/pkg/contract"
)

// Request is a parsed incoming request as seen by the matcher: the path
// is already normalized and the body, if any, already read.
type Request struct {
	Method      string
	Path        string
	Segments    []string
	Query       url.Values
	Headers     http.Header
	Body        []byte
	ContentType string
}

// FromHTTP builds a matcher Request. The normalized path and its
// segments come from NormalizePath; the body is passed separately
// because the dispatcher defers reading it until narrowing has produced
// at least one candidate.
func FromHTTP(r *http.Request, normalized string, segments []string, body []byte) *Request {
	return &Request{
		Method:      r.Method,
		Path:        normalized,
		Segments:    segments,
		Query:       r.URL.Query(),
		Headers:     r.Header,
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	}
}

// MatchRequest compares an actual request against an interaction's
// expected request and returns every mismatch. An empty result is a
// perfect match. The mismatch count is the interaction's score.
func MatchRequest(expected *contract.Request, actual *Request) []Mismatch {
	var mismatches []Mismatch

	if !equalFoldASCII(expected.Method, actual.Method) {
		mismatches = append(mismatches, mismatchf(MismatchMethod, "",
			expected.Method, actual.Method,
			"expected method %s, got %s", expected.Method, actual.Method))
	}

	mismatches = append(mismatches, MatchPath(expected, actual.Path, actual.Segments)...)
	mismatches = append(mismatches, MatchHeaders(expected.Headers, expected.Rules.Header, actual.Headers)...)
	mismatches = append(mismatches, MatchQuery(expected.Query, expected.Rules.Query, actual.Query)...)

	// A body comparison only applies when the method carries a payload
	// and the client actually sent one; an absent body never disqualifies
	// a candidate for payload-less methods.
	if methodSupportsPayload(actual.Method) && len(actual.Body) > 0 {
		mismatches = append(mismatches, MatchBody(expected.Body, actual.Body, actual.ContentType, expected.Rules.Body)...)
	}

	return mismatches
}

// MatchPath re-checks the path of a candidate with full rule support.
// Literal candidates were already narrowed by exact lookup, so this is
// mostly relevant for templated paths and path rules.
func MatchPath(expected *contract.Request, actualPath string, actualSegments []string) []Mismatch {
	if !expected.Rules.Path.Empty() {
		rules := resolveRules(expected.Rules.Path, []string{"$"})
		if ok, why := checkScalarRules(rules, expected.Path, actualPath); !ok {
			return []Mismatch{mismatchf(MismatchPath, "", expected.Path, actualPath, "%s", why)}
		}
		return nil
	}

	if IsTemplated(expected.Path) {
		if _, ok := MatchTemplate(SplitExpected(expected.Path), actualSegments); !ok {
			return []Mismatch{mismatchf(MismatchPath, "", expected.Path, actualPath,
				"path %q does not match template %q", actualPath, expected.Path)}
		}
		return nil
	}

	normalized, _, err := NormalizePath(expected.Path)
	if err != nil || normalized != actualPath {
		return []Mismatch{mismatchf(MismatchPath, "", expected.Path, actualPath,
			"expected path %q, got %q", expected.Path, actualPath)}
	}
	return nil
}

// QuickPathMatch reports whether a request's method and path could match
// an interaction, using the pre-split expected segments. This is the
// cheap narrowing check used by the index for templated candidates.
func QuickPathMatch(expected *contract.Request, expectedSegments []string, method, actualPath string, actualSegments []string) bool {
	if !equalFoldASCII(expected.Method, method) {
		return false
	}
	if !expected.Rules.Path.Empty() {
		rules := resolveRules(expected.Rules.Path, []string{"$"})
		ok, _ := checkScalarRules(rules, expected.Path, actualPath)
		return ok
	}
	_, ok := MatchTemplate(expectedSegments, actualSegments)
	return ok
}

func methodSupportsPayload(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
