package matching

import "fmt"

// MismatchKind classifies which request part failed to match.
type MismatchKind string

// Mismatch kinds.
const (
	MismatchMethod   MismatchKind = "method"
	MismatchPath     MismatchKind = "path"
	MismatchHeader   MismatchKind = "header"
	MismatchQuery    MismatchKind = "query"
	MismatchBody     MismatchKind = "body"
	MismatchBodyType MismatchKind = "body-content-type"
)

// Mismatch describes one failed comparison between an expected and an
// actual request element.
type Mismatch struct {
	Kind MismatchKind `json:"kind"`

	// Path locates the element: a header name, a query key, or a
	// JSON-pointer-like body path such as "$.a[0].b".
	Path string `json:"path,omitempty"`

	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Message  string `json:"message"`
}

func (m Mismatch) String() string {
	if m.Path != "" {
		return fmt.Sprintf("%s %s: %s", m.Kind, m.Path, m.Message)
	}
	return fmt.Sprintf("%s: %s", m.Kind, m.Message)
}

func mismatchf(kind MismatchKind, path, expected, actual, format string, args ...any) Mismatch {
	return Mismatch{
		Kind:     kind,
		Path:     path,
		Expected: expected,
		Actual:   actual,
		Message:  fmt.Sprintf(format, args...),
	}
}
