package matching

import (
	"net/http"
	"sort"
	"strings"

	"github.com/rannes/pact-stub-server/pkg/contract"
)

// MatchHeaders compares every expected header against the actual
// headers, honouring any header rules. Each failed expected header adds
// one mismatch. Extra actual headers are ignored: real clients always
// send headers the contract never mentions.
func MatchHeaders(expected map[string][]string, rules contract.Category, actual http.Header) []Mismatch {
	if len(expected) == 0 {
		return nil
	}

	// Deterministic mismatch order regardless of map iteration.
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	var mismatches []Mismatch
	for _, name := range names {
		expValues := expected[name]
		actValues := actual.Values(name)
		headerRules := entryFor(rules, name, true)

		if len(actValues) == 0 {
			mismatches = append(mismatches, mismatchf(MismatchHeader, name,
				strings.Join(expValues, ", "), "",
				"expected header %q is missing", name))
			continue
		}

		if !headerValuesMatch(expValues, actValues, headerRules) {
			mismatches = append(mismatches, mismatchf(MismatchHeader, name,
				strings.Join(expValues, ", "), strings.Join(actValues, ", "),
				"header %q value mismatch", name))
		}
	}
	return mismatches
}

// headerValuesMatch compares expected header values against actual ones.
// With rules, each expected value position is checked against the actual
// value at the same position (an empty string where the actual list is
// shorter); actual values beyond the expected list are not checked. Without rules
// the comparison is per comma-separated part, whitespace-insensitive,
// matching how proxies fold repeated headers.
func headerValuesMatch(expected, actual []string, rules []contract.Rule) bool {
	if len(rules) > 0 {
		for i, exp := range expected {
			act := ""
			if i < len(actual) {
				act = actual[i]
			}
			if ok, _ := checkScalarRules(rules, exp, act); !ok {
				return false
			}
		}
		return true
	}

	expParts := splitHeaderParts(expected)
	actParts := splitHeaderParts(actual)
	if len(expParts) != len(actParts) {
		return false
	}
	for i := range expParts {
		if expParts[i] != actParts[i] {
			return false
		}
	}
	return true
}

func splitHeaderParts(values []string) []string {
	var parts []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return parts
}
