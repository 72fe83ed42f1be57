package matching

import (
	"net/url"
	"sort"
	"strings"

	"github.com/rannes/pact-stub-server/pkg/contract"
)

// MatchQuery compares expected query parameters against the actual
// ones. Each failed expected key adds one mismatch, and unexpected
// actual keys are mismatches too: a request carrying parameters the
// contract never declared is not the contract's request.
func MatchQuery(expected map[string][]string, rules contract.Category, actual url.Values) []Mismatch {
	var mismatches []Mismatch

	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		expValues := expected[name]
		actValues, present := actual[name]
		keyRules := entryFor(rules, name, false)

		if !present {
			mismatches = append(mismatches, mismatchf(MismatchQuery, name,
				strings.Join(expValues, ", "), "",
				"expected query parameter %q is missing", name))
			continue
		}

		if len(keyRules) > 0 {
			if ok, why := checkLengthRules(keyRules, len(actValues)); !ok {
				mismatches = append(mismatches, mismatchf(MismatchQuery, name,
					strings.Join(expValues, ", "), strings.Join(actValues, ", "),
					"query parameter %q: %s", name, why))
				continue
			}
			if ok := queryValuesSatisfyRules(keyRules, expValues, actValues); !ok {
				mismatches = append(mismatches, mismatchf(MismatchQuery, name,
					strings.Join(expValues, ", "), strings.Join(actValues, ", "),
					"query parameter %q value mismatch", name))
			}
			continue
		}

		if !stringSlicesEqual(expValues, actValues) {
			mismatches = append(mismatches, mismatchf(MismatchQuery, name,
				strings.Join(expValues, ", "), strings.Join(actValues, ", "),
				"query parameter %q value mismatch", name))
		}
	}

	// Unexpected keys, again in deterministic order.
	var extra []string
	for name := range actual {
		if _, ok := expected[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		mismatches = append(mismatches, mismatchf(MismatchQuery, name,
			"", strings.Join(actual[name], ", "),
			"unexpected query parameter %q", name))
	}

	return mismatches
}

// queryValuesSatisfyRules applies element rules to every actual value.
// The expected counterpart for positions beyond the expected list is the
// last expected value, so min-type rules can accept longer actual lists.
func queryValuesSatisfyRules(rules []contract.Rule, expected, actual []string) bool {
	for i, act := range actual {
		exp := ""
		if len(expected) > 0 {
			if i < len(expected) {
				exp = expected[i]
			} else {
				exp = expected[len(expected)-1]
			}
		}
		if ok, _ := checkScalarRules(rules, exp, act); !ok {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
