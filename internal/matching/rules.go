package matching

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rannes/pact-stub-server/pkg/contract"
)

// tokenizeRulePath converts a rule path such as "$.a[0].b", "$.ids[*]"
// or the bare query form "ids[*]" into tokens: ["$","a","0","b"].
func tokenizeRulePath(path string) []string {
	path = strings.TrimSpace(path)
	if path == "" {
		return []string{"$"}
	}
	tokens := []string{"$"}
	if strings.HasPrefix(path, "$") {
		path = strings.TrimPrefix(path, "$")
	}
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return tokens
	}

	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				cur.WriteByte(path[i])
				continue
			}
			idx := strings.Trim(path[i+1:i+end], `'"`)
			tokens = append(tokens, idx)
			i += end
		default:
			cur.WriteByte(path[i])
		}
	}
	flush()
	return tokens
}

// resolveRules finds the rules applying at the element located by
// tokens: every entry whose path is a prefix of the element path. Rule
// "*" tokens match any element token. When several entries match, the
// longest path wins, and among equally long paths the one with the most
// literal (non-wildcard) tokens.
func resolveRules(cat contract.Category, tokens []string) []contract.Rule {
	var best []contract.Rule
	bestWeight := -1
	for _, entry := range cat.Entries {
		ruleTokens := tokenizeRulePath(entry.Path)
		weight, ok := matchRulePath(ruleTokens, tokens)
		if ok && weight > bestWeight {
			best = entry.Rules
			bestWeight = weight
		}
	}
	return best
}

func matchRulePath(ruleTokens, elemTokens []string) (int, bool) {
	if len(ruleTokens) > len(elemTokens) {
		return 0, false
	}
	// Length dominates: literal tokens never outnumber the element's.
	weight := len(ruleTokens) * (len(elemTokens) + 1)
	for i, rt := range ruleTokens {
		if rt == "*" {
			continue
		}
		if rt != elemTokens[i] {
			return 0, false
		}
		weight++
	}
	return weight, true
}

// entryFor returns the rules bound to a header or query key, if any.
// Header names are compared case-insensitively.
func entryFor(cat contract.Category, key string, caseInsensitive bool) []contract.Rule {
	for _, entry := range cat.Entries {
		name := entry.Path
		// Strip an element suffix: "ids[*]" and "ids[0]" bind to "ids".
		if i := strings.IndexByte(name, '['); i > 0 {
			name = name[:i]
		}
		name = strings.TrimPrefix(strings.TrimPrefix(name, "$."), "$")
		if name == key || (caseInsensitive && strings.EqualFold(name, key)) {
			return entry.Rules
		}
	}
	return nil
}

// checkScalarRules applies a rule list to a string value with AND
// semantics. It returns ok plus a description of the first failure.
func checkScalarRules(rules []contract.Rule, expected, actual string) (bool, string) {
	for _, r := range rules {
		if ok, why := checkScalarRule(r, expected, actual); !ok {
			return false, why
		}
	}
	return true, ""
}

func checkScalarRule(r contract.Rule, expected, actual string) (bool, string) {
	switch r.Kind {
	case contract.RuleEquality:
		if actual != expected {
			return false, fmt.Sprintf("expected %q to equal %q", actual, expected)
		}
	case contract.RuleRegex:
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return false, fmt.Sprintf("invalid regex %q", r.Regex)
		}
		if !re.MatchString(actual) {
			return false, fmt.Sprintf("expected %q to match %q", actual, r.Regex)
		}
	case contract.RuleType:
		// Any string value is the same type as the expected string.
	case contract.RuleInteger:
		if _, err := strconv.ParseInt(actual, 10, 64); err != nil {
			return false, fmt.Sprintf("expected %q to be an integer", actual)
		}
	case contract.RuleDecimal, contract.RuleNumber:
		if _, err := strconv.ParseFloat(actual, 64); err != nil {
			return false, fmt.Sprintf("expected %q to be a number", actual)
		}
	case contract.RuleBoolean:
		if actual != "true" && actual != "false" {
			return false, fmt.Sprintf("expected %q to be a boolean", actual)
		}
	case contract.RuleInclude:
		needle := r.Value
		if needle == "" {
			needle = expected
		}
		if !strings.Contains(actual, needle) {
			return false, fmt.Sprintf("expected %q to include %q", actual, needle)
		}
	case contract.RuleNull:
		if actual != "" {
			return false, fmt.Sprintf("expected %q to be empty", actual)
		}
	}
	return true, ""
}

// checkLengthRules applies min/max bounds from type rules to a list
// length. Zero bounds are unset.
func checkLengthRules(rules []contract.Rule, length int) (bool, string) {
	for _, r := range rules {
		if r.Min > 0 && length < r.Min {
			return false, fmt.Sprintf("expected at least %d values, got %d", r.Min, length)
		}
		if r.Max > 0 && length > r.Max {
			return false, fmt.Sprintf("expected at most %d values, got %d", r.Max, length)
		}
	}
	return true, ""
}
