package contract

import (
	"encoding/json"
	"sort"
)

// RuleKind identifies a matching rule variant.
type RuleKind string

// Rule kinds from the pact specification. Unrecognised kinds from newer
// pact revisions are mapped to RuleType so they relax equality rather
// than causing spurious mismatches.
const (
	RuleEquality RuleKind = "equality"
	RuleRegex    RuleKind = "regex"
	RuleType     RuleKind = "type"
	RuleInclude  RuleKind = "include"
	RuleInteger  RuleKind = "integer"
	RuleDecimal  RuleKind = "decimal"
	RuleNumber   RuleKind = "number"
	RuleBoolean  RuleKind = "boolean"
	RuleNull     RuleKind = "null"
)

// Rule is one matching predicate attached to a rule path.
type Rule struct {
	Kind RuleKind

	// Regex is the pattern for RuleRegex.
	Regex string

	// Value is the expected substring for RuleInclude.
	Value string

	// Min and Max bound array lengths for RuleType. Zero means unset.
	Min int
	Max int
}

// RuleEntry binds an ordered list of rules to one path within a category.
// For body rules the path is JSON-pointer-like ("$.a[0].b"); for header
// and query rules it is the key name, optionally with an index ("ids[*]").
type RuleEntry struct {
	Path  string
	Rules []Rule
}

// Category holds the rule entries for one request part.
type Category struct {
	Entries []RuleEntry
}

// Empty reports whether the category carries no rules.
func (c Category) Empty() bool {
	return len(c.Entries) == 0
}

// RuleSet is the matching-rules tree of one expected request,
// keyed by request part.
type RuleSet struct {
	Path   Category
	Header Category
	Query  Category
	Body   Category
}

// parseRuleSet decodes a V4 "matchingRules" object. Each category is
// either a map of rule-path to matcher lists, or (for path) a bare
// matcher list applying to the whole value.
func parseRuleSet(raw json.RawMessage) RuleSet {
	var rs RuleSet
	if len(raw) == 0 {
		return rs
	}

	var categories map[string]json.RawMessage
	if err := json.Unmarshal(raw, &categories); err != nil {
		return rs
	}

	rs.Path = parseCategory(categories["path"])
	rs.Header = parseCategory(categories["header"])
	rs.Query = parseCategory(categories["query"])
	rs.Body = parseCategory(categories["body"])
	return rs
}

// matcherList is the {"matchers": [...], "combine": "AND"} wrapper.
type matcherList struct {
	Matchers []matcherJSON `json:"matchers"`
}

// matcherJSON is one matcher object as it appears on the wire.
type matcherJSON struct {
	Match string      `json:"match"`
	Regex string      `json:"regex"`
	Value string      `json:"value"`
	Min   json.Number `json:"min"`
	Max   json.Number `json:"max"`
}

func parseCategory(raw json.RawMessage) Category {
	var cat Category
	if len(raw) == 0 {
		return cat
	}

	// A category applying to the whole value is a bare matcher list.
	var direct matcherList
	if err := json.Unmarshal(raw, &direct); err == nil && len(direct.Matchers) > 0 {
		cat.Entries = append(cat.Entries, RuleEntry{Path: "$", Rules: convertMatchers(direct.Matchers)})
		return cat
	}

	var keyed map[string]matcherList
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return cat
	}

	// Sort keys for deterministic entry order; resolution is by
	// longest-prefix so entry order only breaks exact ties.
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rules := convertMatchers(keyed[k].Matchers)
		if len(rules) == 0 {
			continue
		}
		cat.Entries = append(cat.Entries, RuleEntry{Path: k, Rules: rules})
	}
	return cat
}

func convertMatchers(in []matcherJSON) []Rule {
	var rules []Rule
	for _, m := range in {
		r := Rule{Regex: m.Regex, Value: m.Value}
		switch RuleKind(m.Match) {
		case RuleEquality, RuleRegex, RuleType, RuleInclude,
			RuleInteger, RuleDecimal, RuleNumber, RuleBoolean, RuleNull:
			r.Kind = RuleKind(m.Match)
		default:
			r.Kind = RuleType
		}
		if n, err := m.Min.Int64(); err == nil {
			r.Min = int(n)
		}
		if n, err := m.Max.Int64(); err == nil {
			r.Max = int(n)
		}
		rules = append(rules, r)
	}
	return rules
}
