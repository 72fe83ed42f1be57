package matching

import (
	"bytes"
	"mime"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/rannes/pact-stub-server/pkg/contract"
)

// MatchBody compares an actual body against the expected one. If the
// content types differ the comparison stops after a single mismatch;
// otherwise a content-type-specific matcher runs and each leaf mismatch
// adds one.
func MatchBody(expected contract.Body, actualBody []byte, actualContentType string, rules contract.Category) []Mismatch {
	if !expected.Present() || len(expected.Content) == 0 {
		return nil
	}

	if len(actualBody) == 0 {
		return []Mismatch{mismatchf(MismatchBody, "$",
			string(expected.Content), "", "expected a body but none was received")}
	}

	expCT := mediaType(expected.ContentType)
	actCT := mediaType(actualContentType)
	if expCT != "" && actCT != "" && expCT != actCT {
		return []Mismatch{mismatchf(MismatchBodyType, "",
			expCT, actCT, "content type %q does not match %q", actCT, expCT)}
	}

	switch {
	case isJSONType(expCT):
		return matchJSONBody(expected.Content, actualBody, rules)
	case expCT == "application/x-www-form-urlencoded":
		return matchFormBody(expected.Content, actualBody, rules)
	case strings.HasPrefix(expCT, "text/") || expCT == "":
		return matchTextBody(expected.Content, actualBody, rules)
	default:
		if !bytes.Equal(expected.Content, actualBody) {
			return []Mismatch{mismatchf(MismatchBody, "$",
				"", "", "binary body does not match expected content")}
		}
		return nil
	}
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	return mt
}

func isJSONType(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func matchTextBody(expected, actual []byte, rules contract.Category) []Mismatch {
	if root := resolveRules(rules, []string{"$"}); len(root) > 0 {
		if ok, why := checkScalarRules(root, string(expected), string(actual)); !ok {
			return []Mismatch{mismatchf(MismatchBody, "$", string(expected), string(actual), "%s", why)}
		}
		return nil
	}
	if !bytes.Equal(expected, actual) {
		return []Mismatch{mismatchf(MismatchBody, "$",
			string(expected), string(actual), "text body does not match")}
	}
	return nil
}

func matchFormBody(expected, actual []byte, rules contract.Category) []Mismatch {
	expValues, err := url.ParseQuery(string(expected))
	if err != nil {
		return []Mismatch{mismatchf(MismatchBody, "$", "", "", "expected form body is not parseable")}
	}
	actValues, err := url.ParseQuery(string(actual))
	if err != nil {
		return []Mismatch{mismatchf(MismatchBody, "$", "", "", "actual form body is not parseable: %v", err)}
	}

	mismatches := MatchQuery(expValues, rules, actValues)
	for i := range mismatches {
		mismatches[i].Kind = MismatchBody
	}
	return mismatches
}

func matchJSONBody(expected, actual []byte, rules contract.Category) []Mismatch {
	expVal, err := oj.Parse(expected)
	if err != nil {
		return []Mismatch{mismatchf(MismatchBody, "$", "", "", "expected body is not valid JSON")}
	}
	actVal, err := oj.Parse(actual)
	if err != nil {
		return []Mismatch{mismatchf(MismatchBody, "$", "", "", "actual body is not valid JSON: %v", err)}
	}

	var mismatches []Mismatch
	compareJSON([]string{"$"}, expVal, actVal, rules, false, &mismatches)
	return mismatches
}

// compareJSON walks the expected value, comparing the actual value node
// by node. typeOnly is set once a type rule cascades from an ancestor:
// below that point only structure and kinds are compared, though more
// specific rules (e.g. a regex on an array element) still apply.
func compareJSON(tokens []string, exp, act any, rules contract.Category, typeOnly bool, mm *[]Mismatch) {
	path := joinTokens(tokens)

	if nodeRules := resolveRules(rules, tokens); len(nodeRules) > 0 {
		applyJSONRules(tokens, nodeRules, exp, act, rules, mm)
		return
	}

	switch expTyped := exp.(type) {
	case map[string]any:
		actMap, ok := act.(map[string]any)
		if !ok {
			*mm = append(*mm, mismatchf(MismatchBody, path,
				"object", jsonKind(act), "expected an object, got %s", jsonKind(act)))
			return
		}
		keys := make([]string, 0, len(expTyped))
		for k := range expTyped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			actChild, present := actMap[k]
			childTokens := append(append([]string{}, tokens...), k)
			if !present {
				*mm = append(*mm, mismatchf(MismatchBody, joinTokens(childTokens),
					jsonString(expTyped[k]), "", "expected key %q is missing", k))
				continue
			}
			compareJSON(childTokens, expTyped[k], actChild, rules, typeOnly, mm)
		}
		// Requests must not carry keys the contract never declared.
		var extra []string
		for k := range actMap {
			if _, ok := expTyped[k]; !ok {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		for _, k := range extra {
			*mm = append(*mm, mismatchf(MismatchBody, path+"."+k,
				"", jsonString(actMap[k]), "unexpected key %q", k))
		}

	case []any:
		actList, ok := act.([]any)
		if !ok {
			*mm = append(*mm, mismatchf(MismatchBody, path,
				"array", jsonKind(act), "expected an array, got %s", jsonKind(act)))
			return
		}
		if len(actList) != len(expTyped) {
			*mm = append(*mm, mismatchf(MismatchBody, path,
				strconv.Itoa(len(expTyped)), strconv.Itoa(len(actList)),
				"expected %d elements, got %d", len(expTyped), len(actList)))
		}
		n := len(expTyped)
		if len(actList) < n {
			n = len(actList)
		}
		for i := 0; i < n; i++ {
			childTokens := append(append([]string{}, tokens...), strconv.Itoa(i))
			compareJSON(childTokens, expTyped[i], actList[i], rules, typeOnly, mm)
		}

	default:
		if typeOnly {
			if jsonKind(exp) != jsonKind(act) {
				*mm = append(*mm, mismatchf(MismatchBody, path,
					jsonKind(exp), jsonKind(act), "expected type %s, got %s", jsonKind(exp), jsonKind(act)))
			}
			return
		}
		if !scalarEqual(exp, act) {
			*mm = append(*mm, mismatchf(MismatchBody, path,
				jsonString(exp), jsonString(act), "expected %s, got %s", jsonString(exp), jsonString(act)))
		}
	}
}

// applyJSONRules applies the rules bound to a node. Type rules cascade
// into children; everything else terminates at the node.
func applyJSONRules(tokens []string, nodeRules []contract.Rule, exp, act any, rules contract.Category, mm *[]Mismatch) {
	path := joinTokens(tokens)

	for _, r := range nodeRules {
		switch r.Kind {
		case contract.RuleRegex:
			re, err := regexp.Compile(r.Regex)
			if err != nil {
				*mm = append(*mm, mismatchf(MismatchBody, path, r.Regex, jsonString(act), "invalid regex %q", r.Regex))
				continue
			}
			if !re.MatchString(jsonString(act)) {
				*mm = append(*mm, mismatchf(MismatchBody, path, r.Regex, jsonString(act),
					"expected %s to match %q", jsonString(act), r.Regex))
			}

		case contract.RuleType:
			applyTypeRule(tokens, r, exp, act, rules, mm)

		case contract.RuleInteger:
			if !isJSONInteger(act) {
				*mm = append(*mm, mismatchf(MismatchBody, path, "integer", jsonKind(act),
					"expected an integer, got %s", jsonString(act)))
			}
		case contract.RuleDecimal, contract.RuleNumber:
			if !isJSONNumber(act) {
				*mm = append(*mm, mismatchf(MismatchBody, path, "number", jsonKind(act),
					"expected a number, got %s", jsonString(act)))
			}
		case contract.RuleBoolean:
			if _, ok := act.(bool); !ok {
				*mm = append(*mm, mismatchf(MismatchBody, path, "boolean", jsonKind(act),
					"expected a boolean, got %s", jsonString(act)))
			}
		case contract.RuleNull:
			if act != nil {
				*mm = append(*mm, mismatchf(MismatchBody, path, "null", jsonKind(act),
					"expected null, got %s", jsonString(act)))
			}
		case contract.RuleInclude:
			needle := r.Value
			if needle == "" {
				needle = jsonString(exp)
			}
			if !strings.Contains(jsonString(act), needle) {
				*mm = append(*mm, mismatchf(MismatchBody, path, needle, jsonString(act),
					"expected %s to include %q", jsonString(act), needle))
			}
		case contract.RuleEquality:
			if !scalarEqual(exp, act) {
				*mm = append(*mm, mismatchf(MismatchBody, path, jsonString(exp), jsonString(act),
					"expected %s, got %s", jsonString(exp), jsonString(act)))
			}
		}
	}
}

func applyTypeRule(tokens []string, r contract.Rule, exp, act any, rules contract.Category, mm *[]Mismatch) {
	path := joinTokens(tokens)

	switch expTyped := exp.(type) {
	case []any:
		actList, ok := act.([]any)
		if !ok {
			*mm = append(*mm, mismatchf(MismatchBody, path, "array", jsonKind(act),
				"expected an array, got %s", jsonKind(act)))
			return
		}
		if ok, why := checkLengthRules([]contract.Rule{r}, len(actList)); !ok {
			*mm = append(*mm, mismatchf(MismatchBody, path, "", strconv.Itoa(len(actList)), "%s", why))
			return
		}
		// Type-match every actual element against the first expected one.
		if len(expTyped) == 0 {
			return
		}
		for i := range actList {
			childTokens := append(append([]string{}, tokens...), strconv.Itoa(i))
			expChild := expTyped[0]
			if i < len(expTyped) {
				expChild = expTyped[i]
			}
			compareJSON(childTokens, expChild, actList[i], rules, true, mm)
		}

	case map[string]any:
		actMap, ok := act.(map[string]any)
		if !ok {
			*mm = append(*mm, mismatchf(MismatchBody, path, "object", jsonKind(act),
				"expected an object, got %s", jsonKind(act)))
			return
		}
		keys := make([]string, 0, len(expTyped))
		for k := range expTyped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			actChild, present := actMap[k]
			childTokens := append(append([]string{}, tokens...), k)
			if !present {
				*mm = append(*mm, mismatchf(MismatchBody, joinTokens(childTokens),
					jsonString(expTyped[k]), "", "expected key %q is missing", k))
				continue
			}
			compareJSON(childTokens, expTyped[k], actChild, rules, true, mm)
		}

	default:
		if jsonKind(exp) != jsonKind(act) {
			*mm = append(*mm, mismatchf(MismatchBody, path, jsonKind(exp), jsonKind(act),
				"expected type %s, got %s", jsonKind(exp), jsonKind(act)))
		}
	}
}

func joinTokens(tokens []string) string {
	var b strings.Builder
	for i, t := range tokens {
		if i == 0 {
			b.WriteString(t)
			continue
		}
		if _, err := strconv.Atoi(t); err == nil {
			b.WriteString("[" + t + "]")
		} else {
			b.WriteString("." + t)
		}
	}
	return b.String()
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return "number"
	}
}

func jsonString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	default:
		return oj.JSON(v)
	}
}

func scalarEqual(a, b any) bool {
	if na, aok := toFloat(a); aok {
		nb, bok := toFloat(b)
		return bok && na == nb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		return 0, false
	}
}

func isJSONInteger(v any) bool {
	switch t := v.(type) {
	case int64, int:
		return true
	case float64:
		return t == float64(int64(t))
	default:
		return false
	}
}

func isJSONNumber(v any) bool {
	_, ok := toFloat(v)
	return ok
}
