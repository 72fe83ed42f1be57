// Package matching implements request matching for the stub server.
//
// It compares parsed incoming requests against the expected request of a
// contract interaction and reports every failed comparison as a Mismatch.
// The number of mismatches is the interaction's score for that request:
// zero means a perfect match, anything above zero is a partial match and
// is never served.
//
// Supported comparisons:
//
//   - Path: literal equality, template segments ({name}, * wildcards),
//     and whole-path matching rules (regex, type)
//   - Method: case-insensitive equality
//   - Headers: per-expected-header comparison with optional rules
//   - Query parameters: per-expected-key ordered value comparison
//   - Body: content-type dispatch to JSON recursive, form-urlencoded,
//     plain-text, or binary comparison, honouring the body rules tree
//
// Matching rules are resolved by longest-prefix over JSON-pointer-like
// paths ("$.a[0].b"), with "*" segments acting as wildcards. A type rule
// cascades into its children; all other rules apply at their node only.
//
// The matcher itself never fails: malformed actual input is converted
// into mismatches. Malformed expected interactions are rejected by the
// loader before they reach this package.
package matching
