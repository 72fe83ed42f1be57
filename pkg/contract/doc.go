// Package contract defines the Pact contract data model for the stub server.
//
// A contract (pact file) is a JSON document describing expected HTTP
// interactions between a consumer and a provider. This package parses
// V4 pact documents into immutable Interaction records and exposes the
// matching-rules tree attached to each expected request.
//
// Key types:
//
//   - Pact: one parsed contract file with its interactions
//   - Interaction: one (expected request, canned response, provider states) tuple
//   - Set: the full loaded, immutable list of interactions
//   - RuleSet: matching rules keyed by request part (path, header, query, body)
//
// Interactions are never mutated after parsing. The stub server treats a
// Set as a frozen snapshot for the lifetime of the published index.
package contract
