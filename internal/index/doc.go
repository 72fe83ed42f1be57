// Package index provides the immutable interaction index for the stub
// server.
//
// The index is built once from a loaded contract set. Interactions with
// literal expected paths are keyed by (method, normalized path) for O(1)
// lookup; interactions whose path contains template tokens or path rules
// go to a residual templated list that is scanned per request. Within
// each bucket the contract load order is preserved and becomes the
// deterministic tie-break when several interactions match equally.
//
// An Index is read-only after construction. Reloads build a fresh Index
// and swap the Published handle atomically; requests in flight keep the
// snapshot they started with.
package index
