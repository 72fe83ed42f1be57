// Package engine provides the core stub server engine.
//
// The engine owns the HTTP surface of the stub: it accepts parsed
// requests, narrows them against the published interaction index,
// scores the surviving candidates in parallel, and replays the winning
// interaction's canned response. Requests with no perfect match get a
// 404 with a diagnostic body describing the closest partial matches.
//
// The only shared state is the published index, which is immutable and
// swapped atomically on reload (SIGHUP or file watch). The hot path
// takes no locks.
package engine
