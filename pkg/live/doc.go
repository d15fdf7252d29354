// Package live implements the server-side view process lifecycle: the
// per-view socket state, the mount/params/event/info/call state machine,
// the parent/child view tree with cascading teardown, and the navigation
// protocol (patch, push-redirect, redirect, external).
//
// Each view runs as one goroutine with an owned inbox and processes its
// callbacks strictly sequentially. The only shared structure is the Tree,
// which is the single authority for spawn and terminate decisions.
//
// The rendering engine, HTML diffing, and wire transport live elsewhere;
// this package deals in sockets, outcomes, and exit reasons.
package live
