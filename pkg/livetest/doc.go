// Package livetest provides testing helpers for live views.
//
// The harness mounts a view tree against a real runtime, drives events
// and navigation through the same paths the WebSocket transport uses,
// and asserts on socket state without any HTTP plumbing.
//
// # Quick Start
//
//	func TestCounter_Increment(t *testing.T) {
//	    routes := live.NewRoutes().
//	        Add(live.Route{Pattern: "/counter/{id}", Module: "counter", New: NewCounter})
//
//	    h := livetest.New(t, routes)
//	    v := h.Mount("/counter/7")
//
//	    v.SendEvent("inc", nil)
//	    v.AssertAssign("count", 1)
//	}
//
// # Redirects
//
// Mount-time redirects surface without a process ever starting:
//
//	req := h.MountExpectRedirect("/old-path")
//	if req.To != "/new-path" {
//	    t.Errorf("redirected to %s", req.To)
//	}
//
// # Termination
//
// Exit reasons are observable the way a transport observes them:
//
//	v.SendEvent("leave", nil)
//	reason := v.WaitDone()
//	if reason.Kind != live.ExitLiveRedirect {
//	    t.Errorf("got %v", reason.Kind)
//	}
package livetest
