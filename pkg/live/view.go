package live

// View is the minimal contract a live view implements. Mount is invoked
// exactly once per process instance: once on the disconnected static
// render, once again when the client connects.
type View interface {
	Mount(params map[string]string, session map[string]any, s *Socket) Outcome
}

// ParamsHandler is implemented by views that react to URI changes. It is
// invoked on the initial mount when the route declares dynamic params and
// again after every patch. Derivation of LiveAction from the route shape
// must be idempotent: the same path always yields the same action.
type ParamsHandler interface {
	HandleParams(params map[string]string, uri string, s *Socket) Outcome
}

// EventHandler is implemented by views that receive client-originated
// events.
type EventHandler interface {
	HandleEvent(event string, payload map[string]any, s *Socket) Outcome
}

// InfoHandler is implemented by views that receive asynchronous process
// messages.
type InfoHandler interface {
	HandleInfo(msg any, s *Socket) Outcome
}

// CallHandler is implemented by views that answer synchronous calls. The
// caller blocks until the view replies or the process exits.
type CallHandler interface {
	HandleCall(msg any, s *Socket) Outcome
}

// ChildRenderer is implemented by views that nest child views. The
// returned declarations are the desired child set for this render pass;
// the tree diffs them against the previous pass.
type ChildRenderer interface {
	RenderChildren(s *Socket) []ChildDecl
}

// ChildDecl declares one nested view within a parent's render. IDs must
// be unique within a parent's direct children; a duplicate in the same
// pass is a fatal protocol violation.
type ChildDecl struct {
	// ID addresses the child in the DOM and the tree.
	ID string

	// Module names the child view implementation.
	Module string

	// New constructs a fresh view instance when the child is spawned.
	New func() View

	// Session is passed to the child's Mount.
	Session map[string]any

	// Params is passed to the child's Mount. Children do not own the
	// tree's URI, so they never receive HandleParams.
	Params map[string]string
}

// outcomeKind is the closed set of callback results.
type outcomeKind int

const (
	outcomeNoReply outcomeKind = iota
	outcomeReply
	outcomeNavigate
	outcomeStop
)

// Outcome is what a lifecycle callback returns: continue, reply, navigate,
// or stop. Construct it with NoReply, Reply, Navigate, or Stop.
type Outcome struct {
	kind  outcomeKind
	reply any
	nav   *NavigationRequest
	stop  *ExitReason
}

// NoReply continues without a reply. Socket mutations made during the
// callback are kept.
func NoReply() Outcome {
	return Outcome{kind: outcomeNoReply}
}

// Reply continues and delivers value to a blocked HandleCall caller.
func Reply(value any) Outcome {
	return Outcome{kind: outcomeReply, reply: value}
}

// Navigate continues with a navigation request. The request is resolved
// before the callback is considered settled.
func Navigate(req *NavigationRequest) Outcome {
	return Outcome{kind: outcomeNavigate, nav: req}
}

// Stop terminates the process with the given reason.
func Stop(reason ExitReason) Outcome {
	return Outcome{kind: outcomeStop, stop: &reason}
}

// StopNormal terminates the process cleanly.
func StopNormal() Outcome {
	return Stop(ExitReason{Kind: ExitNormal})
}
