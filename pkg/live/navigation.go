package live

import (
	"log/slog"
)

// NavKind classifies a navigation request.
type NavKind int

const (
	// NavPatch updates the URI in place: the same process re-derives
	// params, no new process is spawned.
	NavPatch NavKind = iota

	// NavPushRedirect tears down the current tree; the client establishes
	// a new live connection to the target route.
	NavPushRedirect

	// NavRedirect tears down the current tree for a full page navigation.
	NavRedirect

	// NavExternal is a redirect to an absolute URL the framework does not
	// resolve internally.
	NavExternal
)

// String returns the kind name.
func (k NavKind) String() string {
	switch k {
	case NavPatch:
		return "patch"
	case NavPushRedirect:
		return "push_redirect"
	case NavRedirect:
		return "redirect"
	case NavExternal:
		return "external"
	default:
		return "unknown"
	}
}

// NavigationRequest is created inside a callback's return value and
// consumed immediately by the navigation controller; it is never
// persisted.
type NavigationRequest struct {
	Kind  NavKind
	To    string
	Flash map[string]string
}

// Patch requests an in-place URI update on the current tree.
func Patch(to string) *NavigationRequest {
	return &NavigationRequest{Kind: NavPatch, To: to}
}

// PushRedirect requests teardown plus a new live connection to the target.
func PushRedirect(to string) *NavigationRequest {
	return &NavigationRequest{Kind: NavPushRedirect, To: to}
}

// Redirect requests teardown plus a full page navigation.
func Redirect(to string) *NavigationRequest {
	return &NavigationRequest{Kind: NavRedirect, To: to}
}

// External requests a redirect to an absolute external URL.
func External(to string) *NavigationRequest {
	return &NavigationRequest{Kind: NavExternal, To: to}
}

// WithFlash attaches flash data to the request.
func (r *NavigationRequest) WithFlash(flash map[string]string) *NavigationRequest {
	r.Flash = flash
	return r
}

// exitReason converts a redirect-class request into the exit reason the
// owning root terminates with.
func (r *NavigationRequest) exitReason() ExitReason {
	switch r.Kind {
	case NavPushRedirect:
		return ExitReason{Kind: ExitLiveRedirect, To: r.To}
	default:
		return ExitReason{Kind: ExitRedirect, To: r.To}
	}
}

// Controller interprets navigation requests raised by view callbacks.
// Only the root of a tree owns the client connection, so every request
// from a nested view propagates up: a child's push_redirect terminates
// the root, not just the child, and a child's patch re-derives params on
// the root process.
type Controller struct {
	tree   *Tree
	logger *slog.Logger
}

// NewController creates a navigation controller over a tree.
func NewController(tree *Tree, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		tree:   tree,
		logger: logger.With("component", "navigation"),
	}
}

// redirect terminates origin's root with the request's exit reason. If
// the root is already gone the request is inert.
func (c *Controller) redirect(origin *Process, req *NavigationRequest) {
	root := c.rootOf(origin)
	if root == nil {
		c.logger.Debug("navigation request with no living root, dropping",
			"kind", req.Kind.String(),
			"to", req.To)
		return
	}
	root.kill(req.exitReason())
}

// patchTarget returns the process that must re-derive params for a patch
// raised by origin. For a root that is origin itself; for a child it is
// the tree's root.
func (c *Controller) patchTarget(origin *Process) *Process {
	root := c.rootOf(origin)
	if root == nil {
		return origin
	}
	return root
}

// rootOf resolves origin's tree root, falling back to origin when it is
// not (yet) registered.
func (c *Controller) rootOf(origin *Process) *Process {
	ref, ok := c.tree.RootOf(origin.ID())
	if !ok {
		if origin.Terminated() {
			return nil
		}
		return origin
	}
	if ref.proc.Terminated() {
		return nil
	}
	return ref.proc
}
