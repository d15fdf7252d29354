package live

import (
	"log/slog"
	"sync"
)

// Ref is a lightweight, lookup-only back-reference to a running view.
// It grants identity and addressing, never socket mutation: parents and
// test harnesses observe a view through its Ref, they do not own it.
type Ref struct {
	id     string
	module string
	proc   *Process

	// cancel aborts blocking operations when the holder's own process is
	// killed. Nil for refs held outside any view goroutine.
	cancel <-chan struct{}
}

// ID returns the view instance id.
func (r Ref) ID() string { return r.id }

// Module returns the view module name.
func (r Ref) Module() string { return r.module }

// Done returns a channel closed when the view process has terminated.
func (r Ref) Done() <-chan struct{} { return r.proc.Done() }

// Terminated reports whether the view process has fully terminated.
func (r Ref) Terminated() bool { return r.proc.Terminated() }

// Reason returns the exit reason once the process has terminated.
func (r Ref) Reason() (ExitReason, bool) { return r.proc.Reason() }

// Bound ties the ref's blocking operations to the calling view's own
// lifetime. Callbacks that address another view in the same tree must go
// through a bound ref: a render pass on the target may tear the caller
// down while it waits, and a bound Call or Patch then returns
// ErrTerminated instead of wedging the teardown.
func (r Ref) Bound(s *Socket) Ref {
	r.cancel = s.exiting
	return r
}

// SendInfo delivers an asynchronous message to the view.
func (r Ref) SendInfo(msg any) error { return r.proc.SendInfo(msg) }

// SendEvent delivers a client-style event to the view.
func (r Ref) SendEvent(name string, payload map[string]any) error {
	return r.proc.SendEvent(name, payload)
}

// Call blocks until the view replies or its process exits.
func (r Ref) Call(msg any) (any, error) { return r.proc.callFrom(msg, r.cancel) }

// Patch applies a same-view navigation to the given URI and waits for the
// params pass to settle. Redirect-class outcomes surface as the process
// exit error.
func (r Ref) Patch(uri string) error { return r.proc.syncPatchFrom(uri, r.cancel) }

// Snapshot returns a read-only copy of the view's socket, taken on the
// view's own goroutine so it never races a callback.
func (r Ref) Snapshot() (SocketSnapshot, error) { return r.proc.Snapshot() }

// Tree is the registry of parent-to-child view edges. It is the single
// authority for spawn and terminate decisions: edges are created when a
// parent's render declares a nested view and removed, with the whole
// subtree terminated, when the declaration disappears or the parent
// exits.
//
// The mutex guards only the registry maps. Child-set reconciliation for
// one parent is already serialized by that parent's process goroutine,
// so spawn callbacks run without holding the tree lock.
type Tree struct {
	mu    sync.Mutex
	nodes map[string]*treeNode

	logger *slog.Logger
}

type treeNode struct {
	ref      Ref
	parentID string
	children []string // insertion order
}

// NewTree creates an empty tree.
func NewTree(logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tree{
		nodes:  make(map[string]*treeNode),
		logger: logger.With("component", "view_tree"),
	}
}

// Register adds a view under a parent. An empty parentID registers a
// root. Duplicate ids within a parent's direct children are a fatal
// protocol violation: the client DOM cannot address two elements with
// the same identity.
func (t *Tree) Register(parentID string, ref Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[ref.id]; exists {
		return NewProtocolViolation(ref.id, "register", "view id already registered")
	}

	if parentID != "" {
		parent, ok := t.nodes[parentID]
		if !ok {
			return ErrViewNotFound
		}
		for _, childID := range parent.children {
			if childID == ref.id {
				return NewProtocolViolation(ref.id, "register", "duplicate child id under parent "+parentID)
			}
		}
		parent.children = append(parent.children, ref.id)
	}

	t.nodes[ref.id] = &treeNode{ref: ref, parentID: parentID}
	return nil
}

// Lookup returns the Ref for a view id.
func (t *Tree) Lookup(id string) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return Ref{}, false
	}
	return node.ref, true
}

// ChildrenOf returns a parent's direct children in insertion order.
func (t *Tree) ChildrenOf(parentID string) []Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[parentID]
	if !ok {
		return nil
	}
	refs := make([]Ref, 0, len(node.children))
	for _, childID := range node.children {
		if child, ok := t.nodes[childID]; ok {
			refs = append(refs, child.ref)
		}
	}
	return refs
}

// RootOf walks up the parent chain to the top-level view of id's tree.
func (t *Tree) RootOf(id string) (Ref, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return Ref{}, false
	}
	for node.parentID != "" {
		parent, ok := t.nodes[node.parentID]
		if !ok {
			break
		}
		node = parent
	}
	return node.ref, true
}

// Count returns the number of registered views.
func (t *Tree) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// RemoveSubtree detaches a view and all its descendants from the
// registry, then terminates them. Edges are removed first so a
// terminating child never outlives its place in the tree; termination
// then walks depth-first from the removed view down, and a parent's
// termination completes only after all of its descendants have exited.
func (t *Tree) RemoveSubtree(id string, reason ExitReason) {
	t.mu.Lock()
	d := t.detachLocked(id)
	t.mu.Unlock()

	if d == nil {
		return
	}
	terminateDetached(d, reason)
}

// terminateChildren detaches and terminates a parent's subtrees without
// touching the parent itself. Called by an exiting process for its own
// children.
func (t *Tree) terminateChildren(parentID string, reason ExitReason) {
	t.mu.Lock()
	var subtrees []*detachedNode
	if node, ok := t.nodes[parentID]; ok {
		childIDs := node.children
		node.children = nil
		for _, childID := range childIDs {
			if d := t.detachLocked(childID); d != nil {
				subtrees = append(subtrees, d)
			}
		}
	}
	t.mu.Unlock()

	for _, d := range subtrees {
		terminateDetached(d, reason)
	}
}

// detach removes a single node's entry and its edge from the parent.
// Used by a process removing itself on exit; its children are gone by
// then.
func (t *Tree) detach(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return
	}
	delete(t.nodes, id)
	t.removeChildEdgeLocked(node.parentID, id)
}

// detachedNode is a subtree removed from the registry, pending
// termination.
type detachedNode struct {
	proc     *Process
	children []*detachedNode
}

// detachLocked removes id and its descendants from the maps and returns
// the detached subtree. Caller holds t.mu.
func (t *Tree) detachLocked(id string) *detachedNode {
	node, ok := t.nodes[id]
	if !ok {
		return nil
	}
	delete(t.nodes, id)
	t.removeChildEdgeLocked(node.parentID, id)

	d := &detachedNode{proc: node.ref.proc}
	for _, childID := range node.children {
		if child := t.detachLocked(childID); child != nil {
			d.children = append(d.children, child)
		}
	}
	return d
}

func (t *Tree) removeChildEdgeLocked(parentID, id string) {
	if parentID == "" {
		return
	}
	parent, ok := t.nodes[parentID]
	if !ok {
		return
	}
	for i, childID := range parent.children {
		if childID == id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
}

// terminateDetached kills a detached subtree. Descendants finish before
// the node's own termination is considered complete.
func terminateDetached(d *detachedNode, reason ExitReason) {
	for _, child := range d.children {
		terminateDetached(child, reason)
	}
	if d.proc != nil {
		d.proc.kill(reason)
		<-d.proc.Done()
	}
}
