package live

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/vivid-go/vivid/pkg/telemetry"
)

// State is the view process lifecycle state, exposed for observers and
// tests. Only the owning goroutine moves a process between states.
type State int32

const (
	StateUnmounted State = iota
	StateStaticRendering
	StateStaticRendered
	StateConnecting
	StateMounted
	StateHandlingParams
	StateHandlingEvent
	StateHandlingInfo
	StateHandlingCall
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateStaticRendering:
		return "static_rendering"
	case StateStaticRendered:
		return "static_rendered"
	case StateConnecting:
		return "connecting"
	case StateMounted:
		return "mounted"
	case StateHandlingParams:
		return "handling_params"
	case StateHandlingEvent:
		return "handling_event"
	case StateHandlingInfo:
		return "handling_info"
	case StateHandlingCall:
		return "handling_call"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	// Routes is the route table used to resolve URIs.
	Routes *Routes

	// Telemetry wraps every callback. Nil disables instrumentation.
	Telemetry *telemetry.Emitter

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// InboxSize is the per-process message buffer. Default: 64.
	InboxSize int
}

// Runtime owns the view tree, the route table, and the navigation
// controller for one endpoint. All view processes of all connections
// spawn through it.
type Runtime struct {
	tree      *Tree
	routes    *Routes
	nav       *Controller
	telemetry *telemetry.Emitter
	logger    *slog.Logger
	inboxSize int
}

// NewRuntime creates a Runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Routes == nil {
		cfg.Routes = NewRoutes()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}

	tree := NewTree(cfg.Logger)
	return &Runtime{
		tree:      tree,
		routes:    cfg.Routes,
		nav:       NewController(tree, cfg.Logger),
		telemetry: cfg.Telemetry,
		logger:    cfg.Logger,
		inboxSize: cfg.InboxSize,
	}
}

// Tree returns the view tree registry.
func (rt *Runtime) Tree() *Tree { return rt.tree }

// Routes returns the route table.
func (rt *Runtime) Routes() *Routes { return rt.routes }

// generateViewID returns a fresh sortable view instance id.
func generateViewID() string {
	return ulid.Make().String()
}

// =============================================================================
// Disconnected path: static render
// =============================================================================

// StaticResult is the outcome of a disconnected render: either the
// mounted socket state to serialize into HTML, or a redirect the HTTP
// layer must issue instead.
type StaticResult struct {
	Socket   SocketSnapshot
	Redirect *NavigationRequest
}

// RenderStatic runs the disconnected mount for a URI: the view's Mount
// and params pass execute synchronously, no goroutine is started, and no
// tree edges are created. Children declared by the view are rendered by
// the HTML layer, not spawned.
//
// A redirect-class outcome short-circuits into StaticResult.Redirect. A
// patch attempt during mount is a fatal protocol violation.
func (rt *Runtime) RenderStatic(uri string, session map[string]any) (*StaticResult, error) {
	route, params, ok := rt.routes.Match(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, uri)
	}

	p := rt.newProcess(route.New(), route.Module, generateViewID(), "")
	p.static = true
	p.socket.URI = uri
	p.socket.Params = params
	p.socket.LiveAction = route.Action

	p.state.Store(int32(StateStaticRendering))

	if exit := p.runMount(session); exit != nil {
		if req := redirectRequest(exit); req != nil {
			return &StaticResult{Redirect: req}, nil
		}
		return nil, exitError(exit)
	}

	if exit := p.initialParams(); exit != nil {
		if req := redirectRequest(exit); req != nil {
			return &StaticResult{Redirect: req}, nil
		}
		return nil, exitError(exit)
	}

	p.state.Store(int32(StateStaticRendered))
	return &StaticResult{Socket: p.socket.Snapshot()}, nil
}

// redirectRequest reconstructs the navigation request for a
// redirect-class exit reason, or nil for other kinds.
func redirectRequest(exit *ExitReason) *NavigationRequest {
	switch exit.Kind {
	case ExitLiveRedirect:
		return PushRedirect(exit.To)
	case ExitRedirect:
		return Redirect(exit.To)
	default:
		return nil
	}
}

// exitError converts a failed startup into the error the caller observes:
// the underlying failure for crashes, the reason itself otherwise.
func exitError(exit *ExitReason) error {
	if exit.Kind == ExitCrash && exit.Err != nil {
		return exit.Err
	}
	return *exit
}

// =============================================================================
// Connected path: spawn
// =============================================================================

// RootConfig configures a connected root spawn.
type RootConfig struct {
	// URI is the mount target, path plus query.
	URI string

	// TransportID is the live connection handle.
	TransportID string

	// Session is the mount data recovered from the verified session token.
	Session map[string]any

	// ConnectParams are low-level connect params (the _mounts attempt
	// counter among them), merged into the route params without
	// overriding captures or query pairs.
	ConnectParams map[string]string

	// ID overrides the generated view id. Tests use this.
	ID string
}

// SpawnRoot mounts a connected root view and starts its process. The
// mount and initial params pass run synchronously: any redirect-class
// outcome, stop, or failure is returned as a connection establishment
// error and the process never starts.
func (rt *Runtime) SpawnRoot(cfg RootConfig) (Ref, error) {
	route, params, ok := rt.routes.Match(cfg.URI)
	if !ok {
		return Ref{}, fmt.Errorf("%w: %s", ErrRouteNotFound, cfg.URI)
	}

	for k, v := range cfg.ConnectParams {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}

	id := cfg.ID
	if id == "" {
		id = generateViewID()
	}

	p := rt.newProcess(route.New(), route.Module, id, "")
	p.socket.setTransport(cfg.TransportID)
	p.socket.URI = cfg.URI
	p.socket.Params = params
	p.socket.LiveAction = route.Action

	ref := Ref{id: p.id, module: p.socket.Module, proc: p}
	if err := rt.tree.Register("", ref); err != nil {
		p.shutdown(ExitReason{Kind: ExitCrash, Err: err})
		return Ref{}, err
	}

	p.state.Store(int32(StateConnecting))

	if exit := p.runMount(cfg.Session); exit != nil {
		p.shutdown(*exit)
		return Ref{}, exitError(exit)
	}
	if exit := p.initialParams(); exit != nil {
		p.shutdown(*exit)
		return Ref{}, exitError(exit)
	}

	p.state.Store(int32(StateMounted))
	go p.run()

	rt.logger.Info("view mounted",
		"view_id", p.id,
		"module", p.socket.Module,
		"uri", cfg.URI,
		"transport_id", cfg.TransportID)

	return ref, nil
}

// spawnChild mounts a nested view under parent. Children inherit the
// parent's transport and URI but never own the tree's URI, so they do
// not receive a params pass.
func (rt *Runtime) spawnChild(parent *Process, decl ChildDecl) (Ref, error) {
	if decl.New == nil {
		return Ref{}, NewProtocolViolation(decl.ID, "spawn_child", "child declaration has no constructor")
	}

	view := decl.New()
	module := decl.Module
	if module == "" {
		module = fmt.Sprintf("%T", view)
	}
	id := decl.ID
	if id == "" {
		id = generateViewID()
	}

	p := rt.newProcess(view, module, id, parent.id)
	p.socket.setTransport(parent.socket.TransportID)
	p.socket.URI = parent.socket.URI
	if decl.Params != nil {
		p.socket.Params = cloneParams(decl.Params)
	}

	ref := Ref{id: p.id, module: module, proc: p}
	if err := rt.tree.Register(parent.id, ref); err != nil {
		p.shutdown(ExitReason{Kind: ExitCrash, Err: err})
		return Ref{}, err
	}

	p.state.Store(int32(StateConnecting))

	if exit := p.runMount(decl.Session); exit != nil {
		// A redirect raised by a child's mount is not the child's to act
		// on: the tree's root owns the connection and terminates with it.
		if exit.Kind == ExitLiveRedirect || exit.Kind == ExitRedirect {
			if root, ok := rt.tree.RootOf(parent.id); ok {
				root.proc.kill(*exit)
			}
		}
		p.shutdown(*exit)
		return Ref{}, exitError(exit)
	}

	if exit := p.renderPass(); exit != nil {
		p.shutdown(*exit)
		return Ref{}, exitError(exit)
	}

	p.state.Store(int32(StateMounted))
	go p.run()

	return ref, nil
}

// reconcile diffs a parent's declared child set against the previous
// pass: new ids spawn, missing ids terminate with their subtrees,
// retained ids are left running. Duplicate ids in one pass are fatal.
// Serialization per parent is guaranteed by the parent's own goroutine.
func (rt *Runtime) reconcile(parent *Process, decls []ChildDecl) error {
	declared := make(map[string]struct{}, len(decls))
	for _, d := range decls {
		if _, dup := declared[d.ID]; dup {
			return NewProtocolViolation(parent.id, "render", "duplicate child id "+d.ID+" in one render pass")
		}
		declared[d.ID] = struct{}{}
	}

	existing := make(map[string]struct{})
	for _, ref := range rt.tree.ChildrenOf(parent.id) {
		if _, keep := declared[ref.id]; !keep {
			rt.tree.RemoveSubtree(ref.id, ExitReason{Kind: ExitNormal})
			continue
		}
		existing[ref.id] = struct{}{}
	}

	for _, d := range decls {
		if _, running := existing[d.ID]; running {
			continue
		}
		if _, err := rt.spawnChild(parent, d); err != nil {
			// The failed child terminated with its own reason; siblings
			// and the parent keep running.
			rt.logger.Warn("child spawn failed",
				"parent_id", parent.id,
				"child_id", d.ID,
				"error", err)
		}
	}

	return nil
}

// =============================================================================
// Process
// =============================================================================

// Process is one view instance: a socket owned by a single goroutine
// that executes lifecycle callbacks strictly sequentially from its inbox.
type Process struct {
	id     string
	rt     *Runtime
	view   View
	socket *Socket
	logger *slog.Logger

	// static marks a disconnected render shell; no goroutine, no tree.
	static bool

	state atomic.Int32

	inbox chan message

	// quit is closed by kill; the loop exits with killReason.
	quit       chan struct{}
	killOnce   sync.Once
	killReason ExitReason

	// loopExited is closed as soon as the process stops draining its
	// inbox, before teardown completes. Senders select on it to avoid
	// blocking on a dying process.
	loopExited chan struct{}
	exitOnce   sync.Once

	// done is closed when termination is complete: all descendants have
	// exited and the exit reason is recorded.
	done     chan struct{}
	reasonMu sync.Mutex
	reason   *ExitReason
}

type message interface{}

type patchMsg struct {
	uri string
	ack chan error
}

type eventMsg struct {
	name    string
	payload map[string]any
}

type infoMsg struct {
	msg any
}

type callReply struct {
	value any
	err   error
}

type callMsg struct {
	msg   any
	reply chan callReply
}

type snapshotMsg struct {
	reply chan SocketSnapshot
}

// newProcess creates an unmounted process.
func (rt *Runtime) newProcess(view View, module, id, parentID string) *Process {
	p := &Process{
		id:         id,
		rt:         rt,
		view:       view,
		socket:     newSocket(id, module, parentID),
		logger:     rt.logger.With("view_id", id, "module", module),
		inbox:      make(chan message, rt.inboxSize),
		quit:       make(chan struct{}),
		loopExited: make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.socket.exiting = p.quit
	p.state.Store(int32(StateUnmounted))
	return p
}

// ID returns the view instance id.
func (p *Process) ID() string { return p.id }

// Module returns the view module name.
func (p *Process) Module() string { return p.socket.Module }

// State returns the current lifecycle state.
func (p *Process) State() State { return State(p.state.Load()) }

// Done returns a channel closed when termination is complete.
func (p *Process) Done() <-chan struct{} { return p.done }

// Terminated reports whether the process has fully terminated.
func (p *Process) Terminated() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Reason returns the exit reason once the process has terminated.
func (p *Process) Reason() (ExitReason, bool) {
	p.reasonMu.Lock()
	defer p.reasonMu.Unlock()
	if p.reason == nil {
		return ExitReason{}, false
	}
	return *p.reason, true
}

// kill requests termination with the given reason. The first reason
// wins; the loop exits after the in-flight callback, if any, settles.
func (p *Process) kill(reason ExitReason) {
	p.killOnce.Do(func() {
		p.killReason = reason
		close(p.quit)
	})
}

// SendEvent delivers a client-originated event. Asynchronous: it returns
// once the event is queued.
func (p *Process) SendEvent(name string, payload map[string]any) error {
	select {
	case p.inbox <- eventMsg{name: name, payload: payload}:
		return nil
	case <-p.loopExited:
		return p.exitErr()
	}
}

// SendInfo delivers an asynchronous process message.
func (p *Process) SendInfo(msg any) error {
	select {
	case p.inbox <- infoMsg{msg: msg}:
		return nil
	case <-p.loopExited:
		return p.exitErr()
	}
}

// Call sends a synchronous message and blocks until the view replies or
// the process exits. A call against a crashing process returns the
// abnormal exit instead of a value.
func (p *Process) Call(msg any) (any, error) {
	return p.callFrom(msg, nil)
}

// callFrom is Call with the caller's own quit channel. A caller killed
// while it waits gets ErrTerminated instead of blocking, so a teardown
// that includes the caller can complete. A nil origin never fires.
func (p *Process) callFrom(msg any, origin <-chan struct{}) (any, error) {
	reply := make(chan callReply, 1)
	select {
	case p.inbox <- callMsg{msg: msg, reply: reply}:
	case <-p.loopExited:
		return nil, p.exitErr()
	case <-origin:
		return nil, ErrTerminated
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-p.loopExited:
		return nil, p.exitErr()
	case <-origin:
		return nil, ErrTerminated
	}
}

// Snapshot returns a read-only socket copy taken on the process's own
// goroutine.
func (p *Process) Snapshot() (SocketSnapshot, error) {
	reply := make(chan SocketSnapshot, 1)
	select {
	case p.inbox <- snapshotMsg{reply: reply}:
	case <-p.loopExited:
		return SocketSnapshot{}, p.exitErr()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-p.loopExited:
		return SocketSnapshot{}, p.exitErr()
	}
}

// syncPatchFrom applies a patch on this process's goroutine and blocks
// the caller until the params pass settles; origin is the caller's own
// quit channel, nil for callers outside any view goroutine. The params
// pass may remove the very child that raised the patch; that child is
// killed while it waits for the ack here and must observe the kill so
// its callback settles, otherwise it wedges against the root waiting on
// its termination.
func (p *Process) syncPatchFrom(uri string, origin <-chan struct{}) error {
	ack := make(chan error, 1)
	select {
	case p.inbox <- patchMsg{uri: uri, ack: ack}:
	case <-p.loopExited:
		return ErrRootTerminated
	case <-origin:
		return ErrTerminated
	}
	select {
	case err := <-ack:
		return err
	case <-p.loopExited:
		return ErrRootTerminated
	case <-origin:
		return ErrTerminated
	}
}

// exitErr is the non-blocking error for senders hitting a dead process.
func (p *Process) exitErr() error {
	if r, ok := p.Reason(); ok {
		return r
	}
	return ErrTerminated
}

// run is the process goroutine: drain the inbox sequentially until an
// exit reason emerges, then tear down.
func (p *Process) run() {
	reason := p.loop()
	p.shutdown(reason)
}

// loop processes messages one at a time. A pending kill takes precedence
// over queued messages.
func (p *Process) loop() ExitReason {
	for {
		select {
		case <-p.quit:
			return p.killReason
		default:
		}

		select {
		case <-p.quit:
			return p.killReason
		case m := <-p.inbox:
			if exit := p.handle(m); exit != nil {
				return *exit
			}
		}
	}
}

// shutdown completes termination: stop draining, terminate descendants
// (they must not outlive this process's own termination), leave the
// tree, record the reason, and release waiters.
func (p *Process) shutdown(reason ExitReason) {
	p.state.Store(int32(StateTerminated))
	p.exitOnce.Do(func() { close(p.loopExited) })

	p.rt.tree.terminateChildren(p.id, ExitReason{Kind: ExitNormal})
	p.rt.tree.detach(p.id)

	p.reasonMu.Lock()
	p.reason = &reason
	p.reasonMu.Unlock()

	if reason.Kind != ExitNormal {
		p.logger.Info("view terminated",
			"reason", reason.Kind.String(),
			"to", reason.To,
			"error", reason.Err)
	}

	close(p.done)
}

// handle dispatches one inbox message. A non-nil return exits the loop.
func (p *Process) handle(m message) *ExitReason {
	switch msg := m.(type) {
	case patchMsg:
		exit := p.paramsPass(msg.uri)
		if exit != nil {
			msg.ack <- *exit
			return exit
		}
		msg.ack <- nil
		p.state.Store(int32(StateMounted))
		return nil

	case eventMsg:
		h, ok := p.view.(EventHandler)
		if !ok {
			p.logger.Warn("event for view without event handler", "event", msg.name)
			return nil
		}
		p.state.Store(int32(StateHandlingEvent))
		md := p.metadata()
		md.Event = msg.name
		md.Params = cloneParams(p.socket.Params)
		out, cbErr := p.invoke(telemetry.CallbackEvent, md, func() Outcome {
			return h.HandleEvent(msg.name, msg.payload, p.socket)
		})
		exit := p.settle(out, cbErr)
		if exit == nil {
			p.state.Store(int32(StateMounted))
		}
		return exit

	case infoMsg:
		h, ok := p.view.(InfoHandler)
		if !ok {
			p.logger.Warn("info for view without info handler")
			return nil
		}
		p.state.Store(int32(StateHandlingInfo))
		out, cbErr := p.invoke(telemetry.CallbackInfo, p.metadata(), func() Outcome {
			return h.HandleInfo(msg.msg, p.socket)
		})
		exit := p.settle(out, cbErr)
		if exit == nil {
			p.state.Store(int32(StateMounted))
		}
		return exit

	case callMsg:
		h, ok := p.view.(CallHandler)
		if !ok {
			msg.reply <- callReply{err: fmt.Errorf("live: view %s does not handle calls", p.id)}
			return nil
		}
		p.state.Store(int32(StateHandlingCall))
		out, cbErr := p.invoke(telemetry.CallbackCall, p.metadata(), func() Outcome {
			return h.HandleCall(msg.msg, p.socket)
		})
		if cbErr != nil {
			exit := &ExitReason{Kind: ExitCrash, Err: cbErr}
			msg.reply <- callReply{err: *exit}
			return exit
		}
		if out.kind == outcomeReply {
			msg.reply <- callReply{value: out.reply}
		} else {
			msg.reply <- callReply{}
		}
		exit := p.settle(out, nil)
		if exit == nil {
			p.state.Store(int32(StateMounted))
		}
		return exit

	case snapshotMsg:
		msg.reply <- p.socket.Snapshot()
		return nil

	default:
		p.logger.Warn("unknown message", "type", fmt.Sprintf("%T", m))
		return nil
	}
}

// settle resolves a callback's outcome. Navigation raised inside the
// callback is fully resolved here, before the callback is considered
// settled from the caller's perspective.
func (p *Process) settle(out Outcome, cbErr *CallbackError) *ExitReason {
	if cbErr != nil {
		return &ExitReason{Kind: ExitCrash, Err: cbErr}
	}

	switch out.kind {
	case outcomeNoReply, outcomeReply:
		return p.renderPass()

	case outcomeNavigate:
		return p.resolveNav(out.nav)

	case outcomeStop:
		return out.stop
	}
	return nil
}

// resolveNav dispatches a navigation request. Patches resolve on the
// tree's root; redirect kinds terminate the root with the matching
// reason. A request with no living root is inert.
func (p *Process) resolveNav(req *NavigationRequest) *ExitReason {
	switch req.Kind {
	case NavPatch:
		target := p.rt.nav.patchTarget(p)
		if target == p {
			return p.paramsPass(req.To)
		}
		if err := target.syncPatchFrom(req.To, p.quit); err != nil {
			p.logger.Debug("patch dropped", "to", req.To, "error", err)
		}
		return nil

	default:
		p.rt.nav.redirect(p, req)
		return nil
	}
}

// runMount invokes Mount. A nil return proceeds to the params pass; a
// non-nil return is the short-circuit exit: the process never reaches
// mounted, and the caller converts the reason into an HTTP redirect
// (disconnected) or a connection establishment failure (connected).
func (p *Process) runMount(session map[string]any) *ExitReason {
	out, cbErr := p.invoke(telemetry.CallbackMount, p.metadata(), func() Outcome {
		return p.view.Mount(cloneParams(p.socket.Params), session, p.socket)
	})
	if cbErr != nil {
		return &ExitReason{Kind: ExitCrash, Err: cbErr}
	}

	switch out.kind {
	case outcomeNavigate:
		if out.nav.Kind == NavPatch {
			// A view cannot be mounted while issuing a live patch to its
			// own client. Fatal, never a silent no-op.
			v := NewProtocolViolation(p.id, "mount", "patch during mount")
			return &ExitReason{Kind: ExitCrash, Err: v}
		}
		r := out.nav.exitReason()
		return &r

	case outcomeStop:
		return out.stop
	}
	return nil
}

// initialParams runs the mount-phase params pass for views that handle
// params, or just the child render pass otherwise.
func (p *Process) initialParams() *ExitReason {
	if _, ok := p.view.(ParamsHandler); ok {
		return p.paramsPass(p.socket.URI)
	}
	return p.renderPass()
}

// paramsPass re-derives params, URI, and live action from the route
// table and invokes HandleParams. A patch returned from HandleParams
// re-enters the pass with the new URI before anything settles; the same
// path shape always re-derives the same live action.
func (p *Process) paramsPass(uri string) *ExitReason {
	for {
		route, params, ok := p.rt.routes.Match(uri)
		if !ok {
			return &ExitReason{Kind: ExitCrash, Err: fmt.Errorf("%w: %s", ErrRouteNotFound, uri)}
		}

		p.socket.URI = uri
		p.socket.Params = params
		p.socket.LiveAction = route.Action

		h, handles := p.view.(ParamsHandler)
		if !handles {
			return p.renderPass()
		}

		p.state.Store(int32(StateHandlingParams))
		md := p.metadata()
		md.Params = cloneParams(params)
		out, cbErr := p.invoke(telemetry.CallbackParams, md, func() Outcome {
			return h.HandleParams(cloneParams(params), uri, p.socket)
		})
		if cbErr != nil {
			return &ExitReason{Kind: ExitCrash, Err: cbErr}
		}

		switch out.kind {
		case outcomeNoReply, outcomeReply:
			return p.renderPass()

		case outcomeNavigate:
			if out.nav.Kind == NavPatch {
				uri = out.nav.To
				continue
			}
			r := out.nav.exitReason()
			return &r

		case outcomeStop:
			return out.stop
		}
		return nil
	}
}

// renderPass reconciles the view's declared children for this pass.
// Static shells skip it; their children belong to the HTML layer.
func (p *Process) renderPass() *ExitReason {
	if p.static {
		return nil
	}
	cr, ok := p.view.(ChildRenderer)
	if !ok {
		return nil
	}

	decls, panicErr := p.renderChildren(cr)
	if panicErr != nil {
		return &ExitReason{Kind: ExitCrash, Err: panicErr}
	}

	if err := p.rt.reconcile(p, decls); err != nil {
		return &ExitReason{Kind: ExitCrash, Err: err}
	}
	return nil
}

// renderChildren collects child declarations, converting a panic in the
// render into a callback failure.
func (p *Process) renderChildren(cr ChildRenderer) (decls []ChildDecl, err *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			err = NewCallbackError(p.id, "render_children", r, debug.Stack())
		}
	}()
	decls = cr.RenderChildren(p.socket)
	return decls, nil
}

// invoke executes one lifecycle callback under the telemetry contract.
// The emitter re-raises panics after the exception event; invoke converts
// them into the CallbackError the process terminates with.
func (p *Process) invoke(cb telemetry.Callback, md telemetry.Metadata, fn func() Outcome) (out Outcome, cbErr *CallbackError) {
	defer func() {
		if r := recover(); r != nil {
			cbErr = NewCallbackError(p.id, string(cb), r, debug.Stack())
		}
	}()
	p.rt.telemetry.Wrap(context.Background(), cb, md, func() {
		out = fn()
	})
	return out, nil
}

// metadata builds the telemetry metadata for this socket. TransportID is
// present iff connected.
func (p *Process) metadata() telemetry.Metadata {
	return telemetry.Metadata{
		ViewID:      p.id,
		Module:      p.socket.Module,
		Connected:   p.socket.Connected,
		TransportID: p.socket.TransportID,
		URI:         p.socket.URI,
	}
}

// cloneParams copies a params map so callback arguments never alias the
// socket's own state.
func cloneParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
