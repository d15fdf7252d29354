package livetest

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/vivid-go/vivid/pkg/live"
	"github.com/vivid-go/vivid/pkg/telemetry"
)

// DefaultWait bounds how long WaitDone blocks before failing the test.
const DefaultWait = 5 * time.Second

// Harness drives a live runtime from tests.
type Harness struct {
	t  *testing.T
	rt *live.Runtime

	emitter       *telemetry.Emitter
	session       map[string]any
	connectParams map[string]string
}

// Option configures a Harness.
type Option func(*Harness)

// WithTelemetry attaches a telemetry emitter to the runtime.
func WithTelemetry(e *telemetry.Emitter) Option {
	return func(h *Harness) {
		h.emitter = e
	}
}

// WithSession sets the mount session data for every Mount call.
func WithSession(session map[string]any) Option {
	return func(h *Harness) {
		h.session = session
	}
}

// WithConnectParams sets the connect params for every Mount call.
func WithConnectParams(params map[string]string) Option {
	return func(h *Harness) {
		h.connectParams = params
	}
}

// New creates a Harness over the given route table. Logging is discarded
// so crash-path tests stay quiet.
func New(t *testing.T, routes *live.Routes, opts ...Option) *Harness {
	t.Helper()

	h := &Harness{t: t}
	for _, opt := range opts {
		opt(h)
	}

	h.rt = live.NewRuntime(live.RuntimeConfig{
		Routes:    routes,
		Telemetry: h.emitter,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

// Runtime returns the underlying runtime.
func (h *Harness) Runtime() *live.Runtime { return h.rt }

// Tree returns the runtime's view tree.
func (h *Harness) Tree() *live.Tree { return h.rt.Tree() }

// Mount spawns a connected root view at uri, failing the test on any
// mount error.
func (h *Harness) Mount(uri string) *TestView {
	h.t.Helper()

	ref, err := h.rt.SpawnRoot(live.RootConfig{
		URI:           uri,
		TransportID:   "test-transport",
		Session:       h.session,
		ConnectParams: h.connectParams,
	})
	if err != nil {
		h.t.Fatalf("mount %s: %v", uri, err)
	}
	return &TestView{t: h.t, ref: ref}
}

// TryMount spawns a connected root view and returns the raw result.
func (h *Harness) TryMount(uri string) (live.Ref, error) {
	return h.rt.SpawnRoot(live.RootConfig{
		URI:           uri,
		TransportID:   "test-transport",
		Session:       h.session,
		ConnectParams: h.connectParams,
	})
}

// MountExpectRedirect mounts a view whose mount must short-circuit into a
// redirect, and returns that redirect's exit reason.
func (h *Harness) MountExpectRedirect(uri string) live.ExitReason {
	h.t.Helper()

	_, err := h.TryMount(uri)
	if err == nil {
		h.t.Fatalf("mount %s: expected redirect, view mounted", uri)
	}

	var exit live.ExitReason
	if !errors.As(err, &exit) {
		h.t.Fatalf("mount %s: expected redirect exit, got %v", uri, err)
	}
	if exit.Kind != live.ExitLiveRedirect && exit.Kind != live.ExitRedirect {
		h.t.Fatalf("mount %s: expected redirect exit, got %v", uri, exit.Kind)
	}
	return exit
}

// RenderStatic runs the disconnected render for uri, failing the test on
// error.
func (h *Harness) RenderStatic(uri string) *live.StaticResult {
	h.t.Helper()

	result, err := h.rt.RenderStatic(uri, h.session)
	if err != nil {
		h.t.Fatalf("static render %s: %v", uri, err)
	}
	return result
}

// TestView wraps a mounted view for assertions.
type TestView struct {
	t   *testing.T
	ref live.Ref
}

// Ref returns the underlying view reference.
func (v *TestView) Ref() live.Ref { return v.ref }

// ID returns the view instance id.
func (v *TestView) ID() string { return v.ref.ID() }

// SendEvent delivers a client event, failing the test if the view is
// already gone.
func (v *TestView) SendEvent(name string, payload map[string]any) {
	v.t.Helper()
	if err := v.ref.SendEvent(name, payload); err != nil {
		v.t.Fatalf("send event %q: %v", name, err)
	}
}

// SendInfo delivers an internal message.
func (v *TestView) SendInfo(msg any) {
	v.t.Helper()
	if err := v.ref.SendInfo(msg); err != nil {
		v.t.Fatalf("send info: %v", err)
	}
}

// Call performs a synchronous call and returns the reply.
func (v *TestView) Call(msg any) any {
	v.t.Helper()
	reply, err := v.ref.Call(msg)
	if err != nil {
		v.t.Fatalf("call: %v", err)
	}
	return reply
}

// Patch navigates the view to uri and waits for the params pass.
func (v *TestView) Patch(uri string) {
	v.t.Helper()
	if err := v.ref.Patch(uri); err != nil {
		v.t.Fatalf("patch %s: %v", uri, err)
	}
}

// Snapshot returns the view's socket state, failing the test if the view
// has terminated.
func (v *TestView) Snapshot() live.SocketSnapshot {
	v.t.Helper()
	snap, err := v.ref.Snapshot()
	if err != nil {
		v.t.Fatalf("snapshot: %v", err)
	}
	return snap
}

// Assign returns one assign value.
func (v *TestView) Assign(key string) any {
	v.t.Helper()
	return v.Snapshot().Assigns[key]
}

// AssertAssign fails the test unless the assign equals want.
func (v *TestView) AssertAssign(key string, want any) {
	v.t.Helper()
	got := v.Assign(key)
	if !reflect.DeepEqual(got, want) {
		v.t.Errorf("assign %q = %v, want %v", key, got, want)
	}
}

// WaitDone blocks until the view terminates and returns its exit reason.
func (v *TestView) WaitDone() live.ExitReason {
	v.t.Helper()

	select {
	case <-v.ref.Done():
	case <-time.After(DefaultWait):
		v.t.Fatalf("view %s did not terminate within %v", v.ref.ID(), DefaultWait)
	}

	reason, ok := v.ref.Reason()
	if !ok {
		v.t.Fatalf("view %s terminated without a reason", v.ref.ID())
	}
	return reason
}

// AssertTerminated fails unless the view exits with the given kind.
func (v *TestView) AssertTerminated(kind live.ExitKind) live.ExitReason {
	v.t.Helper()
	reason := v.WaitDone()
	if reason.Kind != kind {
		v.t.Errorf("exit kind = %v, want %v", reason.Kind, kind)
	}
	return reason
}
