package live

import (
	"errors"
	"fmt"
)

// Sentinel errors for common lifecycle and navigation conditions.
var (
	// ErrTerminated is returned when an operation targets a view process
	// that has already exited.
	ErrTerminated = errors.New("live: view process terminated")

	// ErrViewNotFound is returned when a view id does not exist in the tree.
	ErrViewNotFound = errors.New("live: view not found")

	// ErrRouteNotFound is returned when no route matches a navigation target.
	ErrRouteNotFound = errors.New("live: no route matches path")

	// ErrRootTerminated is returned when a navigation request needs a living
	// root process and there is none. The request is inert.
	ErrRootTerminated = errors.New("live: root process terminated")

	// ErrNotMounted is returned when a connected-only operation is attempted
	// on a process that never reached the mounted state.
	ErrNotMounted = errors.New("live: view not mounted")
)

// ProtocolViolation is a fatal, synchronously raised misuse of the view
// protocol: patching during mount, registering duplicate child ids, or
// reading an assign that was never set. Violations are programming errors
// by contract and are never retried.
type ProtocolViolation struct {
	ViewID string
	Op     string
	Detail string
}

// Error returns the violation message.
func (e *ProtocolViolation) Error() string {
	if e.ViewID == "" {
		return fmt.Sprintf("live: protocol violation: %s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("live: protocol violation in view %s: %s: %s", e.ViewID, e.Op, e.Detail)
}

// NewProtocolViolation creates a ProtocolViolation.
func NewProtocolViolation(viewID, op, detail string) *ProtocolViolation {
	return &ProtocolViolation{ViewID: viewID, Op: op, Detail: detail}
}

// CallbackError wraps a panic raised inside a lifecycle callback. The
// owning process terminates carrying this as its exit reason; anything
// awaiting that process observes the abnormal exit instead of a result.
type CallbackError struct {
	ViewID   string
	Callback string
	Panic    any
	Stack    []byte
}

// Error returns the error message.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("live: %s panicked in view %s: %v", e.Callback, e.ViewID, e.Panic)
}

// NewCallbackError creates a CallbackError from a recovered panic.
func NewCallbackError(viewID, callback string, panicVal any, stack []byte) *CallbackError {
	return &CallbackError{
		ViewID:   viewID,
		Callback: callback,
		Panic:    panicVal,
		Stack:    stack,
	}
}

// ExitKind classifies why a view process terminated.
type ExitKind int

const (
	// ExitNormal is a clean stop (explicit Stop outcome or tree teardown).
	ExitNormal ExitKind = iota

	// ExitLiveRedirect tears the view down so the client can establish a
	// new live connection to the target route.
	ExitLiveRedirect

	// ExitRedirect tears the view down for a full page navigation.
	ExitRedirect

	// ExitStale means the connect-time token failed verification. The
	// process never started.
	ExitStale

	// ExitCrash is an uncaught callback failure or protocol violation.
	ExitCrash
)

// String returns the kind name.
func (k ExitKind) String() string {
	switch k {
	case ExitNormal:
		return "normal"
	case ExitLiveRedirect:
		return "live_redirect"
	case ExitRedirect:
		return "redirect"
	case ExitStale:
		return "stale"
	case ExitCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// ExitReason is the terminal outcome of a view process. To is set for
// redirect kinds; Err for stale and crash kinds.
type ExitReason struct {
	Kind ExitKind
	To   string
	Err  error
}

// Error implements error so an ExitReason can propagate as an abnormal
// termination to callers awaiting the process.
func (r ExitReason) Error() string {
	switch r.Kind {
	case ExitLiveRedirect:
		return fmt.Sprintf("live: exit {live_redirect, %s}", r.To)
	case ExitRedirect:
		return fmt.Sprintf("live: exit {redirect, %s}", r.To)
	case ExitStale:
		return "live: exit {stale}"
	case ExitCrash:
		return fmt.Sprintf("live: exit {crash, %v}", r.Err)
	default:
		return "live: exit {normal}"
	}
}

// Unwrap exposes the underlying error for errors.Is/As.
func (r ExitReason) Unwrap() error {
	return r.Err
}
