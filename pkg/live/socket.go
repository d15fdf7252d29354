package live

// Socket is the per-view mutable state container. It is owned exclusively
// by the view process executing its callbacks; no other component may
// mutate it. Observers get read-only snapshots.
type Socket struct {
	// ID uniquely identifies this view instance within the tree.
	ID string

	// Module names the view implementation (e.g. "CounterView").
	Module string

	// ParentID is set for nested views; empty for the root.
	ParentID string

	// Connected reports whether a live transport backs this socket.
	// It is true iff TransportID is set.
	Connected bool

	// TransportID is the handle of the live connection, set on connect.
	TransportID string

	// Params is the flat merge of path captures and query-string pairs.
	Params map[string]string

	// URI is the current URI of this view's tree.
	URI string

	// LiveAction is derived from the matched route and re-derived on
	// every params pass.
	LiveAction string

	assigns map[string]any

	// exiting is closed when the owning process is killed. Ref.Bound uses
	// it to abort cross-view waits during teardown.
	exiting <-chan struct{}
}

// newSocket creates a disconnected socket for a view instance.
func newSocket(id, module, parentID string) *Socket {
	return &Socket{
		ID:       id,
		Module:   module,
		ParentID: parentID,
		Params:   make(map[string]string),
		assigns:  make(map[string]any),
	}
}

// setTransport binds a live transport handle, keeping the Connected
// invariant in lockstep.
func (s *Socket) setTransport(transportID string) {
	s.TransportID = transportID
	s.Connected = transportID != ""
}

// Assign stores a value in the socket's assigns.
func (s *Socket) Assign(key string, value any) {
	if s.assigns == nil {
		s.assigns = make(map[string]any)
	}
	s.assigns[key] = value
}

// AssignMany stores multiple values in one pass.
func (s *Socket) AssignMany(values map[string]any) {
	for k, v := range values {
		s.Assign(k, v)
	}
}

// Fetch returns an assigned value. Reading a key that was never assigned
// is a protocol violation, not a nil default.
func (s *Socket) Fetch(key string) (any, error) {
	v, ok := s.assigns[key]
	if !ok {
		return nil, NewProtocolViolation(s.ID, "fetch", "no assign named "+key)
	}
	return v, nil
}

// MustFetch is Fetch that panics on a missing key. Intended for callback
// code where a missing assign is a programming error.
func (s *Socket) MustFetch(key string) any {
	v, err := s.Fetch(key)
	if err != nil {
		panic(err)
	}
	return v
}

// Has reports whether a key is assigned.
func (s *Socket) Has(key string) bool {
	_, ok := s.assigns[key]
	return ok
}

// Delete removes an assign.
func (s *Socket) Delete(key string) {
	delete(s.assigns, key)
}

// Snapshot returns a read-only copy of the socket for observers (parents,
// test harnesses, telemetry). Mutating the snapshot never touches the
// live socket.
func (s *Socket) Snapshot() SocketSnapshot {
	assigns := make(map[string]any, len(s.assigns))
	for k, v := range s.assigns {
		assigns[k] = v
	}
	params := make(map[string]string, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	return SocketSnapshot{
		ID:          s.ID,
		Module:      s.Module,
		ParentID:    s.ParentID,
		Connected:   s.Connected,
		TransportID: s.TransportID,
		Params:      params,
		URI:         s.URI,
		LiveAction:  s.LiveAction,
		Assigns:     assigns,
	}
}

// SocketSnapshot is a point-in-time, detached copy of a Socket.
type SocketSnapshot struct {
	ID          string
	Module      string
	ParentID    string
	Connected   bool
	TransportID string
	Params      map[string]string
	URI         string
	LiveAction  string
	Assigns     map[string]any
}
