package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vivid-go/vivid/pkg/live"
	"github.com/vivid-go/vivid/pkg/store"
	"github.com/vivid-go/vivid/pkg/token"
)

// Close codes sent on session termination.
const (
	closeNormal        = websocket.CloseNormalClosure
	closeGoingAway     = websocket.CloseGoingAway
	closeStale         = websocket.ClosePolicyViolation
	closeInternalError = websocket.CloseInternalServerErr
)

// clientFrame is a message from the client runtime. Type selects which
// fields are meaningful: "hello" carries token/mounts/resume, "event"
// carries event/payload, "patch" carries to.
type clientFrame struct {
	Type    string         `json:"type"`
	Token   string         `json:"token,omitempty"`
	Mounts  int            `json:"mounts,omitempty"`
	Resume  string         `json:"resume,omitempty"`
	Event   string         `json:"event,omitempty"`
	To      string         `json:"to,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// serverFrame is a message to the client runtime. TransportID is sent
// on the mounted frame; the client presents it to resume after a drop.
type serverFrame struct {
	Type        string         `json:"type"`
	ViewID      string         `json:"view_id,omitempty"`
	TransportID string         `json:"transport_id,omitempty"`
	To          string         `json:"to,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Assigns     map[string]any `json:"assigns,omitempty"`
}

// conn is one attached live session: a WebSocket, the root view process
// spawned for it, and the goroutines shuttling frames between them.
type conn struct {
	transportID string
	sock        *websocket.Conn
	root        live.Ref
	mounts      int
	uri         string
	server      *Server
	logger      *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	// watchDone is closed when watchRoot has finished reporting the root's
	// exit, so detach never closes the socket under a pending exit frame.
	watchDone chan struct{}
}

// handleWebSocket upgrades the connection, verifies the session token,
// and spawns the connected root view. A stale token terminates the
// connection abnormally before any view code runs.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.config.ReadBufferSize,
		WriteBufferSize: s.config.WriteBufferSize,
		CheckOrigin:     s.config.CheckOrigin,
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	transportID := generateTransportID()
	logger := s.logger.With("transport_id", transportID)

	c := &conn{
		transportID: transportID,
		sock:        sock,
		server:      s,
		logger:      logger,
		done:        make(chan struct{}),
		watchDone:   make(chan struct{}),
	}

	if !c.handshake(r.Context()) {
		sock.Close()
		return
	}

	s.trackConn(c)
	defer s.untrackConn(c)

	go c.heartbeat()
	go c.watchRoot()

	c.readLoop()
}

// handshake reads the hello frame, verifies the token, and mounts the
// root view. Returns false when the connection must not proceed.
func (c *conn) handshake(ctx context.Context) bool {
	s := c.server

	c.sock.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

	var hello clientFrame
	if err := c.sock.ReadJSON(&hello); err != nil {
		c.logger.Warn("handshake read failed", "error", err)
		return false
	}
	if hello.Type != "hello" {
		c.closeWith(closeInternalError, "expected hello")
		return false
	}

	mountData, err := s.signer.Verify(hello.Token, s.config.TokenMaxAge)
	if err != nil {
		if errors.Is(err, token.ErrStaleToken) {
			c.logger.Info("stale session token rejected")
			c.sendFrame(serverFrame{Type: "error", Reason: "stale"})
			c.closeWith(closeStale, "stale")
			return false
		}
		c.closeWith(closeInternalError, "token verification failed")
		return false
	}

	uri, _ := mountData["uri"].(string)
	if uri == "" {
		c.closeWith(closeInternalError, "token missing uri")
		return false
	}
	session, _ := mountData["session"].(map[string]any)

	mounts := hello.Mounts
	if snap := c.loadSnapshot(ctx, hello.Resume); snap != nil {
		mounts = snap.Mounts + 1
		if session == nil {
			session = make(map[string]any)
		}
		session["_resume"] = snap.Assigns
		if snap.URI != "" {
			uri = snap.URI
		}
	}
	c.mounts = mounts
	c.uri = uri

	root, err := s.runtime.SpawnRoot(live.RootConfig{
		URI:         uri,
		TransportID: c.transportID,
		Session:     session,
		ConnectParams: map[string]string{
			live.MountsParam: strconv.Itoa(mounts),
		},
	})
	if err != nil {
		c.rejectMount(err)
		return false
	}
	c.root = root

	if hello.Resume != "" && s.config.Snapshots != nil {
		s.config.Snapshots.Delete(ctx, hello.Resume)
	}

	snap, err := root.Snapshot()
	if err != nil {
		c.closeWith(closeInternalError, "mount snapshot failed")
		return false
	}

	return c.sendFrame(serverFrame{
		Type:        "mounted",
		ViewID:      root.ID(),
		TransportID: c.transportID,
		Assigns:     snap.Assigns,
	})
}

// rejectMount reports a failed root spawn to the client. Redirect-class
// exits become navigation frames followed by a normal close; everything
// else is an internal error.
func (c *conn) rejectMount(err error) {
	var exit live.ExitReason
	if errors.As(err, &exit) {
		switch exit.Kind {
		case live.ExitLiveRedirect:
			c.sendFrame(serverFrame{Type: "live_redirect", To: exit.To})
			c.closeWith(closeNormal, "redirected")
			return
		case live.ExitRedirect:
			c.sendFrame(serverFrame{Type: "redirect", To: exit.To})
			c.closeWith(closeNormal, "redirected")
			return
		}
	}

	c.logger.Error("root mount failed", "error", err)
	c.closeWith(closeInternalError, "mount failed")
}

// loadSnapshot fetches the detached-session snapshot for a resume id.
func (c *conn) loadSnapshot(ctx context.Context, resumeID string) *store.Snapshot {
	if resumeID == "" || c.server.config.Snapshots == nil {
		return nil
	}
	snap, err := c.server.config.Snapshots.Load(ctx, resumeID)
	if err != nil {
		if !errors.Is(err, store.ErrSnapshotNotFound) {
			c.logger.Warn("snapshot load failed", "resume_id", resumeID, "error", err)
		}
		return nil
	}
	c.logger.Info("resuming detached session", "resume_id", resumeID, "mounts", snap.Mounts)
	return snap
}

// readLoop pumps client frames into the root process until the socket
// closes or the root exits. A dropped socket detaches the session: the
// snapshot is persisted and the whole view tree is torn down.
func (c *conn) readLoop() {
	defer c.detach()

	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))
		return nil
	})

	for {
		c.sock.SetReadDeadline(time.Now().Add(c.server.config.ReadTimeout))

		var frame clientFrame
		if err := c.sock.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, closeNormal, closeGoingAway) {
				c.logger.Info("connection dropped", "error", err)
			}
			return
		}

		if err := c.dispatch(frame); err != nil {
			if errors.Is(err, live.ErrTerminated) || isExit(err) {
				return
			}
			c.logger.Warn("frame dispatch failed", "type", frame.Type, "error", err)
		}
	}
}

// dispatch routes one client frame to the root process.
func (c *conn) dispatch(frame clientFrame) error {
	switch frame.Type {
	case "event":
		if err := c.root.SendEvent(frame.Event, frame.Payload); err != nil {
			return err
		}
		return c.afterFrame()

	case "patch":
		if err := c.root.Patch(frame.To); err != nil {
			return err
		}
		return c.afterFrame()

	case "ping":
		c.sendFrame(serverFrame{Type: "pong"})
		return nil

	default:
		c.logger.Warn("unknown frame type", "type", frame.Type)
		return nil
	}
}

// afterFrame ships the current assigns back to the client. Stands in for
// a diff engine; the client runtime re-renders from assigns.
func (c *conn) afterFrame() error {
	snap, err := c.root.Snapshot()
	if err != nil {
		return err
	}
	c.sendFrame(serverFrame{
		Type:    "render",
		ViewID:  c.root.ID(),
		Assigns: snap.Assigns,
	})
	return nil
}

// watchRoot waits for the root process to exit and reports the reason to
// the client before closing.
func (c *conn) watchRoot() {
	defer close(c.watchDone)

	select {
	case <-c.done:
		return
	case <-c.root.Done():
	}

	reason, _ := c.root.Reason()
	switch reason.Kind {
	case live.ExitLiveRedirect:
		c.sendFrame(serverFrame{Type: "live_redirect", To: reason.To})
		c.close(closeNormal, "redirected")
	case live.ExitRedirect:
		c.sendFrame(serverFrame{Type: "redirect", To: reason.To})
		c.close(closeNormal, "redirected")
	case live.ExitNormal:
		c.close(closeNormal, "view stopped")
	case live.ExitStale:
		c.sendFrame(serverFrame{Type: "error", Reason: "stale"})
		c.close(closeStale, "stale")
	default:
		c.close(closeInternalError, "view crashed")
	}
}

// heartbeat pings the client until the connection finishes.
func (c *conn) heartbeat() {
	ticker := time.NewTicker(c.server.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.sock.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			err := c.sock.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.close(closeGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

// detach finishes the connection: persist the session snapshot for a
// later resume, then tear down the entire view tree.
func (c *conn) detach() {
	defer c.close(closeNormal, "detached")

	if c.root == (live.Ref{}) {
		return
	}

	if snaps := c.server.config.Snapshots; snaps != nil {
		if sockSnap, err := c.root.Snapshot(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.server.config.WriteTimeout)
			defer cancel()

			saveErr := snaps.Save(ctx, &store.Snapshot{
				TransportID: c.transportID,
				URI:         sockSnap.URI,
				Assigns:     sockSnap.Assigns,
				Mounts:      c.mounts,
				DetachedAt:  time.Now(),
			})
			if saveErr != nil {
				c.logger.Warn("snapshot save failed", "error", saveErr)
			}
		}
	}

	c.server.runtime.Tree().RemoveSubtree(c.root.ID(), live.ExitReason{Kind: live.ExitNormal})

	// The root is down; let the watcher flush any exit frame first.
	<-c.watchDone

	c.logger.Info("session detached", "view_id", c.root.ID())
}

// sendFrame writes a JSON frame, reporting success.
func (c *conn) sendFrame(frame serverFrame) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.sock.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	if err := c.sock.WriteJSON(frame); err != nil {
		c.logger.Warn("frame write failed", "type", frame.Type, "error", err)
		return false
	}
	return true
}

// closeWith sends a close frame without marking conn bookkeeping done.
// Used during handshake, before the conn is tracked.
func (c *conn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	c.sock.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
	c.sock.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
}

// close sends a close frame, closes the socket, and releases the
// heartbeat and watcher goroutines. Safe to call more than once.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeWith(code, reason)
		c.sock.Close()
		close(c.done)
	})
}

// isExit reports whether err carries a process exit reason.
func isExit(err error) bool {
	var exit live.ExitReason
	return errors.As(err, &exit)
}

// generateTransportID returns a 32-hex-char connection id.
func generateTransportID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("server: entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
