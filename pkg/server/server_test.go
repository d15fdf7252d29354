package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vivid-go/vivid/pkg/live"
	"github.com/vivid-go/vivid/pkg/store"
	"github.com/vivid-go/vivid/pkg/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// wsCounterView is the end-to-end fixture: a counter that supports
// resume and redirect.
type wsCounterView struct {
	count int
}

func (v *wsCounterView) Mount(params map[string]string, session map[string]any, s *live.Socket) live.Outcome {
	if resume, ok := session["_resume"].(map[string]any); ok {
		switch n := resume["count"].(type) {
		case int:
			v.count = n
		case float64:
			v.count = int(n)
		}
	}
	if params["go"] == "away" {
		return live.Navigate(live.Redirect("/elsewhere"))
	}
	s.Assign("count", v.count)
	s.Assign("mounts", params[live.MountsParam])
	return live.NoReply()
}

func (v *wsCounterView) HandleParams(params map[string]string, uri string, s *live.Socket) live.Outcome {
	s.Assign("id", params["id"])
	return live.NoReply()
}

func (v *wsCounterView) HandleEvent(event string, payload map[string]any, s *live.Socket) live.Outcome {
	switch event {
	case "inc":
		v.count++
	case "leave":
		return live.Navigate(live.PushRedirect("/counter/2"))
	}
	s.Assign("count", v.count)
	return live.NoReply()
}

func testRoutes() *live.Routes {
	return live.NewRoutes().
		Add(live.Route{
			Pattern: "/counter/{id}",
			Module:  "counter",
			Action:  "show",
			New:     func() live.View { return &wsCounterView{} },
		})
}

func newTestServer(t *testing.T, snaps store.SnapshotStore) (*Server, *httptest.Server) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Snapshots = snaps
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.CheckOrigin = func(*http.Request) bool { return true }

	s, err := New(testRoutes(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestNewRequiresRoutes(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New(nil routes) returned nil error")
	}
	if _, err := New(live.NewRoutes(), nil); err == nil {
		t.Error("New(empty routes) returned nil error")
	}
}

var tokenAttr = regexp.MustCompile(`data-vivid-token="([^"]+)"`)

func TestStaticRenderSealsToken(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/counter/7?step=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)

	m := tokenAttr.FindSubmatch(body)
	if m == nil {
		t.Fatalf("no token in body:\n%s", body)
	}

	signer := token.NewSigner(testSecret, DefaultConfig().TokenSalt)
	mountData, err := signer.Verify(string(m[1]), token.DefaultMaxAge)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if mountData["uri"] != "/counter/7?step=2" {
		t.Errorf("token uri = %v", mountData["uri"])
	}

	if !strings.Contains(string(body), `"count":0`) {
		t.Errorf("assigns not embedded:\n%s", body)
	}
}

func TestStaticRenderRedirect(t *testing.T) {
	_, ts := newTestServer(t, nil)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/counter/1?go=away")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/elsewhere" {
		t.Errorf("location = %q", loc)
	}
}

func TestStaticRenderNotFound(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + LivePath
}

func dialAndHello(t *testing.T, ts *httptest.Server, hello clientFrame) (*websocket.Conn, serverFrame) {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	if err := ws.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	var reply serverFrame
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return ws, reply
}

func mintToken(t *testing.T, uri string) string {
	t.Helper()
	signer := token.NewSigner(testSecret, DefaultConfig().TokenSalt)
	tok, err := signer.Mint(map[string]any{"uri": uri}, token.Version)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func TestWebSocketMountAndEvents(t *testing.T) {
	s, ts := newTestServer(t, nil)

	ws, mounted := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: mintToken(t, "/counter/7"),
	})

	if mounted.Type != "mounted" || mounted.ViewID == "" || mounted.TransportID == "" {
		t.Fatalf("mounted frame = %+v", mounted)
	}
	if mounted.Assigns["count"] != float64(0) || mounted.Assigns["mounts"] != "0" {
		t.Errorf("mounted assigns = %v", mounted.Assigns)
	}
	if s.ConnCount() != 1 {
		t.Errorf("conn count = %d, want 1", s.ConnCount())
	}

	ws.WriteJSON(clientFrame{Type: "event", Event: "inc"})

	var render serverFrame
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.ReadJSON(&render); err != nil {
		t.Fatalf("read render: %v", err)
	}
	if render.Type != "render" || render.Assigns["count"] != float64(1) {
		t.Errorf("render frame = %+v", render)
	}
}

func TestWebSocketPatch(t *testing.T) {
	_, ts := newTestServer(t, nil)

	ws, _ := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: mintToken(t, "/counter/7"),
	})

	ws.WriteJSON(clientFrame{Type: "patch", To: "/counter/8"})

	var render serverFrame
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.ReadJSON(&render); err != nil {
		t.Fatalf("read render: %v", err)
	}
	if render.Assigns["id"] != "8" {
		t.Errorf("render after patch = %+v", render)
	}
}

func TestWebSocketRedirectEvent(t *testing.T) {
	_, ts := newTestServer(t, nil)

	ws, _ := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: mintToken(t, "/counter/7"),
	})

	ws.WriteJSON(clientFrame{Type: "event", Event: "leave"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		var frame serverFrame
		ws.SetReadDeadline(deadline)
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Type == "render" {
			continue
		}
		if frame.Type != "live_redirect" || frame.To != "/counter/2" {
			t.Fatalf("frame = %+v, want live_redirect /counter/2", frame)
		}
		return
	}
}

func TestWebSocketStaleToken(t *testing.T) {
	_, ts := newTestServer(t, nil)

	ws, reply := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: "not-a-token",
	})

	if reply.Type != "error" || reply.Reason != "stale" {
		t.Fatalf("reply = %+v, want stale error", reply)
	}

	// The close frame carries the stale policy code.
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, closeStale) {
		t.Errorf("close err = %v, want code %d", err, closeStale)
	}
}

func TestWebSocketExpiredToken(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// A token minted for a different secret fails verification the same
	// way an expired one does.
	signer := token.NewSigner([]byte("wrong-secret-wrong-secret-wrong!"), DefaultConfig().TokenSalt)
	tok, _ := signer.Mint(map[string]any{"uri": "/counter/1"}, token.Version)

	_, reply := dialAndHello(t, ts, clientFrame{Type: "hello", Token: tok})
	if reply.Type != "error" || reply.Reason != "stale" {
		t.Fatalf("reply = %+v, want stale error", reply)
	}
}

func TestWebSocketDetachPersistsSnapshot(t *testing.T) {
	snaps := store.NewMemoryStore(0)
	_, ts := newTestServer(t, snaps)

	ws, mounted := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: mintToken(t, "/counter/7"),
	})

	ws.WriteJSON(clientFrame{Type: "event", Event: "inc"})
	var render serverFrame
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.ReadJSON(&render); err != nil {
		t.Fatalf("read render: %v", err)
	}

	ws.Close()

	snap := waitSnapshot(t, snaps, mounted.TransportID)
	if snap.URI != "/counter/7" {
		t.Errorf("snapshot uri = %q", snap.URI)
	}
	if snap.Assigns["count"] != 1 {
		t.Errorf("snapshot assigns = %v", snap.Assigns)
	}
}

func TestWebSocketResume(t *testing.T) {
	snaps := store.NewMemoryStore(0)
	_, ts := newTestServer(t, snaps)

	ws, mounted := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: mintToken(t, "/counter/7"),
	})
	ws.WriteJSON(clientFrame{Type: "event", Event: "inc"})
	var render serverFrame
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := ws.ReadJSON(&render); err != nil {
		t.Fatalf("read render: %v", err)
	}
	ws.Close()

	waitSnapshot(t, snaps, mounted.TransportID)

	_, remounted := dialAndHello(t, ts, clientFrame{
		Type:   "hello",
		Token:  mintToken(t, "/counter/7"),
		Mounts: 1,
		Resume: mounted.TransportID,
	})

	if remounted.Type != "mounted" {
		t.Fatalf("remount frame = %+v", remounted)
	}
	// State carried over, attempt counter advanced past the snapshot's.
	if remounted.Assigns["count"] != float64(1) {
		t.Errorf("resumed count = %v, want 1", remounted.Assigns["count"])
	}
	if remounted.Assigns["mounts"] != "1" {
		t.Errorf("resumed mounts = %v, want \"1\"", remounted.Assigns["mounts"])
	}
}

func TestWebSocketMountRedirect(t *testing.T) {
	_, ts := newTestServer(t, nil)

	_, reply := dialAndHello(t, ts, clientFrame{
		Type:  "hello",
		Token: mintToken(t, "/counter/1?go=away"),
	})
	if reply.Type != "redirect" || reply.To != "/elsewhere" {
		t.Fatalf("reply = %+v, want redirect /elsewhere", reply)
	}
}

func waitSnapshot(t *testing.T, snaps *store.MemoryStore, id string) *store.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, err := snaps.Load(context.Background(), id); err == nil {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("snapshot %s never persisted", id)
	return nil
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "example.com", true},
		{"same host", "https://example.com", "example.com", true},
		{"other host", "https://evil.com", "example.com", false},
		{"malformed origin", "://bad", "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/live/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := SameOriginCheck(r); got != tt.want {
				t.Errorf("SameOriginCheck = %v, want %v", got, tt.want)
			}
		})
	}
}
