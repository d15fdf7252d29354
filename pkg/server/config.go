package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vivid-go/vivid/pkg/store"
	"github.com/vivid-go/vivid/pkg/telemetry"
	"github.com/vivid-go/vivid/pkg/token"
)

// Config holds configuration for the HTTP and WebSocket endpoint.
type Config struct {
	// Address is the address to listen on.
	// Default: ":8080".
	Address string

	// Secret signs session tokens. Required in production; when nil a
	// random per-process secret is generated, which invalidates tokens
	// across restarts.
	Secret []byte

	// TokenSalt namespaces this endpoint's tokens.
	// Default: "vivid session".
	TokenSalt string

	// TokenMaxAge is the verification window for session tokens.
	// Default: token.DefaultMaxAge.
	TokenMaxAge time.Duration

	// ReadTimeout is the maximum time to wait for a client message.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between server pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the WebSocket request origin.
	// Default: same-origin.
	CheckOrigin func(r *http.Request) bool

	// SessionFunc builds the per-request session data sealed into the
	// token at static render time and handed back to Mount on connect.
	SessionFunc func(r *http.Request) map[string]any

	// Snapshots persists detached session state for resume. Nil disables
	// persistence.
	Snapshots store.SnapshotStore

	// Telemetry wraps view lifecycle callbacks. Nil disables
	// instrumentation.
	Telemetry *telemetry.Emitter

	// Logger is the base logger.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		TokenSalt:         "vivid session",
		TokenMaxAge:       token.DefaultMaxAge,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Secret != nil {
		clone.Secret = make([]byte, len(c.Secret))
		copy(clone.Secret, c.Secret)
	}
	return &clone
}

// WithAddress sets the listen address.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithSecret sets the token signing secret.
func (c *Config) WithSecret(secret []byte) *Config {
	c.Secret = secret
	return c
}

// WithSnapshots sets the snapshot store used for detach and resume.
func (c *Config) WithSnapshots(s store.SnapshotStore) *Config {
	c.Snapshots = s
	return c
}

// WithTelemetry sets the telemetry emitter.
func (c *Config) WithTelemetry(e *telemetry.Emitter) *Config {
	c.Telemetry = e
	return c
}

// SameOriginCheck accepts WebSocket requests whose Origin host matches
// the request host. Requests without an Origin header are accepted.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
