// Package store persists detached view-session snapshots so a client can
// resume after a disconnect. Backends: in-memory for development and
// tests, S3 for deployments that survive server restarts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrSnapshotNotFound is returned when no snapshot exists for an id.
var ErrSnapshotNotFound = errors.New("store: snapshot not found")

// Snapshot is the serialized state of a detached session: enough to
// restore the route and assigns when the client reconnects.
type Snapshot struct {
	// TransportID identifies the connection the snapshot belongs to.
	TransportID string `json:"transport_id"`

	// URI is the route the session was on when it detached.
	URI string `json:"uri"`

	// Assigns is the JSON-serializable subset of the root socket's assigns.
	Assigns map[string]any `json:"assigns,omitempty"`

	// Mounts is the connection attempt counter at detach time.
	Mounts int `json:"mounts"`

	// DetachedAt records when the session went away.
	DetachedAt time.Time `json:"detached_at"`
}

// SnapshotStore is the persistence contract. Implementations must be
// safe for concurrent use.
type SnapshotStore interface {
	// Save persists a snapshot under its transport id.
	Save(ctx context.Context, snap *Snapshot) error

	// Load retrieves a snapshot, or ErrSnapshotNotFound.
	Load(ctx context.Context, transportID string) (*Snapshot, error)

	// Delete removes a snapshot. Deleting a missing snapshot is not an
	// error.
	Delete(ctx context.Context, transportID string) error
}
