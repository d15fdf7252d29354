package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process SnapshotStore with optional expiry.
// Suitable for single-node deployments, development, and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot

	// maxAge evicts snapshots older than this on read. Zero disables.
	maxAge time.Duration
}

// NewMemoryStore creates an empty MemoryStore. maxAge of zero keeps
// snapshots until deleted.
func NewMemoryStore(maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
		maxAge:    maxAge,
	}
}

// Save stores a copy of the snapshot.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[snap.TransportID] = &cp
	return nil
}

// Load returns a copy of the stored snapshot, expiring stale entries.
func (m *MemoryStore) Load(_ context.Context, transportID string) (*Snapshot, error) {
	m.mu.RLock()
	snap, ok := m.snapshots[transportID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSnapshotNotFound
	}
	if m.maxAge > 0 && time.Since(snap.DetachedAt) > m.maxAge {
		m.mu.Lock()
		delete(m.snapshots, transportID)
		m.mu.Unlock()
		return nil, ErrSnapshotNotFound
	}

	cp := *snap
	return &cp, nil
}

// Delete removes a snapshot.
func (m *MemoryStore) Delete(_ context.Context, transportID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, transportID)
	return nil
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
