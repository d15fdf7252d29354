package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(0)

	snap := &Snapshot{
		TransportID: "t-1",
		URI:         "/counter/1",
		Assigns:     map[string]any{"count": 3},
		Mounts:      2,
		DetachedAt:  time.Now(),
	}
	if err := m.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, "t-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.URI != "/counter/1" || got.Mounts != 2 {
		t.Errorf("loaded = %+v", got)
	}

	// Stored value is a copy, not an alias.
	got.URI = "/mutated"
	again, _ := m.Load(ctx, "t-1")
	if again.URI != "/counter/1" {
		t.Error("load returned an aliased snapshot")
	}

	if err := m.Delete(ctx, "t-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Load(ctx, "t-1"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load after delete = %v, want ErrSnapshotNotFound", err)
	}

	// Deleting again is not an error.
	if err := m.Delete(ctx, "t-1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	m := NewMemoryStore(0)
	if _, err := m.Load(context.Background(), "ghost"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load(ghost) = %v, want ErrSnapshotNotFound", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(time.Minute)

	m.Save(ctx, &Snapshot{
		TransportID: "old",
		DetachedAt:  time.Now().Add(-2 * time.Minute),
	})
	m.Save(ctx, &Snapshot{
		TransportID: "fresh",
		DetachedAt:  time.Now(),
	})

	if _, err := m.Load(ctx, "old"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expired snapshot = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := m.Load(ctx, "fresh"); err != nil {
		t.Errorf("fresh snapshot: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d after eviction, want 1", m.Len())
	}
}
