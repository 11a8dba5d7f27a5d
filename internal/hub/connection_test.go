package hub

import (
	"testing"
	"time"
)

func TestRegistry_OneConnectionPerIdentity(t *testing.T) {
	r := newRegistry()

	first := &Connection{Identity: "alice", CreatedAt: time.Now()}
	if prev := r.add(first); prev != nil {
		t.Fatalf("expected no displaced connection, got %v", prev)
	}
	if r.count() != 1 {
		t.Fatalf("expected 1 connection, got %d", r.count())
	}

	// A second login for the same identity displaces the first.
	second := &Connection{Identity: "alice", CreatedAt: time.Now()}
	if prev := r.add(second); prev != first {
		t.Fatal("expected the first connection to be displaced")
	}
	if r.count() != 1 {
		t.Fatalf("expected still 1 connection, got %d", r.count())
	}
	if r.get("alice") != second {
		t.Error("expected the newer connection to win")
	}
}

func TestRegistry_RemoveIsNoopWhenSuperseded(t *testing.T) {
	r := newRegistry()

	first := &Connection{Identity: "alice"}
	second := &Connection{Identity: "alice"}
	r.add(first)
	r.add(second)

	// The displaced connection's teardown must not evict its successor.
	if removed := r.remove(first); removed {
		t.Error("removing a superseded connection should be a no-op")
	}
	if r.get("alice") != second {
		t.Fatal("successor was evicted by a stale remove")
	}

	if removed := r.remove(second); !removed {
		t.Error("removing the live connection should succeed")
	}
	if r.count() != 0 {
		t.Errorf("expected empty registry, got %d", r.count())
	}
}

func TestRegistry_Snapshots(t *testing.T) {
	r := newRegistry()
	r.add(&Connection{Identity: "alice"})
	r.add(&Connection{Identity: "bob"})

	ids := r.identities()
	if len(ids) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("unexpected identities: %v", ids)
	}

	if got := len(r.all()); got != 2 {
		t.Errorf("expected 2 connections in snapshot, got %d", got)
	}
}

func TestConnection_PingBookkeeping(t *testing.T) {
	c := &Connection{Identity: "alice"}

	before := c.LastPing()
	c.TouchPing()
	after := c.LastPing()

	if !after.After(before) && !before.IsZero() {
		t.Error("TouchPing should advance the last activity time")
	}
	if after.IsZero() {
		t.Error("expected a non-zero last activity time after TouchPing")
	}
}
