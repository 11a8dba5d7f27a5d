package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/keyhaven/chat-engine/internal/message"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	c := openTestCache(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msgs := []message.Message{
		stored("m1", "bob", "alice", t0),
		stored("m2", "alice", "bob", t0.Add(time.Second)),
	}
	if err := c.Save("bob", msgs); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := c.Load("bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	// Key layout guarantees chronological order on scan.
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("expected [m1 m2], got [%s %s]", got[0].ID, got[1].ID)
	}
	if !got[0].CreatedAt.Equal(t0) {
		t.Errorf("timestamp mismatch: %v", got[0].CreatedAt)
	}
}

func TestCache_SaveReplacesConversation(t *testing.T) {
	c := openTestCache(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := c.Save("bob", []message.Message{stored("m1", "bob", "alice", t0)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Save("bob", []message.Message{stored("m2", "bob", "alice", t0.Add(time.Second))}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := c.Load("bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("expected the second save to replace the first, got %v", got)
	}
}

func TestCache_LoadUnknownCounterpart(t *testing.T) {
	c := openTestCache(t)

	got, err := c.Load("nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d messages", len(got))
	}
}

func TestCache_Drop(t *testing.T) {
	c := openTestCache(t)
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := c.Save("bob", []message.Message{stored("m1", "bob", "alice", t0)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Drop("bob"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	got, err := c.Load("bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty after drop, got %d", len(got))
	}

	// Dropping a missing bucket is not an error.
	if err := c.Drop("nobody"); err != nil {
		t.Errorf("drop of unknown counterpart: %v", err)
	}
}
