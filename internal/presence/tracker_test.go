package presence

import (
	"testing"
	"time"
)

func TestSetSnapshot_ReplacesWholesale(t *testing.T) {
	tr := NewTracker()

	tr.SetSnapshot([]string{"alice", "bob"}, nil)
	if !tr.IsOnline("alice") || !tr.IsOnline("bob") {
		t.Fatal("expected alice and bob online")
	}

	// The next snapshot replaces, never merges: bob is gone.
	tr.SetSnapshot([]string{"alice", "carol"}, nil)
	if tr.IsOnline("bob") {
		t.Error("bob should have dropped out of the online set")
	}
	if !tr.IsOnline("carol") {
		t.Error("carol should be online")
	}

	got := tr.OnlineUsers()
	if len(got) != 2 || got[0] != "alice" || got[1] != "carol" {
		t.Errorf("expected [alice carol], got %v", got)
	}
}

func TestSetSnapshot_StampsDepartures(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.SetSnapshot([]string{"bob"}, nil)

	now = now.Add(time.Minute)
	tr.SetSnapshot([]string{}, nil)

	ts, ok := tr.LastSeen("bob")
	if !ok {
		t.Fatal("expected a last-seen record for bob")
	}
	if !ts.Equal(now) {
		t.Errorf("expected departure stamped at %v, got %v", now, ts)
	}
}

func TestSetSnapshot_ServerLastSeenOverrides(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	serverTS := now.Add(-time.Hour)
	tr.SetSnapshot([]string{"alice"}, map[string]time.Time{"bob": serverTS})

	ts, ok := tr.LastSeen("bob")
	if !ok || !ts.Equal(serverTS) {
		t.Errorf("expected server timestamp %v, got %v (ok=%v)", serverTS, ts, ok)
	}
}

func TestLastSeen_OnlineIsNow(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.SetSnapshot([]string{"bob"}, nil)

	ts, ok := tr.LastSeen("bob")
	if !ok || !ts.Equal(now) {
		t.Errorf("an online identity is last seen now, got %v (ok=%v)", ts, ok)
	}
}

func TestLastSeen_Unknown(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.LastSeen("nobody"); ok {
		t.Fatal("expected no record for an unknown identity")
	}
}

func TestSeedLastSeen_NeverRegresses(t *testing.T) {
	tr := NewTracker()
	newer := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	tr.SeedLastSeen("bob", newer)
	tr.SeedLastSeen("bob", older) // stale seed must not win

	ts, ok := tr.LastSeen("bob")
	if !ok || !ts.Equal(newer) {
		t.Errorf("expected %v to survive a stale seed, got %v", newer, ts)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.SetSnapshot([]string{"alice"}, map[string]time.Time{"bob": time.Now()})

	tr.Clear()

	if tr.IsOnline("alice") {
		t.Error("expected empty online set after Clear")
	}
	if _, ok := tr.LastSeen("bob"); ok {
		t.Error("expected last-seen map cleared")
	}
}
