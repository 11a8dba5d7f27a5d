// Package presence maintains the set of currently-online identities and
// their last-seen timestamps. The transport's membership broadcast is the
// source of truth: each snapshot replaces the local set wholesale, never by
// delta reconciliation.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Tracker holds the online set and last-seen map for one engine instance.
type Tracker struct {
	mu       sync.RWMutex
	online   map[string]bool
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SetSnapshot replaces the online set with the broadcast membership list.
// Identities that drop out of the snapshot get their last-seen stamped
// locally, so "last seen just now" is correct even before the server's own
// timestamp arrives. lastSeen entries from the snapshot override local
// stamps since the server's record is authoritative.
func (t *Tracker) SetSnapshot(online []string, lastSeen map[string]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]bool, len(online))
	for _, id := range online {
		next[id] = true
	}

	now := t.now()
	for id := range t.online {
		if !next[id] {
			t.lastSeen[id] = now
		}
	}
	for id, ts := range lastSeen {
		t.lastSeen[id] = ts
	}
	t.online = next
}

// SeedLastSeen records a fallback last-seen timestamp from an external user
// record. It never overwrites a newer timestamp already held.
func (t *Tracker) SeedLastSeen(id string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.lastSeen[id]; !ok || ts.After(held) {
		t.lastSeen[id] = ts
	}
}

// IsOnline reports whether the identity is in the current snapshot.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[id]
}

// OnlineUsers returns the current online set, sorted for stable display.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastSeen returns when the identity was last seen. An online identity is
// last seen "now". The second return is false when nothing is known.
func (t *Tracker) LastSeen(id string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.online[id] {
		return t.now(), true
	}
	ts, ok := t.lastSeen[id]
	return ts, ok
}

// Clear empties all presence state. Called on disconnect: stale presence
// must never survive a torn-down connection.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]bool)
	t.lastSeen = make(map[string]time.Time)
}
