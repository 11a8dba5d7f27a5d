// Package receipt reconciles read/unread state between the message store
// and the server. Marking a conversation read is idempotent and never
// retroactively unreads a message.
package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/keyhaven/chat-engine/internal/store"
)

// ReadMarker acknowledges to the server that all inbound messages from a
// counterpart have been read. Satisfied by the API client.
type ReadMarker interface {
	MarkRead(ctx context.Context, counterpartID string) error
}

// Tracker marks inbound messages read when a conversation gains focus.
type Tracker struct {
	store  *store.Store
	marker ReadMarker
	now    func() time.Time
}

// NewTracker creates a read-receipt tracker over the given store. marker
// may be nil in tests that only exercise local state.
func NewTracker(s *store.Store, marker ReadMarker) *Tracker {
	return &Tracker{store: s, marker: marker, now: time.Now}
}

// MarkRead marks all currently-held inbound messages from the counterpart
// as read and acknowledges to the server. When nothing is unread it is a
// no-op: no state change, no network call. Safe to call on every focus
// change.
func (t *Tracker) MarkRead(ctx context.Context, counterpartID string) error {
	if t.store.UnreadCount(counterpartID) == 0 {
		return nil
	}

	if t.marker != nil {
		if err := t.marker.MarkRead(ctx, counterpartID); err != nil {
			return fmt.Errorf("receipt: mark read for %s: %w", counterpartID, err)
		}
	}

	t.store.MarkConversationRead(counterpartID, t.now())
	return nil
}

// Unread returns the number of unread inbound messages from the counterpart.
func (t *Tracker) Unread(counterpartID string) int {
	return t.store.UnreadCount(counterpartID)
}
