// Package store implements the message cache for the chat engine. It ingests
// locally-sent and remotely-received messages, deduplicates them by ID,
// keeps every conversation sorted ascending by creation time, and exposes
// cursor-based pagination over server-side history.
//
// The store is the single serialization point for conversation content: no
// matter how a live push, a completing pagination fetch, and a send
// acknowledgment interleave, the visible state converges to the same
// deduplicated, sorted list.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/keyhaven/chat-engine/internal/message"
	"github.com/keyhaven/chat-engine/internal/metrics"
)

// DefaultPageSize is the history page size used when callers pass limit <= 0.
const DefaultPageSize = 20

// ErrNoReceiver is returned by Send when the draft has no resolved receiver.
var ErrNoReceiver = errors.New("store: draft has no receiver")

// Draft is the user-supplied content of an outgoing message before the
// server has assigned it an identity.
type Draft struct {
	Text  string
	Image string
}

// HistoryFetcher retrieves a page of older messages for a conversation.
// beforeID is the ID of the oldest currently-held message, or empty to
// fetch the newest page.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, counterpartID, beforeID string, limit int) ([]message.Message, error)
}

// MessageSender performs the send round-trip and returns the authoritative
// created message (server-assigned ID and timestamp) on success.
type MessageSender interface {
	SendMessage(ctx context.Context, counterpartID string, draft Draft) (message.Message, error)
}

// ChangeFunc is invoked after a conversation's content or read state may
// have changed. It receives the counterpart ID of the affected conversation.
type ChangeFunc func(counterpartID string)

// Store is the per-identity message cache. All mutation goes through Ingest,
// IngestBatch, Send, and the read-state setters; every mutation funnels into
// the same merge so ordering and dedup invariants hold under any event
// interleaving.
type Store struct {
	self    string
	fetcher HistoryFetcher
	sender  MessageSender
	cache   *Cache // optional disk cache, may be nil

	mu      sync.RWMutex
	convs   map[string][]message.Message // counterpart ID -> sorted messages
	hasMore map[string]bool              // false once history is exhausted
	loading map[string]bool              // pagination fetch in flight

	subMu   sync.Mutex
	subs    map[int]ChangeFunc
	nextSub int
}

// New creates a Store for the given local identity. fetcher and sender may
// be nil in tests that only exercise ingest. cache may be nil to disable
// disk persistence.
func New(self string, fetcher HistoryFetcher, sender MessageSender, cache *Cache) *Store {
	return &Store{
		self:    self,
		fetcher: fetcher,
		sender:  sender,
		cache:   cache,
		convs:   make(map[string][]message.Message),
		hasMore: make(map[string]bool),
		loading: make(map[string]bool),
		subs:    make(map[int]ChangeFunc),
	}
}

// Self returns the local identity the store was created for.
func (s *Store) Self() string {
	return s.self
}

// Subscribe registers a change callback and returns a token for Unsubscribe.
// Callbacks run on the goroutine that performed the mutation, after the
// store lock has been released.
func (s *Store) Subscribe(fn ChangeFunc) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	s.subs[s.nextSub] = fn
	return s.nextSub
}

// Unsubscribe removes a previously registered change callback.
func (s *Store) Unsubscribe(token int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, token)
}

func (s *Store) notify(counterpartID string) {
	s.subMu.Lock()
	fns := make([]ChangeFunc, 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(counterpartID)
	}
}

// Ingest adds a single message to its conversation. Ingesting a message
// whose ID is already present is a no-op for storage (modulo read-state
// reconciliation) but still fires the change callback so renderers can
// refresh mutable fields. Malformed messages are discarded with an error
// and never corrupt ordering for valid ones.
func (s *Store) Ingest(m message.Message, source string) error {
	if err := m.ValidateStored(); err != nil {
		metrics.MessagesRejected.Inc()
		return fmt.Errorf("store: discarding malformed message: %w", err)
	}

	key := m.Counterpart(s.self)
	s.mu.Lock()
	s.convs[key] = message.Merge(s.convs[key], []message.Message{m})
	s.mu.Unlock()

	metrics.MessagesIngested.WithLabelValues(source).Inc()
	s.persist(key)
	s.notify(key)
	return nil
}

// IngestBatch merges a batch of messages (for example a history page) into
// their conversations. Invalid entries are skipped and logged; valid ones
// are still merged.
func (s *Store) IngestBatch(msgs []message.Message, source string) {
	touched := make(map[string]bool)

	s.mu.Lock()
	for _, m := range msgs {
		if err := m.ValidateStored(); err != nil {
			metrics.MessagesRejected.Inc()
			log.Printf("store: skipping malformed message in batch: %v", err)
			continue
		}
		key := m.Counterpart(s.self)
		s.convs[key] = message.Merge(s.convs[key], []message.Message{m})
		touched[key] = true
		metrics.MessagesIngested.WithLabelValues(source).Inc()
	}
	s.mu.Unlock()

	for key := range touched {
		s.persist(key)
		s.notify(key)
	}
}

// Get returns a copy of the conversation with the given counterpart, sorted
// ascending by creation time.
func (s *Store) Get(counterpartID string) []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.convs[counterpartID]
	out := make([]message.Message, len(conv))
	copy(out, conv)
	return out
}

// OldestID returns the pagination cursor for a conversation: the ID of the
// oldest held message, or empty if the conversation holds nothing yet.
func (s *Store) OldestID(counterpartID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv := s.convs[counterpartID]
	if len(conv) == 0 {
		return ""
	}
	return conv[0].ID
}

// HasMore reports whether older history may still exist on the server for
// the conversation. It is true until a fetch returns a short page.
func (s *Store) HasMore(counterpartID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	more, ok := s.hasMore[counterpartID]
	if !ok {
		return true
	}
	return more
}

// LoadOlder fetches the next older history page for a conversation and
// merges it into the store. The fetch runs without holding the store lock,
// so a message pushed live while the fetch is in flight is reconciled by the
// same merge and neither copy is lost or duplicated. A failed fetch leaves
// the store unchanged. Returns the fetched page sorted ascending.
func (s *Store) LoadOlder(ctx context.Context, counterpartID string, limit int) ([]message.Message, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("store: no history fetcher configured")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.Lock()
	if s.loading[counterpartID] {
		s.mu.Unlock()
		return nil, nil // a page is already on its way
	}
	s.loading[counterpartID] = true
	var before string
	if conv := s.convs[counterpartID]; len(conv) > 0 {
		before = conv[0].ID
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading[counterpartID] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	page, err := s.fetcher.FetchMessages(ctx, counterpartID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("store: history fetch for %s: %w", counterpartID, err)
	}
	metrics.HistoryFetchLatency.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	if len(page) < limit {
		s.hasMore[counterpartID] = false
	}
	s.mu.Unlock()

	s.IngestBatch(page, "history")

	sorted := message.Merge(page)
	return sorted, nil
}

// Refresh fetches the newest history page for a conversation and merges it
// in, picking up anything sent while the client was away. When the store
// already holds messages (a disk-cache warm start), pages keep being fetched
// backwards until one overlaps the held content, so no gap is left between
// the cached tail and the newest page. A short page marks history exhausted.
func (s *Store) Refresh(ctx context.Context, counterpartID string, limit int) error {
	if s.fetcher == nil {
		return fmt.Errorf("store: no history fetcher configured")
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.Lock()
	if s.loading[counterpartID] {
		s.mu.Unlock()
		return nil // a fetch is already on its way
	}
	s.loading[counterpartID] = true
	held := make(map[string]bool, len(s.convs[counterpartID]))
	for _, m := range s.convs[counterpartID] {
		held[m.ID] = true
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading[counterpartID] = false
		s.mu.Unlock()
	}()

	before := ""
	for {
		start := time.Now()
		page, err := s.fetcher.FetchMessages(ctx, counterpartID, before, limit)
		if err != nil {
			return fmt.Errorf("store: refresh fetch for %s: %w", counterpartID, err)
		}
		metrics.HistoryFetchLatency.Observe(time.Since(start).Seconds())

		short := len(page) < limit
		if short {
			s.mu.Lock()
			s.hasMore[counterpartID] = false
			s.mu.Unlock()
		}

		overlap := false
		for _, m := range page {
			if held[m.ID] {
				overlap = true
				break
			}
		}

		s.IngestBatch(page, "history")

		// Nothing held before the refresh means there is no gap to bridge;
		// overlap or exhaustion means the gap is closed.
		if short || overlap || len(held) == 0 {
			return nil
		}

		sorted := message.Merge(page)
		if len(sorted) == 0 || sorted[0].ID == before {
			return nil
		}
		before = sorted[0].ID
	}
}

// Send validates a draft, performs the network round-trip, and ingests the
// authoritative record the server returns. The draft is rejected locally —
// no request is issued — when it has an empty body or no receiver. A send
// that fails at the network boundary is reported to the caller and nothing
// is stored, so a message is never silently dropped nor duplicated.
func (s *Store) Send(ctx context.Context, counterpartID string, draft Draft) (message.Message, error) {
	if draft.Text == "" && draft.Image == "" {
		return message.Message{}, message.ErrEmptyBody
	}
	if counterpartID == "" {
		return message.Message{}, ErrNoReceiver
	}
	if s.sender == nil {
		return message.Message{}, fmt.Errorf("store: no sender configured")
	}

	sent, err := s.sender.SendMessage(ctx, counterpartID, draft)
	if err != nil {
		return message.Message{}, fmt.Errorf("store: send to %s failed: %w", counterpartID, err)
	}

	if err := s.Ingest(sent, "send"); err != nil {
		// The server accepted the message; a local validation failure here
		// means the acknowledgment itself was malformed.
		return sent, err
	}
	return sent, nil
}

// MarkConversationRead marks all held inbound messages from the counterpart
// as read at the given time. Already-read messages keep their original
// ReadAt; a message is never retroactively unread. Returns the number of
// messages newly marked.
func (s *Store) MarkConversationRead(counterpartID string, at time.Time) int {
	return s.markRead(counterpartID, func(m *message.Message) bool {
		return m.SenderID == counterpartID
	}, at)
}

// MarkOutboundRead marks all held messages the local identity sent to the
// reader as read. It is applied when the server relays a read receipt.
func (s *Store) MarkOutboundRead(readerID string, at time.Time) int {
	return s.markRead(readerID, func(m *message.Message) bool {
		return m.SenderID == s.self
	}, at)
}

func (s *Store) markRead(counterpartID string, match func(*message.Message) bool, at time.Time) int {
	s.mu.Lock()
	conv := s.convs[counterpartID]
	marked := 0
	for i := range conv {
		if !conv[i].IsRead && match(&conv[i]) {
			conv[i].IsRead = true
			conv[i].ReadAt = at
			marked++
		}
	}
	s.mu.Unlock()

	if marked > 0 {
		s.persist(counterpartID)
		s.notify(counterpartID)
	}
	return marked
}

// UnreadCount returns the number of held inbound messages from the
// counterpart that are not yet marked read.
func (s *Store) UnreadCount(counterpartID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.convs[counterpartID] {
		if m.SenderID == counterpartID && !m.IsRead {
			n++
		}
	}
	return n
}

// Warm loads a conversation from the disk cache, if one is configured, and
// merges it with whatever the store already holds. Cache content goes
// through the same merge as network content, so a stale cache can never
// mask fresher data.
func (s *Store) Warm(counterpartID string) error {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Load(counterpartID)
	if err != nil {
		return fmt.Errorf("store: warm %s: %w", counterpartID, err)
	}
	if len(cached) == 0 {
		return nil
	}
	s.IngestBatch(cached, "cache")
	return nil
}

// persist writes the conversation to the disk cache, best effort.
func (s *Store) persist(counterpartID string) {
	if s.cache == nil {
		return
	}
	s.mu.RLock()
	conv := make([]message.Message, len(s.convs[counterpartID]))
	copy(conv, s.convs[counterpartID])
	s.mu.RUnlock()

	if err := s.cache.Save(counterpartID, conv); err != nil {
		log.Printf("store: cache write for %s failed: %v", counterpartID, err)
	}
}
