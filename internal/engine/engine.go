// Package engine assembles the chat engine for one authenticated identity:
// it owns the transport connection, routes raw server events to the message
// store and the presence/typing/receipt trackers, and exposes the pieces to
// the surrounding UI. Everything is constructor-injected; there is no
// ambient connection state.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/keyhaven/chat-engine/internal/api"
	"github.com/keyhaven/chat-engine/internal/message"
	"github.com/keyhaven/chat-engine/internal/presence"
	"github.com/keyhaven/chat-engine/internal/protocol"
	"github.com/keyhaven/chat-engine/internal/receipt"
	"github.com/keyhaven/chat-engine/internal/store"
	"github.com/keyhaven/chat-engine/internal/transport"
	"github.com/keyhaven/chat-engine/internal/typing"
)

// EventKind classifies engine notifications pushed to the UI.
type EventKind int

const (
	EventConversation EventKind = iota // a conversation's content changed
	EventPresence                      // the online set changed
	EventTyping                        // the typing set changed
	EventState                         // the connection state changed
)

// Event is a coarse notification that something the UI renders has changed.
// Counterpart is set for conversation events; State for state events.
type Event struct {
	Kind        EventKind
	Counterpart string
	State       transport.State
}

// Config carries everything the engine needs besides the identity.
type Config struct {
	APIBaseURL string           // e.g. "http://localhost:8080"
	Transport  transport.Config // includes the WebSocket URL
	Typing     typing.Config
	CachePath  string // bbolt cache file; empty disables the disk cache
}

// DefaultConfig returns a config pointing at a local chatd.
func DefaultConfig() Config {
	return Config{
		APIBaseURL: "http://localhost:8080",
		Transport:  transport.DefaultConfig(),
		Typing:     typing.DefaultConfig(),
	}
}

// Engine is the per-identity chat engine facade.
type Engine struct {
	identity string

	transport *transport.Client
	store     *store.Store
	presence  *presence.Tracker
	typing    *typing.Coordinator
	receipts  *receipt.Tracker
	cache     *store.Cache

	events     chan Event
	storeToken int
	stateToken int
}

// New builds an engine for the identity. It refuses an empty identity so a
// caller can never stand up an engine while auth is unresolved.
func New(identity string, cfg Config) (*Engine, error) {
	if identity == "" {
		return nil, fmt.Errorf("engine: identity is required")
	}

	client, err := transport.NewClient(identity, cfg.Transport)
	if err != nil {
		return nil, err
	}

	var cache *store.Cache
	if cfg.CachePath != "" {
		cache, err = store.OpenCache(cfg.CachePath)
		if err != nil {
			log.Printf("engine: disk cache unavailable, continuing without: %v", err)
			cache = nil
		}
	}

	restClient := api.NewClient(cfg.APIBaseURL, identity)
	msgStore := store.New(identity, restClient, restClient, cache)

	e := &Engine{
		identity:  identity,
		transport: client,
		store:     msgStore,
		presence:  presence.NewTracker(),
		receipts:  receipt.NewTracker(msgStore, restClient),
		cache:     cache,
		events:    make(chan Event, 64),
	}
	e.typing = typing.NewCoordinator(cfg.Typing, client, func() {
		e.emit(Event{Kind: EventTyping})
	})

	e.storeToken = msgStore.Subscribe(func(counterpartID string) {
		e.emit(Event{Kind: EventConversation, Counterpart: counterpartID})
	})
	e.wireTransport()
	return e, nil
}

// wireTransport routes raw transport events to their reducers. All handlers
// run on the transport read loop and only touch lock-protected state.
func (e *Engine) wireTransport() {
	e.transport.Subscribe(protocol.TypeNewMessage, func(msg interface{}) {
		m, ok := msg.(protocol.NewMessageMsg)
		if !ok {
			return
		}
		if err := e.store.Ingest(m.Message, "live"); err != nil {
			log.Printf("engine: %v", err)
		}
	})

	e.transport.Subscribe(protocol.TypeOnlineUsers, func(msg interface{}) {
		m, ok := msg.(protocol.OnlineUsersMsg)
		if !ok {
			return
		}
		e.presence.SetSnapshot(m.Online, m.LastSeen)
		e.emit(Event{Kind: EventPresence})
	})

	e.transport.Subscribe(protocol.TypeUserTyping, func(msg interface{}) {
		if m, ok := msg.(protocol.UserTypingMsg); ok {
			e.typing.SetTyping(m.From)
		}
	})

	e.transport.Subscribe(protocol.TypeUserStopped, func(msg interface{}) {
		if m, ok := msg.(protocol.UserStoppedMsg); ok {
			e.typing.SetStoppedTyping(m.From)
		}
	})

	e.transport.Subscribe(protocol.TypeMessagesRead, func(msg interface{}) {
		if m, ok := msg.(protocol.MessagesReadMsg); ok {
			e.store.MarkOutboundRead(m.Reader, m.ReadAt)
		}
	})

	e.stateToken = e.transport.OnStateChange(func(_, next transport.State) {
		if next == transport.StateDisconnected {
			// Stale presence and typing flags must never survive a
			// disconnect.
			e.presence.Clear()
			e.typing.Clear()
			e.emit(Event{Kind: EventPresence})
		}
		e.emit(Event{Kind: EventState, State: next})
	})
}

// Connect opens the real-time channel. Reconnection bounds come from the
// transport config.
func (e *Engine) Connect(ctx context.Context) error {
	return e.transport.Connect(ctx)
}

// Close tears the engine down: the transport drops its handlers
// synchronously, presence and typing state are cleared, and the disk cache
// is flushed shut.
func (e *Engine) Close() {
	e.transport.Close()
	e.store.Unsubscribe(e.storeToken)
	e.presence.Clear()
	e.typing.Clear()
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			log.Printf("engine: cache close: %v", err)
		}
	}
}

// Events returns the coarse change-notification channel. Events are dropped
// rather than blocking the transport read loop when the consumer lags.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// Identity returns the identity the engine was built for.
func (e *Engine) Identity() string { return e.identity }

// Store returns the message store.
func (e *Engine) Store() *store.Store { return e.store }

// Presence returns the presence tracker.
func (e *Engine) Presence() *presence.Tracker { return e.presence }

// Typing returns the typing coordinator.
func (e *Engine) Typing() *typing.Coordinator { return e.typing }

// Receipts returns the read-receipt tracker.
func (e *Engine) Receipts() *receipt.Tracker { return e.receipts }

// State returns the current transport state.
func (e *Engine) State() transport.State { return e.transport.State() }

// OpenConversation prepares a conversation for display: warm it from the
// disk cache, refresh from the server so messages sent while the client was
// offline are never masked by the cache, and mark it read. Older pages load
// later through LoadOlder as the user scrolls up.
func (e *Engine) OpenConversation(ctx context.Context, counterpartID string) ([]message.Message, error) {
	if err := e.store.Warm(counterpartID); err != nil {
		log.Printf("engine: %v", err)
	}
	if err := e.store.Refresh(ctx, counterpartID, store.DefaultPageSize); err != nil {
		return e.store.Get(counterpartID), err
	}
	if err := e.receipts.MarkRead(ctx, counterpartID); err != nil {
		log.Printf("engine: %v", err)
	}
	return e.store.Get(counterpartID), nil
}

// Send sends a draft to the counterpart and emits the stop-typing signal a
// completed message implies.
func (e *Engine) Send(ctx context.Context, counterpartID string, draft store.Draft) (message.Message, error) {
	sent, err := e.store.Send(ctx, counterpartID, draft)
	if err != nil {
		return message.Message{}, err
	}
	e.typing.NotifyStoppedTyping(counterpartID)
	return sent, nil
}
