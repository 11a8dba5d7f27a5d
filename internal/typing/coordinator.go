// Package typing coordinates ephemeral "is typing" indicators. Outgoing
// signals are debounced so continued keystrokes do not retrigger transport
// traffic; incoming flags expire locally because a counterpart that
// disconnects abruptly never sends a stop signal.
package typing

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/keyhaven/chat-engine/internal/protocol"
)

// Emitter sends fire-and-forget events over the real-time channel. It is
// satisfied by the transport client.
type Emitter interface {
	Send(msgType string, payload interface{}) error
}

// Config holds the typing indicator timing parameters.
type Config struct {
	Debounce    time.Duration // min interval between outgoing typing emits per counterpart
	ExpireAfter time.Duration // incoming flag lifetime without a refresh
}

// DefaultConfig returns the default debounce and expiry windows.
func DefaultConfig() Config {
	return Config{
		Debounce:    2 * time.Second,
		ExpireAfter: 5 * time.Second,
	}
}

// Coordinator tracks who is typing to the local identity and throttles the
// local identity's own typing signals.
type Coordinator struct {
	config  Config
	emitter Emitter

	mu       sync.Mutex
	remote   map[string]*time.Timer // counterpart -> expiry timer
	gens     map[string]int         // counterpart -> expiry generation, monotonic
	lastEmit map[string]time.Time   // counterpart -> last outgoing emit
	onChange func()
}

// NewCoordinator creates a Coordinator. emitter may be nil in tests that
// only exercise the incoming side. onChange, if non-nil, fires whenever the
// set of typing counterparts changes (including by expiry).
func NewCoordinator(config Config, emitter Emitter, onChange func()) *Coordinator {
	return &Coordinator{
		config:   config,
		emitter:  emitter,
		remote:   make(map[string]*time.Timer),
		gens:     make(map[string]int),
		lastEmit: make(map[string]time.Time),
		onChange: onChange,
	}
}

// NotifyTyping emits a typing signal for the counterpart unless one was
// already emitted within the debounce window.
func (c *Coordinator) NotifyTyping(counterpartID string) {
	c.mu.Lock()
	if last, ok := c.lastEmit[counterpartID]; ok && time.Since(last) < c.config.Debounce {
		c.mu.Unlock()
		return
	}
	c.lastEmit[counterpartID] = time.Now()
	c.mu.Unlock()

	if c.emitter == nil {
		return
	}
	if err := c.emitter.Send(protocol.TypeTyping, protocol.TypingMsg{To: counterpartID}); err != nil {
		log.Printf("typing: emit failed to=%s: %v", counterpartID, err)
	}
}

// NotifyStoppedTyping emits a stop signal and resets the debounce window so
// the next keystroke emits immediately. Called when the input is cleared or
// a message is sent.
func (c *Coordinator) NotifyStoppedTyping(counterpartID string) {
	c.mu.Lock()
	delete(c.lastEmit, counterpartID)
	c.mu.Unlock()

	if c.emitter == nil {
		return
	}
	if err := c.emitter.Send(protocol.TypeStopTyping, protocol.StopTypingMsg{To: counterpartID}); err != nil {
		log.Printf("typing: stop emit failed to=%s: %v", counterpartID, err)
	}
}

// SetTyping flags a counterpart as typing and (re)arms its expiry timer.
// Each refresh pushes the expiry out by the full window and bumps the
// generation, so an old timer that already fired and lost the Stop race
// cannot clear the refreshed flag.
func (c *Coordinator) SetTyping(counterpartID string) {
	c.mu.Lock()
	timer, existed := c.remote[counterpartID]
	if existed {
		timer.Stop()
	}
	c.gens[counterpartID]++
	gen := c.gens[counterpartID]
	c.remote[counterpartID] = time.AfterFunc(c.config.ExpireAfter, func() {
		c.expire(counterpartID, gen)
	})
	c.mu.Unlock()

	if !existed {
		c.changed()
	}
}

// SetStoppedTyping clears a counterpart's typing flag immediately.
func (c *Coordinator) SetStoppedTyping(counterpartID string) {
	c.mu.Lock()
	timer, ok := c.remote[counterpartID]
	if ok {
		timer.Stop()
		delete(c.remote, counterpartID)
		c.gens[counterpartID]++ // invalidate the timer if it already fired
	}
	c.mu.Unlock()

	if ok {
		c.changed()
	}
}

// expire clears a typing flag whose window elapsed without a refresh. A
// generation mismatch means a refresh or stop raced this timer's firing;
// the stale expiry changes nothing.
func (c *Coordinator) expire(counterpartID string, gen int) {
	c.mu.Lock()
	if c.gens[counterpartID] != gen {
		c.mu.Unlock()
		return
	}
	delete(c.remote, counterpartID)
	c.mu.Unlock()

	c.changed()
}

// IsTyping reports whether the counterpart is currently flagged as typing.
func (c *Coordinator) IsTyping(counterpartID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.remote[counterpartID]
	return ok
}

// TypingUsers returns the counterparts currently typing, sorted.
func (c *Coordinator) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.remote))
	for id := range c.remote {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear drops all typing state and stops every expiry timer. Called on
// disconnect so a stale indicator cannot survive the connection.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	for id, timer := range c.remote {
		timer.Stop()
		delete(c.remote, id)
		c.gens[id]++
	}
	c.lastEmit = make(map[string]time.Time)
	c.mu.Unlock()

	c.changed()
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
