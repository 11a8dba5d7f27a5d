package transport

import (
	"context"
	"testing"
	"time"

	"github.com/keyhaven/chat-engine/internal/protocol"
)

// unreachableConfig returns a config whose dial fails immediately, for
// exercising the reconnection bounds without a server.
func unreachableConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:0/ws"
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxAttempts = 3
	cfg.RetryWait = 10 * time.Millisecond
	return cfg
}

func TestNewClient_RequiresIdentity(t *testing.T) {
	if _, err := NewClient("", DefaultConfig()); err == nil {
		t.Fatal("expected error for empty identity")
	}

	c, err := NewClient("alice", DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Identity() != "alice" {
		t.Errorf("expected identity alice, got %q", c.Identity())
	}
	if c.State() != StateDisconnected {
		t.Errorf("a new client starts Disconnected, got %v", c.State())
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestSend_WhileDisconnected(t *testing.T) {
	c, err := NewClient("alice", DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.Send(protocol.TypePing, protocol.PingMsg{}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	c, err := NewClient("alice", DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := 0
	token := c.Subscribe(protocol.TypeNewMessage, func(interface{}) { calls++ })

	c.dispatch(protocol.TypeNewMessage, protocol.NewMessageMsg{})
	c.dispatch(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{}) // different type, not delivered
	if calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", calls)
	}

	c.Unsubscribe(token)
	c.dispatch(protocol.TypeNewMessage, protocol.NewMessageMsg{})
	if calls != 1 {
		t.Errorf("expected no delivery after Unsubscribe, got %d", calls)
	}
}

func TestClose_RemovesHandlersAndRefusesReuse(t *testing.T) {
	c, err := NewClient("alice", DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := 0
	c.Subscribe(protocol.TypeNewMessage, func(interface{}) { calls++ })
	c.OnStateChange(func(State, State) { calls++ })

	c.Close()
	c.Close() // idempotent

	c.dispatch(protocol.TypeNewMessage, protocol.NewMessageMsg{})
	if calls != 0 {
		t.Errorf("expected no handler to fire after Close, got %d calls", calls)
	}

	if err := c.Connect(context.Background()); err == nil {
		t.Error("expected Connect to fail on a closed client")
	}
}

func TestConnect_ExhaustsBoundedAttempts(t *testing.T) {
	c, err := NewClient("alice", unreachableConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attempts := 0
	c.OnStateChange(func(_, next State) {
		if next == StateConnecting {
			attempts++
		}
	})

	if err := c.Connect(context.Background()); err != ErrAttemptsExhausted {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected Disconnected after exhaustion, got %v", c.State())
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}

	// Exhaustion is terminal for the cycle: no further automatic attempts.
	time.Sleep(50 * time.Millisecond)
	if attempts != 3 {
		t.Errorf("expected no attempts after exhaustion, got %d", attempts)
	}
}

func TestConnect_SingleCycleAtATime(t *testing.T) {
	cfg := unreachableConfig()
	cfg.MaxAttempts = 1
	c, err := NewClient("alice", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A background reconnect sits in its retry wait: the state reads
	// Disconnected but the cycle holds the in-progress flag.
	c.mu.Lock()
	c.connecting = true
	c.mu.Unlock()

	attempts := 0
	c.OnStateChange(func(_, next State) {
		if next == StateConnecting {
			attempts++
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect during a running cycle should be a no-op, got %v", err)
	}
	if attempts != 0 {
		t.Fatalf("Connect during a running cycle must not dial, got %d attempts", attempts)
	}

	// Once the running cycle ends, the flag clears and Connect dials again.
	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != ErrAttemptsExhausted {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt after the cycle ended, got %d", attempts)
	}
}

func TestSetState_NotifiesTransitionsOnce(t *testing.T) {
	c, err := NewClient("alice", DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var transitions [][2]State
	c.OnStateChange(func(old, next State) {
		transitions = append(transitions, [2]State{old, next})
	})

	c.setState(StateConnecting)
	c.setState(StateConnecting) // same-state transition is dropped
	c.setState(StateConnected)

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0] != [2]State{StateDisconnected, StateConnecting} {
		t.Errorf("unexpected first transition: %v", transitions[0])
	}
	if transitions[1] != [2]State{StateConnecting, StateConnected} {
		t.Errorf("unexpected second transition: %v", transitions[1])
	}
}
