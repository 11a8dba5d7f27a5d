// Package transport owns the single live WebSocket connection the chat
// engine holds per authenticated identity. It exposes the connection state,
// a typed subscription surface for server-pushed events, and a raw outbound
// event surface for fire-and-forget signals such as typing indicators.
//
// Exactly one connection is held at a time. Reconnection is bounded: after
// the attempt cap is exhausted the client stays Disconnected and surfaces
// that instead of retrying forever.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/keyhaven/chat-engine/internal/metrics"
	"github.com/keyhaven/chat-engine/internal/protocol"
)

// State is the connection state machine. Transitions never skip a state: a
// consumer may never observe Connected without having passed through
// Connecting for the current identity.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name for logging and UI.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrAttemptsExhausted is returned when the bounded reconnection budget for
// a connection cycle has been spent.
var ErrAttemptsExhausted = errors.New("transport: connection attempts exhausted")

// ErrNotConnected is returned by outbound operations while the connection
// is down.
var ErrNotConnected = errors.New("transport: not connected")

// Config holds tunable parameters for the transport client.
type Config struct {
	URL          string        // base WebSocket URL, e.g. "ws://localhost:8080/ws"
	DialTimeout  time.Duration // timeout per connection attempt
	MaxAttempts  int           // attempts per connection cycle
	RetryWait    time.Duration // fixed wait between attempts
	PingInterval time.Duration // application-level keepalive period
	PongTimeout  time.Duration // max silence after a ping before the conn is dropped
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		URL:          "ws://localhost:8080/ws",
		DialTimeout:  10 * time.Second,
		MaxAttempts:  3,
		RetryWait:    2 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  10 * time.Second,
	}
}

// EventFunc handles one parsed server-pushed message. msg is the concrete
// struct returned by protocol.ParseServerMessage for the subscribed type.
type EventFunc func(msg interface{})

// StateFunc observes state machine transitions.
type StateFunc func(old, new State)

type subscription struct {
	msgType string
	fn      EventFunc
}

// Client is the transport connection manager for a single identity.
type Client struct {
	config   Config
	identity string

	mu         sync.Mutex
	state      State
	conn       net.Conn
	gen        int // connection generation; stale read loops bail out
	closed     bool
	connecting bool // a connection cycle is running (including its retry waits)
	lastPong   time.Time

	writeMu sync.Mutex

	subMu     sync.Mutex
	subs      map[int]subscription
	stateSubs map[int]StateFunc
	nextToken int

	done chan struct{}
}

// NewClient creates a transport client bound to one identity. It refuses an
// empty identity: the engine must never connect while auth is unresolved.
func NewClient(identity string, config Config) (*Client, error) {
	if identity == "" {
		return nil, fmt.Errorf("transport: refusing to create client without identity")
	}
	return &Client{
		config:    config,
		identity:  identity,
		subs:      make(map[int]subscription),
		stateSubs: make(map[int]StateFunc),
		done:      make(chan struct{}),
	}, nil
}

// Identity returns the identity this client connects as.
func (c *Client) Identity() string {
	return c.identity
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is currently established.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the connection, retrying up to the configured attempt
// cap with a fixed wait between attempts. Calling Connect while the client
// is already connected, or while a connection cycle is still running (the
// state reads Disconnected during the retry waits), is a no-op. After the
// cap is exhausted the client is left Disconnected and ErrAttemptsExhausted
// is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: client is closed")
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.connectCycle(ctx)
}

// connectCycle runs one bounded cycle of connection attempts. At most one
// cycle runs at a time: the in-progress flag is taken atomically with the
// closed check, so a Connect racing a background reconnect cannot stand up
// a second connection.
func (c *Client) connectCycle(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: client is closed")
	}
	if c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if c.isClosed() {
			return fmt.Errorf("transport: client is closed")
		}

		c.setState(StateConnecting)
		metrics.ReconnectAttempts.Inc()

		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.gen++
			gen := c.gen
			c.lastPong = time.Now()
			c.mu.Unlock()

			c.setState(StateConnected)
			go c.readLoop(conn, gen)
			go c.heartbeat(conn, gen)
			log.Printf("transport: connected identity=%s attempt=%d", c.identity, attempt)
			return nil
		}

		log.Printf("transport: dial failed identity=%s attempt=%d/%d: %v",
			c.identity, attempt, c.config.MaxAttempts, err)
		c.setState(StateDisconnected)

		if attempt < c.config.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return fmt.Errorf("transport: client is closed")
			case <-time.After(c.config.RetryWait):
			}
		}
	}
	return ErrAttemptsExhausted
}

// dial opens a single WebSocket connection with the per-attempt timeout.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	target := c.config.URL + "?user_id=" + url.QueryEscape(c.identity)

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	dialer := ws.Dialer{Timeout: c.config.DialTimeout}
	conn, _, _, err := dialer.Dial(dialCtx, target)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", c.config.URL, err)
	}
	return conn, nil
}

// Send marshals the payload as a typed wire message and writes it as a text
// frame. The write mutex serializes frames from concurrent callers.
func (c *Client) Send(msgType string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", msgType, err)
	}
	return nil
}

// Subscribe registers an event handler for one server message type and
// returns a token for Unsubscribe. A handler runs on the read-loop
// goroutine; it must not block.
func (c *Client) Subscribe(msgType string, fn EventFunc) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextToken++
	c.subs[c.nextToken] = subscription{msgType: msgType, fn: fn}
	return c.nextToken
}

// Unsubscribe synchronously removes a handler. After Unsubscribe returns
// the handler will not be invoked again.
func (c *Client) Unsubscribe(token int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subs, token)
}

// OnStateChange registers a state transition observer and returns a token.
func (c *Client) OnStateChange(fn StateFunc) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextToken++
	c.stateSubs[c.nextToken] = fn
	return c.nextToken
}

// RemoveStateListener removes a state transition observer.
func (c *Client) RemoveStateListener(token int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.stateSubs, token)
}

// Close tears the connection down and synchronously removes every
// registered handler, so no event fires into a torn-down consumer. The
// client cannot be reused after Close; identity change means a new client.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	c.setState(StateDisconnected)

	c.subMu.Lock()
	c.subs = make(map[int]subscription)
	c.stateSubs = make(map[int]StateFunc)
	c.subMu.Unlock()

	log.Printf("transport: closed identity=%s", c.identity)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// setState performs a state transition and notifies observers outside the
// lock. Transitions to the current state are dropped.
func (c *Client) setState(next State) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	metrics.ConnectionState.Set(float64(next))

	c.subMu.Lock()
	fns := make([]StateFunc, 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(prev, next)
	}
}

// readLoop reads frames until the connection fails, dispatching each parsed
// message to its subscribers. On failure it starts a fresh bounded
// reconnection cycle unless the client was closed or superseded.
func (c *Client) readLoop(conn net.Conn, gen int) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			c.handleReadError(conn, gen, err)
			return
		}

		msgType, msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			log.Printf("transport: dropping unparseable frame identity=%s: %v", c.identity, err)
			continue
		}

		if msgType == protocol.TypePong {
			c.mu.Lock()
			c.lastPong = time.Now()
			c.mu.Unlock()
			continue
		}

		c.dispatch(msgType, msg)
	}
}

func (c *Client) dispatch(msgType string, msg interface{}) {
	c.subMu.Lock()
	fns := make([]EventFunc, 0, 2)
	for _, sub := range c.subs {
		if sub.msgType == msgType {
			fns = append(fns, sub.fn)
		}
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// handleReadError tears down the failed connection and, when appropriate,
// kicks off the bounded reconnection cycle on a fresh goroutine.
func (c *Client) handleReadError(conn net.Conn, gen int, err error) {
	c.mu.Lock()
	stale := gen != c.gen || c.closed
	if !stale {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.Close()
	if stale {
		return
	}

	log.Printf("transport: connection lost identity=%s: %v", c.identity, err)
	c.setState(StateDisconnected)

	go func() {
		if err := c.connectCycle(context.Background()); err != nil {
			log.Printf("transport: reconnect failed identity=%s: %v", c.identity, err)
		}
	}()
}

// heartbeat sends application-level pings and drops the connection when the
// server goes silent past the pong deadline. Closing the connection makes
// the read loop fail, which funnels into the normal reconnect path.
func (c *Client) heartbeat(conn net.Conn, gen int) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.gen || c.closed
			overdue := time.Since(c.lastPong) > c.config.PingInterval+c.config.PongTimeout
			c.mu.Unlock()

			if stale {
				return
			}
			if overdue {
				log.Printf("transport: heartbeat timeout identity=%s", c.identity)
				conn.Close()
				return
			}
			if err := c.Send(protocol.TypePing, protocol.PingMsg{}); err != nil && err != ErrNotConnected {
				log.Printf("transport: heartbeat ping failed identity=%s: %v", c.identity, err)
			}
		}
	}
}
