package hub

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// identity and a write mutex for serializing outbound frames.
type Connection struct {
	Identity  string
	Conn      net.Conn
	CreatedAt time.Time

	mu       sync.Mutex
	lastPing time.Time
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// TouchPing records client activity for the heartbeat sweep.
func (c *Connection) TouchPing() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// LastPing returns the time of the most recent client activity.
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// registry maps identities to their live connections. One connection per
// identity: a second login replaces (and closes) the first.
type registry struct {
	mu         sync.RWMutex
	byIdentity map[string]*Connection
}

func newRegistry() *registry {
	return &registry{byIdentity: make(map[string]*Connection)}
}

// add registers a connection and returns the connection it displaced for
// the same identity, if any.
func (r *registry) add(conn *Connection) *Connection {
	r.mu.Lock()
	prev := r.byIdentity[conn.Identity]
	r.byIdentity[conn.Identity] = conn
	r.mu.Unlock()
	return prev
}

// remove deregisters the given connection. It is a no-op when the identity
// has already been taken over by a newer connection.
func (r *registry) remove(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byIdentity[conn.Identity] != conn {
		return false
	}
	delete(r.byIdentity, conn.Identity)
	return true
}

func (r *registry) get(identity string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdentity[identity]
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

// identities returns a snapshot of the currently connected identities.
func (r *registry) identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	return out
}

// all returns a snapshot of all current connections, safe to iterate
// without holding the lock.
func (r *registry) all() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.byIdentity))
	for _, c := range r.byIdentity {
		out = append(out, c)
	}
	return out
}
