package hub

import (
	"log"
	"time"
)

// startHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and evicts those that have gone
// stale (no reads within interval + timeout). The goroutine exits when the
// hub's done channel is closed.
func (h *Hub) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.checkConnections()
			}
		}
	}()
}

// checkConnections iterates over all active connections. Connections with
// no successful read within interval + timeout are considered dead and are
// dropped; the rest receive a protocol-level ping frame which the client
// answers automatically.
func (h *Hub) checkConnections() {
	deadline := h.config.HeartbeatInterval + h.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range h.conns.all() {
		if now.Sub(c.LastPing()) > deadline {
			log.Printf("hub: heartbeat timeout identity=%s last_activity=%s ago",
				c.Identity, now.Sub(c.LastPing()).Round(time.Second))
			h.dropConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("hub: heartbeat ping failed identity=%s: %v", c.Identity, err)
			h.dropConnection(c)
		}
	}
}
