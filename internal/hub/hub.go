// Package hub is the real-time side of chatd: it upgrades WebSocket
// connections, tracks which identities are online, broadcasts full
// membership snapshots whenever presence changes, relays typing
// indicators, and delivers new messages to their receivers — locally when
// the receiver is on this instance, over NATS when not.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/keyhaven/chat-engine/internal/message"
	"github.com/keyhaven/chat-engine/internal/messaging"
	"github.com/keyhaven/chat-engine/internal/metrics"
	"github.com/keyhaven/chat-engine/internal/protocol"
	"github.com/keyhaven/chat-engine/internal/status"
)

// Config holds tunable parameters for the hub.
type Config struct {
	InstanceName      string        // identifies this chatd in presence announcements
	HeartbeatInterval time.Duration // how often to ping clients
	HeartbeatTimeout  time.Duration // max silence after a ping before eviction
	PresenceTTL       time.Duration // staleness cutoff for remote instance announcements
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		InstanceName:      "chatd-1",
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		PresenceTTL:       90 * time.Second,
	}
}

// presenceAnnouncement is the payload instances exchange over NATS.
type presenceAnnouncement struct {
	Instance string    `json:"instance"`
	Online   []string  `json:"online"`
	Ts       time.Time `json:"ts"`
}

// Hub owns the live connections of one chatd instance.
type Hub struct {
	config Config
	conns  *registry
	status *status.Store       // may be nil: last-seen omitted from snapshots
	nats   *messaging.NATSClient // may be nil: single-instance deployment

	remoteMu sync.Mutex
	remote   map[string]presenceAnnouncement // instance -> latest announcement

	seenMu sync.Mutex
	seen   map[string]bool // identities ever online here; bounds last-seen lookups

	done chan struct{}
}

// New creates a hub. statusStore and natsClient may each be nil.
func New(config Config, statusStore *status.Store, natsClient *messaging.NATSClient) *Hub {
	h := &Hub{
		config: config,
		conns:  newRegistry(),
		status: statusStore,
		nats:   natsClient,
		remote: make(map[string]presenceAnnouncement),
		seen:   make(map[string]bool),
		done:   make(chan struct{}),
	}

	if natsClient != nil {
		if err := natsClient.SubscribePresence(h.onRemotePresence); err != nil {
			log.Printf("hub: presence subscribe failed: %v", err)
		}
	}

	h.startHeartbeat()
	return h
}

// Shutdown stops the heartbeat sweep and closes every connection.
func (h *Hub) Shutdown() {
	close(h.done)
	for _, c := range h.conns.all() {
		c.Close()
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection for the
// identity given in the user_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("user_id")
	if identity == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		Identity:  identity,
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.TouchPing()

	if prev := h.conns.add(c); prev != nil {
		// Same identity signed in again; the old connection loses.
		log.Printf("hub: identity %s reconnected, closing previous connection", identity)
		prev.Close()
	}
	metrics.ConnectionsTotal.Set(float64(h.conns.count()))

	h.seenMu.Lock()
	h.seen[identity] = true
	h.seenMu.Unlock()

	if h.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := h.status.Touch(ctx, identity); err != nil {
			log.Printf("hub: last-seen touch for %s: %v", identity, err)
		}
		cancel()
	}

	if h.nats != nil {
		err := h.nats.SubscribeDeliver(identity, func(data []byte) {
			if local := h.conns.get(identity); local != nil {
				if err := local.WriteMessage(data); err != nil {
					log.Printf("hub: forwarded delivery to %s failed: %v", identity, err)
				}
			}
		})
		if err != nil {
			log.Printf("hub: delivery subscribe for %s: %v", identity, err)
		}
	}

	log.Printf("hub: %s connected (local=%d)", identity, h.conns.count())
	h.announcePresence()
	h.broadcastSnapshot()

	go h.readLoop(c)
}

// readLoop reads frames from one client until the connection dies, routing
// typing signals and keepalives.
func (h *Hub) readLoop(c *Connection) {
	defer h.dropConnection(c)

	for {
		data, err := wsutil.ReadClientText(c.Conn)
		if err != nil {
			return
		}
		c.TouchPing()

		msgType, msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Printf("hub: dispatch parse error identity=%s: %v", c.Identity, err)
			h.sendError(c, "parse_error", "invalid message format")
			continue
		}

		switch msgType {
		case protocol.TypePing:
			h.sendPong(c)

		case protocol.TypeTyping:
			m := msg.(protocol.TypingMsg)
			frame, err := protocol.NewMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{From: c.Identity})
			if err != nil {
				continue
			}
			metrics.TypingEvents.Inc()
			h.Deliver(m.To, frame)

		case protocol.TypeStopTyping:
			m := msg.(protocol.StopTypingMsg)
			frame, err := protocol.NewMessage(protocol.TypeUserStopped, protocol.UserStoppedMsg{From: c.Identity})
			if err != nil {
				continue
			}
			h.Deliver(m.To, frame)

		default:
			h.sendError(c, "unsupported_type", "unsupported message type")
		}
	}
}

// dropConnection deregisters a dead connection and propagates the presence
// change. Superseded connections (same identity reconnected) change
// nothing.
func (h *Hub) dropConnection(c *Connection) {
	c.Close()
	if !h.conns.remove(c) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(h.conns.count()))

	if h.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := h.status.Touch(ctx, c.Identity); err != nil {
			log.Printf("hub: last-seen touch for %s: %v", c.Identity, err)
		}
		cancel()
	}
	if h.nats != nil {
		if err := h.nats.UnsubscribeDeliver(c.Identity); err != nil {
			log.Printf("hub: %v", err)
		}
	}

	log.Printf("hub: %s disconnected (local=%d)", c.Identity, h.conns.count())
	h.announcePresence()
	h.broadcastSnapshot()
}

// Deliver writes a wire frame to the receiver: directly when their
// connection lives on this instance, via NATS otherwise. An offline
// receiver gets nothing — they will pick the content up from history.
func (h *Hub) Deliver(receiverID string, frame []byte) {
	if local := h.conns.get(receiverID); local != nil {
		if err := local.WriteMessage(frame); err != nil {
			log.Printf("hub: delivery to %s failed: %v", receiverID, err)
			return
		}
		metrics.MessagesDelivered.WithLabelValues("local").Inc()
		return
	}
	if h.nats != nil {
		if err := h.nats.PublishDeliver(receiverID, frame); err != nil {
			log.Printf("hub: nats delivery to %s failed: %v", receiverID, err)
			return
		}
		metrics.MessagesDelivered.WithLabelValues("nats").Inc()
	}
}

// DeliverNewMessage pushes a freshly persisted message to its receiver.
// Called by the REST send handler after the history store accepted it.
func (h *Hub) DeliverNewMessage(m message.Message) {
	frame, err := protocol.NewMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: m})
	if err != nil {
		log.Printf("hub: build new_message frame: %v", err)
		return
	}
	h.Deliver(m.ReceiverID, frame)
}

// NotifyRead tells a sender that reader has read everything they sent.
// Called by the REST mark-read handler.
func (h *Hub) NotifyRead(senderID, readerID string, at time.Time) {
	frame, err := protocol.NewMessage(protocol.TypeMessagesRead, protocol.MessagesReadMsg{
		Reader: readerID,
		ReadAt: at,
	})
	if err != nil {
		log.Printf("hub: build messages_read frame: %v", err)
		return
	}
	h.Deliver(senderID, frame)
}

// onRemotePresence folds another instance's announcement into the remote
// map and rebroadcasts the merged snapshot locally.
func (h *Hub) onRemotePresence(data []byte) {
	var ann presenceAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		log.Printf("hub: bad presence announcement: %v", err)
		return
	}
	if ann.Instance == h.config.InstanceName {
		return // our own echo
	}

	h.remoteMu.Lock()
	h.remote[ann.Instance] = ann
	h.remoteMu.Unlock()

	h.broadcastSnapshot()
}

// announcePresence publishes this instance's local membership to the other
// instances.
func (h *Hub) announcePresence() {
	if h.nats == nil {
		return
	}
	data, err := json.Marshal(presenceAnnouncement{
		Instance: h.config.InstanceName,
		Online:   h.conns.identities(),
		Ts:       time.Now(),
	})
	if err != nil {
		return
	}
	if err := h.nats.PublishPresence(data); err != nil {
		log.Printf("hub: presence publish: %v", err)
	}
}

// onlineSet is the union of local connections and fresh remote
// announcements, sorted.
func (h *Hub) onlineSet() []string {
	set := make(map[string]bool)
	for _, id := range h.conns.identities() {
		set[id] = true
	}

	h.remoteMu.Lock()
	cutoff := time.Now().Add(-h.config.PresenceTTL)
	for instance, ann := range h.remote {
		if ann.Ts.Before(cutoff) {
			delete(h.remote, instance)
			continue
		}
		for _, id := range ann.Online {
			set[id] = true
		}
	}
	h.remoteMu.Unlock()

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// broadcastSnapshot sends the full membership snapshot to every local
// connection. Clients replace their presence state wholesale, so the
// snapshot always carries the complete set.
func (h *Hub) broadcastSnapshot() {
	online := h.onlineSet()
	metrics.OnlineUsers.Set(float64(len(online)))

	var lastSeen map[string]time.Time
	if h.status != nil {
		offline := h.offlineSeen(online)
		if len(offline) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			var err error
			lastSeen, err = h.status.LastSeenMany(ctx, offline)
			cancel()
			if err != nil {
				log.Printf("hub: last-seen lookup: %v", err)
			}
		}
	}

	frame, err := protocol.NewMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		Online:   online,
		LastSeen: lastSeen,
	})
	if err != nil {
		log.Printf("hub: build online_users frame: %v", err)
		return
	}

	for _, c := range h.conns.all() {
		if err := c.WriteMessage(frame); err != nil {
			log.Printf("hub: snapshot to %s failed: %v", c.Identity, err)
		}
	}
}

// offlineSeen returns identities seen online here at some point that are
// not in the current online set.
func (h *Hub) offlineSeen(online []string) []string {
	onlineSet := make(map[string]bool, len(online))
	for _, id := range online {
		onlineSet[id] = true
	}

	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	var out []string
	for id := range h.seen {
		if !onlineSet[id] {
			out = append(out, id)
		}
	}
	return out
}

// sendError sends a structured error message back to the client.
func (h *Hub) sendError(c *Connection, code, msg string) {
	frame, err := protocol.NewMessage(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := c.WriteMessage(frame); err != nil {
		log.Printf("hub: error frame to %s failed: %v", c.Identity, err)
	}
}

// sendPong responds to a client application-level ping.
func (h *Hub) sendPong(c *Connection) {
	frame, err := protocol.NewMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		return
	}
	if err := c.WriteMessage(frame); err != nil {
		log.Printf("hub: pong to %s failed: %v", c.Identity, err)
	}
}
