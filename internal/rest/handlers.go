// Package rest implements the chatd HTTP API: history pagination, sends,
// and read acknowledgments. The real-time side lives in the hub; these
// handlers persist first and then hand the result to the hub for delivery.
package rest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keyhaven/chat-engine/internal/history"
	"github.com/keyhaven/chat-engine/internal/hub"
	"github.com/keyhaven/chat-engine/internal/message"
	"github.com/keyhaven/chat-engine/internal/ratelimit"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler carries the collaborators the REST surface needs.
type Handler struct {
	history *history.Store
	hub     *hub.Hub
	limiter *ratelimit.Limiter // may be nil: no throttling
}

// NewHandler creates the REST handler. limiter may be nil.
func NewHandler(historyStore *history.Store, h *hub.Hub, limiter *ratelimit.Limiter) *Handler {
	return &Handler{history: historyStore, hub: h, limiter: limiter}
}

// Register mounts the message routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/messages/{counterpartID}", h.getMessages)
	r.Post("/api/messages/send/{counterpartID}", h.sendMessage)
	r.Put("/api/messages/read/{counterpartID}", h.markRead)
}

// identity extracts the authenticated identity. Authentication itself is an
// external collaborator; chatd trusts the header a fronting proxy sets.
func identity(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("rest: write response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// getMessages serves GET /api/messages/{counterpartID}?before=&limit=.
func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	self := identity(r)
	if self == "" {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	counterpart := chi.URLParam(r, "counterpartID")

	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	before := r.URL.Query().Get("before")

	page, err := h.history.Page(r.Context(), self, counterpart, before, limit)
	if err != nil {
		log.Printf("rest: %v", err)
		respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if page == nil {
		page = []message.Message{}
	}
	respondJSON(w, http.StatusOK, page)
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// sendMessage serves POST /api/messages/send/{counterpartID}. The server
// assigns the authoritative ID and timestamp, persists the message, pushes
// it to the receiver, and returns the created record to the sender.
func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	self := identity(r)
	if self == "" {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	counterpart := chi.URLParam(r, "counterpartID")

	if h.limiter != nil {
		allowed, _ := h.limiter.Allow(r.Context(), self, ratelimit.RuleSend)
		if !allowed {
			respondError(w, http.StatusTooManyRequests, "message rate limit exceeded")
			return
		}
		if remaining, err := h.limiter.Remaining(r.Context(), self, ratelimit.RuleSend); err == nil {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m := message.Message{
		ID:         uuid.New().String(),
		SenderID:   self,
		ReceiverID: counterpart,
		Text:       req.Text,
		Image:      req.Image,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.history.Save(r.Context(), m); err != nil {
		log.Printf("rest: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	h.hub.DeliverNewMessage(m)
	respondJSON(w, http.StatusCreated, m)
}

// markRead serves PUT /api/messages/read/{counterpartID}: everything the
// counterpart sent to the caller becomes read. Idempotent; a second call
// changes nothing and notifies no one.
func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	self := identity(r)
	if self == "" {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	counterpart := chi.URLParam(r, "counterpartID")

	at := time.Now().UTC()
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := h.history.MarkRead(ctx, self, counterpart, at)
	if err != nil {
		log.Printf("rest: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	if n > 0 {
		h.hub.NotifyRead(counterpart, self, at)
	}
	respondJSON(w, http.StatusOK, map[string]int64{"marked": n})
}
