// Package message defines the chat message record shared by the client
// engine and the server, along with validation and the merge/dedup/sort
// primitives the message store is built on.
package message

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	MaxTextBytes = 4096 // 4KB max text payload
	MaxTextChars = 2000 // max character count
)

// ErrEmptyBody is returned when a message carries neither text nor an image.
var ErrEmptyBody = errors.New("message: text and image are both empty")

// Message is a single direct message between two identities. ID is globally
// unique and is the sole deduplication key. CreatedAt is assigned by the
// server; the engine never fabricates timestamps for stored messages.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"` // image URL
	CreatedAt  time.Time `json:"created_at"`
	IsRead     bool      `json:"is_read,omitempty"`
	ReadAt     time.Time `json:"read_at,omitzero"`
}

// Counterpart returns the other identity of a message relative to self.
func (m *Message) Counterpart(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Validate checks that a message meets content requirements: a non-empty
// body (text or image), resolved sender and receiver, and text within the
// size limits.
func (m *Message) Validate() error {
	if m.Text == "" && m.Image == "" {
		return ErrEmptyBody
	}
	if m.SenderID == "" {
		return fmt.Errorf("message: missing sender id")
	}
	if m.ReceiverID == "" {
		return fmt.Errorf("message: missing receiver id")
	}
	if len(m.Text) > MaxTextBytes {
		return fmt.Errorf("message: text exceeds %d byte limit", MaxTextBytes)
	}
	if utf8.RuneCountInString(m.Text) > MaxTextChars {
		return fmt.Errorf("message: text exceeds %d character limit", MaxTextChars)
	}
	if m.Text != "" && !utf8.ValidString(m.Text) {
		return fmt.Errorf("message: text contains invalid UTF-8")
	}
	return nil
}

// ValidateStored checks a message that is about to enter the store, which
// additionally requires the server-assigned identity fields.
func (m *Message) ValidateStored() error {
	if m.ID == "" {
		return fmt.Errorf("message: missing id")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("message: missing created_at")
	}
	return m.Validate()
}
