package message

import (
	"strings"
	"testing"
	"time"
)

func TestCounterpart(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob"}

	if got := m.Counterpart("alice"); got != "bob" {
		t.Errorf("expected counterpart bob, got %q", got)
	}
	if got := m.Counterpart("bob"); got != "alice" {
		t.Errorf("expected counterpart alice, got %q", got)
	}
}

func TestValidate_EmptyBody(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob"}
	if err := m.Validate(); err != ErrEmptyBody {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
}

func TestValidate_ImageOnlyIsValid(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob", Image: "https://cdn.example/x.png"}
	if err := m.Validate(); err != nil {
		t.Fatalf("image-only message should be valid, got %v", err)
	}
}

func TestValidate_MissingIdentities(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"no sender", Message{ReceiverID: "bob", Text: "hi"}},
		{"no receiver", Message{SenderID: "alice", Text: "hi"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.msg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestValidate_TextLimits(t *testing.T) {
	base := Message{SenderID: "alice", ReceiverID: "bob"}

	base.Text = strings.Repeat("a", MaxTextBytes)
	if err := base.Validate(); err != nil {
		t.Errorf("text at the byte limit should be valid, got %v", err)
	}

	base.Text = strings.Repeat("a", MaxTextBytes+1)
	if err := base.Validate(); err == nil {
		t.Error("text over the byte limit should be rejected")
	}

	// Multibyte runes: 2001 two-byte characters fit under the byte limit
	// but exceed the character limit.
	base.Text = strings.Repeat("é", MaxTextChars+1)
	if err := base.Validate(); err == nil {
		t.Error("text over the character limit should be rejected")
	}
}

func TestValidate_InvalidUTF8(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob", Text: string([]byte{0xff, 0xfe})}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for invalid UTF-8 text")
	}
}

func TestValidateStored(t *testing.T) {
	valid := Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "hi",
		CreatedAt:  time.Now(),
	}
	if err := valid.ValidateStored(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	noID := valid
	noID.ID = ""
	if err := noID.ValidateStored(); err == nil {
		t.Error("expected error for missing id")
	}

	noTime := valid
	noTime.CreatedAt = time.Time{}
	if err := noTime.ValidateStored(); err == nil {
		t.Error("expected error for zero created_at")
	}
}
