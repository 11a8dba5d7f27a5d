package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing client messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","to":"bob"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}

	tm, ok := msg.(TypingMsg)
	if !ok {
		t.Fatalf("expected TypingMsg, got %T", msg)
	}
	if tm.To != "bob" {
		t.Errorf("expected to %q, got %q", "bob", tm.To)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"typing", `{"type":"typing","to":"bob"}`, TypeTyping},
		{"stop_typing", `{"type":"stop_typing","to":"bob"}`, TypeStopTyping},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

func TestParseClientMessage_RejectsServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"new_message","message":{}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for a server-only type on the client path")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
	if msgType != TypeNewMessage {
		t.Errorf("expected returned type %q, got %q", TypeNewMessage, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing server messages
// ---------------------------------------------------------------------------

func TestParseServerMessage_NewMessage(t *testing.T) {
	input := []byte(`{"type":"new_message","message":{"id":"m1","sender_id":"bob","receiver_id":"alice","text":"hi","created_at":"2025-06-01T12:00:00Z"}}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeNewMessage {
		t.Fatalf("expected type %q, got %q", TypeNewMessage, msgType)
	}

	nm, ok := msg.(NewMessageMsg)
	if !ok {
		t.Fatalf("expected NewMessageMsg, got %T", msg)
	}
	if nm.Message.ID != "m1" || nm.Message.SenderID != "bob" {
		t.Errorf("unexpected message payload: %+v", nm.Message)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !nm.Message.CreatedAt.Equal(want) {
		t.Errorf("expected created_at %v, got %v", want, nm.Message.CreatedAt)
	}
}

func TestParseServerMessage_OnlineUsers(t *testing.T) {
	input := []byte(`{"type":"online_users","online":["alice","bob"],"last_seen":{"carol":"2025-06-01T11:00:00Z"}}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeOnlineUsers {
		t.Fatalf("expected type %q, got %q", TypeOnlineUsers, msgType)
	}

	ou, ok := msg.(OnlineUsersMsg)
	if !ok {
		t.Fatalf("expected OnlineUsersMsg, got %T", msg)
	}
	if len(ou.Online) != 2 {
		t.Fatalf("expected 2 online, got %d", len(ou.Online))
	}
	if _, ok := ou.LastSeen["carol"]; !ok {
		t.Error("expected a last_seen entry for carol")
	}
}

func TestParseServerMessage_MessagesRead(t *testing.T) {
	input := []byte(`{"type":"messages_read","reader":"bob","read_at":"2025-06-01T12:00:00Z"}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessagesRead {
		t.Fatalf("expected type %q, got %q", TypeMessagesRead, msgType)
	}

	mr, ok := msg.(MessagesReadMsg)
	if !ok {
		t.Fatalf("expected MessagesReadMsg, got %T", msg)
	}
	if mr.Reader != "bob" {
		t.Errorf("expected reader %q, got %q", "bob", mr.Reader)
	}
}

func TestParseServerMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"new_message", `{"type":"new_message","message":{"id":"m1"}}`, TypeNewMessage},
		{"online_users", `{"type":"online_users","online":[]}`, TypeOnlineUsers},
		{"user_typing", `{"type":"user_typing","from":"bob"}`, TypeUserTyping},
		{"user_stopped_typing", `{"type":"user_stopped_typing","from":"bob"}`, TypeUserStopped},
		{"messages_read", `{"type":"messages_read","reader":"bob","read_at":"2025-06-01T12:00:00Z"}`, TypeMessagesRead},
		{"error", `{"type":"error","code":"bad_request","message":"nope"}`, TypeError},
		{"pong", `{"type":"pong"}`, TypePong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseServerMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}

func TestParseServerMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"mystery","data":1}`)

	msgType, msg, err := ParseServerMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "mystery" {
		t.Errorf("expected returned type %q, got %q", "mystery", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Building wire messages
// ---------------------------------------------------------------------------

func TestNewMessage_InjectsType(t *testing.T) {
	data, err := NewMessage(TypeTyping, TypingMsg{To: "bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeTyping {
		t.Errorf("expected type %q, got %v", TypeTyping, result["type"])
	}
	if result["to"] != "bob" {
		t.Errorf("expected to %q, got %v", "bob", result["to"])
	}
}

func TestNewMessage_RoundTripsThroughParser(t *testing.T) {
	data, err := NewMessage(TypeUserTyping, UserTypingMsg{From: "bob"})
	if err != nil {
		t.Fatalf("failed to create message: %v", err)
	}

	msgType, msg, err := ParseServerMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeUserTyping {
		t.Fatalf("expected type %q, got %q", TypeUserTyping, msgType)
	}
	ut, ok := msg.(UserTypingMsg)
	if !ok {
		t.Fatalf("expected UserTypingMsg, got %T", msg)
	}
	if ut.From != "bob" {
		t.Errorf("expected from %q, got %q", "bob", ut.From)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestEnvelope_PreservesRawPayload(t *testing.T) {
	input := []byte(`{"type":"typing","to":"bob"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeTyping {
		t.Errorf("expected type %q, got %q", TypeTyping, env.Type)
	}

	var tm TypingMsg
	if err := json.Unmarshal(env.Raw, &tm); err != nil {
		t.Fatalf("raw payload should decode: %v", err)
	}
	if tm.To != "bob" {
		t.Errorf("expected to %q, got %q", "bob", tm.To)
	}
}
