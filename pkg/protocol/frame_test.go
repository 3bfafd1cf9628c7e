package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeFrame_NewMessage(t *testing.T) {
	data := []byte(`{"type":"new_message","message":{"id":"m1","role":"user","content":"Bonjour","timestamp":"2025-03-01T10:00:00Z"}}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != FrameNewMessage {
		t.Errorf("type = %q", f.Type)
	}
	if f.Message.ID != "m1" || f.Message.Content != "Bonjour" {
		t.Errorf("message = %+v", f.Message)
	}
	if !f.Message.IsUser() {
		t.Error("expected user message")
	}
}

func TestDecodeFrame_Snapshot(t *testing.T) {
	data := []byte(`{"type":"ticket_snapshot","ticket":{"ticket_id":"FRE-AB12CD34","messages":[{"id":"m1","role":"user","content":"hi","timestamp":"2025-03-01T10:00:00Z"}]}}`)
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(f.Ticket.Messages) != 1 {
		t.Errorf("got %d messages", len(f.Ticket.Messages))
	}
}

func TestDecodeFrame_StatusUpdated(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"status_updated","status":"fermé"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Status != StatusClosed {
		t.Errorf("status = %q", f.Status)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown type", `{"type":"presence"}`},
		{"missing type", `{"status":"fermé"}`},
		{"new_message without payload", `{"type":"new_message"}`},
		{"new_message without id", `{"type":"new_message","message":{"role":"user","content":"x"}}`},
		{"snapshot without ticket", `{"type":"ticket_snapshot"}`},
		{"status without value", `{"type":"status_updated"}`},
		{"not json", `garbage`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame([]byte(tt.data)); err == nil {
				t.Errorf("expected error for %s", tt.data)
			}
		})
	}
}

func TestFrameBuilders(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := &Ticket{
		ID:        "FRE-00000001",
		Status:    StatusOpen,
		CreatedAt: now,
		Messages:  []Message{{ID: "m1", Role: RoleUser, Content: "hi", Timestamp: now}},
	}

	raw, err := json.Marshal(SnapshotFrame(ticket))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if f.Ticket.TicketID != ticket.ID || len(f.Ticket.Messages) != 1 {
		t.Errorf("snapshot = %+v", f.Ticket)
	}

	raw, _ = json.Marshal(StatusFrame(StatusClosed))
	f, err = DecodeFrame(raw)
	if err != nil {
		t.Fatalf("status round trip: %v", err)
	}
	if f.Status != StatusClosed {
		t.Errorf("status = %q", f.Status)
	}
}
