package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Push frame types delivered on the per-ticket WebSocket.
const (
	FrameNewMessage     = "new_message"
	FrameTicketSnapshot = "ticket_snapshot"
	FrameStatusUpdated  = "status_updated"
	FrameTicketCreated  = "ticket_created"
)

// Frame is one inbound push event, discriminated by Type. Exactly one of
// the payload fields is set, matching the type.
type Frame struct {
	Type    string       `json:"type"`
	Message *Message     `json:"message,omitempty"`
	Ticket  *Snapshot    `json:"ticket,omitempty"`
	Status  TicketStatus `json:"status,omitempty"`
}

// Snapshot carries the authoritative ticket state sent when a client
// subscribes, or when the backend pushes a full refresh.
type Snapshot struct {
	TicketID  string       `json:"ticket_id,omitempty"`
	Status    TicketStatus `json:"status,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
	Messages  []Message    `json:"messages"`
}

// DecodeFrame parses a push frame and validates it per type. Unknown
// types and frames missing their required payload are rejected so the
// channel can drop them without touching session state.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("frame: decode: %w", err)
	}

	switch f.Type {
	case FrameNewMessage:
		if f.Message == nil || f.Message.ID == "" {
			return Frame{}, fmt.Errorf("frame: new_message without message")
		}
	case FrameTicketSnapshot:
		if f.Ticket == nil {
			return Frame{}, fmt.Errorf("frame: ticket_snapshot without ticket")
		}
	case FrameStatusUpdated:
		if f.Status == "" {
			return Frame{}, fmt.Errorf("frame: status_updated without status")
		}
	case FrameTicketCreated:
		if f.Ticket == nil {
			return Frame{}, fmt.Errorf("frame: ticket_created without ticket")
		}
	case "":
		return Frame{}, fmt.Errorf("frame: missing type")
	default:
		return Frame{}, fmt.Errorf("frame: unknown type %q", f.Type)
	}
	return f, nil
}

// NewMessageFrame builds a new_message frame for broadcast.
func NewMessageFrame(m Message) Frame {
	msg := m
	return Frame{Type: FrameNewMessage, Message: &msg}
}

// SnapshotFrame builds a ticket_snapshot frame from a stored ticket.
func SnapshotFrame(t *Ticket) Frame {
	return Frame{Type: FrameTicketSnapshot, Ticket: &Snapshot{
		TicketID:  t.ID,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		Messages:  t.Messages,
	}}
}

// StatusFrame builds a status_updated frame.
func StatusFrame(s TicketStatus) Frame {
	return Frame{Type: FrameStatusUpdated, Status: s}
}
