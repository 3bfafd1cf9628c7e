package session

import (
	"context"
	"strings"
)

// Submit sends a customer message. The message and an analyzing
// placeholder are rendered immediately; the placeholder is removed once
// the backend acknowledges, or rewritten into an error artifact if the
// request fails. The first successful submission creates the ticket and
// opens the push subscription; while that creation is in flight, further
// submissions are refused with ErrTicketPending so a session can never
// end up owning two tickets.
//
// The canonical echo of the message arrives over the push channel and
// supersedes the provisional entry in place.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return ErrTicketClosed
	}
	creating := s.ticketID == ""
	if creating {
		if s.creating {
			s.mu.Unlock()
			return ErrTicketPending
		}
		s.creating = true
	}
	s.append(ChatMessage{
		ID:          newLocalID(),
		Text:        text,
		IsUser:      true,
		Timestamp:   s.cfg.Now(),
		Provisional: true,
	})
	placeholderID := newLocalID()
	s.append(ChatMessage{
		ID:          placeholderID,
		Text:        analyzingText,
		Timestamp:   s.cfg.Now(),
		IsAnalyzing: true,
		Provisional: true,
	})
	s.quickReplies = false
	ticketID := s.ticketID
	s.mu.Unlock()
	s.notify()

	// The request suspends only this submission; push events keep
	// flowing into the session while it is in flight.
	var err error
	var createdID string
	if creating {
		createdID, err = s.cfg.Backend.CreateTicket(ctx, text)
	} else {
		err = s.cfg.Backend.AddMessage(ctx, ticketID, text)
	}

	if err != nil {
		s.mu.Lock()
		if creating {
			s.creating = false
		}
		s.rewrite(placeholderID, submitFailedText+" "+err.Error())
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	s.remove(placeholderID)
	if createdID != "" {
		s.ticketID = createdID
	}
	if creating {
		s.creating = false
	}
	s.mu.Unlock()
	s.notify()

	if createdID != "" {
		if err := s.subscribe(ctx, createdID); err != nil {
			s.cfg.Logger.Error("push subscription failed", "ticket", createdID, "error", err)
		}
	}
	return nil
}

// rewrite turns the pending placeholder into a permanent error message,
// keeping its position. The only path where a provisional message
// survives instead of being reconciled away.
func (s *Session) rewrite(id, text string) {
	for i, m := range s.messages {
		if m.ID == id {
			s.messages[i].Text = text
			s.messages[i].IsAnalyzing = false
			s.messages[i].Provisional = false
			return
		}
	}
}

func (s *Session) remove(id string) {
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}
