package session

import "github.com/freeda-io/freeda/pkg/protocol"

// reconcile merges a canonical push-delivered message into the local
// sequence without duplicating it or moving existing entries.
//
// A message already present by ID is dropped: the channel may redeliver.
// A user message is first matched against its optimistic counterpart,
// the most recent provisional user entry with identical text inside the
// match window, and replaces it in place, upgrading the provisional ID
// and timestamp without a visible jump. Everything else is appended:
// assistant messages, and user messages whose provisional twin already
// matched or never existed (state restored after a reload).
//
// The backward scan bounded by the window keeps an echo from being
// attributed to a stale earlier message that happens to share its text;
// when two candidates sit inside the window, the most recent pending
// submission wins.
func (s *Session) reconcile(m protocol.Message) {
	for _, existing := range s.messages {
		if existing.ID == m.ID {
			return
		}
	}

	incoming := fromWire(m)
	if incoming.IsUser {
		now := s.cfg.Now()
		for i := len(s.messages) - 1; i >= 0; i-- {
			candidate := s.messages[i]
			if candidate.Provisional && candidate.IsUser && candidate.Text == incoming.Text &&
				now.Sub(candidate.Timestamp) < s.cfg.MatchWindow {
				s.messages[i] = incoming
				return
			}
		}
	}

	s.append(incoming)
}
