// Package session implements the widget-side chat session: an optimistic
// local view of a support ticket reconciled against the authoritative
// state the backend pushes over a per-ticket channel.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freeda-io/freeda/pkg/protocol"
)

// Texts shown to the customer. French, matching the backend's labels.
const (
	analyzingText      = "Analyse en cours..."
	closedNoticeText   = "Ce ticket a été fermé. Merci d'avoir contacté le support Free."
	submitFailedText   = "Désolé, je ne parviens pas à contacter le serveur."
	defaultMatchWindow = 10 * time.Second
)

var (
	// ErrTicketClosed is returned by Submit once the ticket is closed.
	ErrTicketClosed = errors.New("session: ticket is closed")
	// ErrTicketPending is returned by Submit while the ticket-creating
	// submission is still in flight. A session owns at most one ticket,
	// so a second creation attempt must wait for the first to resolve.
	ErrTicketPending = errors.New("session: ticket creation in flight")
	// ErrNoTicket is returned by Close before any ticket exists.
	ErrNoTicket = errors.New("session: no ticket yet")
)

// ChatMessage is one rendered entry of the conversation. Provisional
// messages carry a locally generated ID until the canonical echo from
// the push channel replaces them.
type ChatMessage struct {
	ID          string
	Text        string
	IsUser      bool
	Timestamp   time.Time
	IsAnalyzing bool

	// Provisional marks a locally created entry not yet confirmed by
	// the backend. Only provisional entries are eligible for in-place
	// replacement by their canonical echo.
	Provisional bool
}

// Backend is the HTTP write path to the support API.
type Backend interface {
	// CreateTicket opens a ticket carrying the first message and
	// returns the server-assigned ticket ID.
	CreateTicket(ctx context.Context, initialMessage string) (string, error)
	// AddMessage appends a customer message to an existing ticket.
	AddMessage(ctx context.Context, ticketID, message string) error
	// CloseTicket requests closure of the ticket.
	CloseTicket(ctx context.Context, ticketID string) error
}

// Channel is an open push subscription for one ticket. Frames ends when
// the subscription terminates.
type Channel interface {
	Frames() <-chan protocol.Frame
	Close() error
}

// ChannelFactory opens a push subscription for the given ticket ID.
type ChannelFactory func(ctx context.Context, ticketID string) (Channel, error)

// Config wires a Session to its transports. Backend and OpenChannel are
// required; everything else has defaults.
type Config struct {
	Backend     Backend
	OpenChannel ChannelFactory

	// MatchWindow bounds how old a provisional user message may be and
	// still be matched by its canonical echo. A heuristic tunable, not
	// a correctness boundary. Defaults to 10 seconds.
	MatchWindow time.Duration

	// WelcomeText, when set, seeds the conversation with an assistant
	// greeting before any ticket exists.
	WelcomeText string

	// OnUpdate, when set, is called after every state change, outside
	// the session lock.
	OnUpdate func()

	Logger *slog.Logger
	Now    func() time.Time
}

// Session owns the local conversation state for at most one ticket.
// All mutations funnel through its handlers; each handler runs to
// completion under the session lock before the next event is applied.
type Session struct {
	cfg Config

	mu           sync.Mutex
	messages     []ChatMessage
	ticketID     string
	status       protocol.TicketStatus
	quickReplies bool
	closeNotice  bool
	creating     bool
	channel      Channel
}

// New creates a session with no ticket. Every submission before the
// first successful one is a ticket-creation attempt.
func New(cfg Config) *Session {
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = defaultMatchWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Session{
		cfg:          cfg,
		status:       protocol.StatusOpen,
		quickReplies: true,
	}
	if cfg.WelcomeText != "" {
		s.messages = append(s.messages, ChatMessage{
			ID:        newLocalID(),
			Text:      cfg.WelcomeText,
			Timestamp: cfg.Now(),
		})
	}
	return s
}

// Messages returns a copy of the conversation in render order.
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// TicketID returns the server-assigned ticket ID, or "" before the
// first successful submission.
func (s *Session) TicketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketID
}

// Status returns the current ticket status.
func (s *Session) Status() protocol.TicketStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// QuickRepliesVisible reports whether the one-shot quick-reply menu
// should still be offered. It disappears on the first submission.
func (s *Session) QuickRepliesVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quickReplies
}

// Resume attaches the session to an existing ticket, typically after a
// reload where only the ticket ID survived. The subscription's snapshot
// frame restores the history.
func (s *Session) Resume(ctx context.Context, ticketID string) error {
	s.mu.Lock()
	if s.ticketID != "" {
		s.mu.Unlock()
		return errors.New("session: already bound to a ticket")
	}
	s.ticketID = ticketID
	s.mu.Unlock()
	return s.subscribe(ctx, ticketID)
}

// Close requests closure of the ticket. The transition is applied
// locally only after the backend confirms; on failure local state is
// untouched and the error is surfaced to the caller.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	id := s.ticketID
	closed := s.status.Terminal()
	s.mu.Unlock()

	if id == "" {
		return ErrNoTicket
	}
	if closed {
		return nil
	}
	if err := s.cfg.Backend.CloseTicket(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.setStatus(protocol.StatusClosed)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Shutdown tears the session down, closing the push subscription so no
// further events reach it.
func (s *Session) Shutdown() {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// subscribe opens the push channel and starts draining it. Called once,
// when the ticket ID first becomes known. A session holds at most one
// subscription; a superseding attempt is refused and its channel closed
// rather than silently leaking the first.
func (s *Session) subscribe(ctx context.Context, ticketID string) error {
	ch, err := s.cfg.OpenChannel(ctx, ticketID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.channel != nil {
		s.mu.Unlock()
		ch.Close()
		return errors.New("session: subscription already open")
	}
	s.channel = ch
	s.mu.Unlock()

	go func() {
		for f := range ch.Frames() {
			s.handleFrame(f)
		}
	}()
	return nil
}

// handleFrame applies one push event. Runs to completion under the lock;
// the channel is the only producer so events never interleave.
func (s *Session) handleFrame(f protocol.Frame) {
	s.mu.Lock()
	switch f.Type {
	case protocol.FrameNewMessage:
		s.reconcile(*f.Message)
	case protocol.FrameTicketSnapshot:
		s.applySnapshot(f.Ticket)
	case protocol.FrameStatusUpdated:
		s.setStatus(f.Status)
	case protocol.FrameTicketCreated:
		// Informational; the creation response already carried the ID.
	}
	s.mu.Unlock()
	s.notify()
}

// applySnapshot replaces the local history with the authoritative one.
// An empty snapshot keeps local state (the welcome message) intact.
func (s *Session) applySnapshot(snap *protocol.Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}
	replaced := make([]ChatMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		replaced = append(replaced, fromWire(m))
	}
	s.messages = replaced
	if snap.Status.Terminal() {
		s.setStatus(snap.Status)
	}
}

// setStatus is the single entry point for status transitions. Closure
// is terminal: later transitions are ignored, and the closure notice is
// appended exactly once regardless of how many paths report it.
func (s *Session) setStatus(status protocol.TicketStatus) {
	if s.status.Terminal() {
		return
	}
	s.status = status
	if status.Terminal() {
		s.quickReplies = false
		if !s.closeNotice {
			s.closeNotice = true
			s.append(ChatMessage{
				ID:        newLocalID(),
				Text:      closedNoticeText,
				Timestamp: s.cfg.Now(),
			})
		}
	}
}

// append adds a message at the end unless one with the same ID already
// exists. Ordering follows delivery order; the push channel is causally
// ordered per ticket, so no out-of-order insertion is supported.
func (s *Session) append(m ChatMessage) {
	for _, existing := range s.messages {
		if existing.ID == m.ID {
			return
		}
	}
	s.messages = append(s.messages, m)
}

func (s *Session) notify() {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate()
	}
}

func fromWire(m protocol.Message) ChatMessage {
	return ChatMessage{
		ID:        m.ID,
		Text:      m.Content,
		IsUser:    m.IsUser(),
		Timestamp: m.Timestamp,
	}
}

// newLocalID generates a provisional message ID. Same ID space as the
// server's, so exact-ID dedup stays well defined.
func newLocalID() string { return uuid.NewString() }
