package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freeda-io/freeda/pkg/protocol"
)

const welcome = "Bonjour ! Je suis l'assistant virtuel de Free."

// fakeBackend records calls and returns scripted results.
type fakeBackend struct {
	mu        sync.Mutex
	created   []string
	appended  []string
	closed    []string
	ticketID  string
	createErr error
	addErr    error
	closeErr  error
}

func (b *fakeBackend) CreateTicket(_ context.Context, msg string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return "", b.createErr
	}
	b.created = append(b.created, msg)
	if b.ticketID == "" {
		b.ticketID = "FRE-TEST0001"
	}
	return b.ticketID, nil
}

func (b *fakeBackend) AddMessage(_ context.Context, ticketID, msg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addErr != nil {
		return b.addErr
	}
	b.appended = append(b.appended, ticketID+":"+msg)
	return nil
}

func (b *fakeBackend) CloseTicket(_ context.Context, ticketID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return b.closeErr
	}
	b.closed = append(b.closed, ticketID)
	return nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created) + len(b.appended) + len(b.closed)
}

// fakeChannel is an in-memory push subscription.
type fakeChannel struct {
	frames chan protocol.Frame
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{frames: make(chan protocol.Frame, 16)}
}

func (c *fakeChannel) Frames() <-chan protocol.Frame { return c.frames }
func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.frames) })
	return nil
}

type fixture struct {
	session *Session
	backend *fakeBackend
	channel *fakeChannel
	now     time.Time
	opened  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{},
		channel: newFakeChannel(),
		now:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.session = New(Config{
		Backend: f.backend,
		OpenChannel: func(_ context.Context, ticketID string) (Channel, error) {
			f.opened = append(f.opened, ticketID)
			return f.channel, nil
		},
		WelcomeText: welcome,
		Now:         func() time.Time { return f.now },
	})
	t.Cleanup(f.session.Shutdown)
	return f
}

func pushMsg(id, content, role string, ts time.Time) protocol.Frame {
	return protocol.NewMessageFrame(protocol.Message{
		ID: id, Content: content, Role: role, Timestamp: ts,
	})
}

func TestNew_SeedsWelcome(t *testing.T) {
	f := newFixture(t)
	msgs := f.session.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Text != welcome || msgs[0].IsUser {
		t.Errorf("welcome = %+v", msgs[0])
	}
	if !f.session.QuickRepliesVisible() {
		t.Error("quick replies should start visible")
	}
}

func TestSubmit_CreatesTicketAndOpensChannel(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Submit(context.Background(), "  Bonjour  "); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if f.session.TicketID() != "FRE-TEST0001" {
		t.Errorf("ticket id = %q", f.session.TicketID())
	}
	if len(f.opened) != 1 || f.opened[0] != "FRE-TEST0001" {
		t.Errorf("opened channels = %v", f.opened)
	}
	if len(f.backend.created) != 1 || f.backend.created[0] != "Bonjour" {
		t.Errorf("created = %v (text should be trimmed)", f.backend.created)
	}

	// Welcome + provisional user message; placeholder removed on success.
	msgs := f.session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages: %+v", len(msgs), msgs)
	}
	if !msgs[1].IsUser || msgs[1].Text != "Bonjour" || msgs[1].IsAnalyzing {
		t.Errorf("provisional = %+v", msgs[1])
	}
	if f.session.QuickRepliesVisible() {
		t.Error("quick replies should hide after submit")
	}
}

func TestSubmit_SecondMessageAppendsToTicket(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")

	if err := f.session.Submit(context.Background(), "Ma box ne marche plus"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.backend.created) != 1 {
		t.Errorf("created = %v, second submit must not create", f.backend.created)
	}
	if len(f.backend.appended) != 1 || f.backend.appended[0] != "FRE-TEST0001:Ma box ne marche plus" {
		t.Errorf("appended = %v", f.backend.appended)
	}
	if len(f.opened) != 1 {
		t.Errorf("channel opened %d times", len(f.opened))
	}
}

// blockingBackend holds CreateTicket until released so tests can
// observe the session while creation is in flight.
type blockingBackend struct {
	fakeBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) CreateTicket(ctx context.Context, msg string) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeBackend.CreateTicket(ctx, msg)
}

func TestSubmit_SecondCreationRefusedWhileInFlight(t *testing.T) {
	backend := &blockingBackend{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	var mu sync.Mutex
	var opened []string
	sess := New(Config{
		Backend: backend,
		OpenChannel: func(_ context.Context, ticketID string) (Channel, error) {
			mu.Lock()
			opened = append(opened, ticketID)
			mu.Unlock()
			return newFakeChannel(), nil
		},
	})
	t.Cleanup(sess.Shutdown)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- sess.Submit(ctx, "ma box ne démarre plus") }()
	<-backend.entered

	// The first creation has not resolved; a second submission must not
	// open a second ticket for the same session.
	if err := sess.Submit(ctx, "toujours rien"); !errors.Is(err, ErrTicketPending) {
		t.Fatalf("second submit err = %v, want ErrTicketPending", err)
	}

	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}

	backend.mu.Lock()
	created := len(backend.created)
	backend.mu.Unlock()
	if created != 1 {
		t.Fatalf("tickets created = %d, want 1", created)
	}
	mu.Lock()
	channels := append([]string(nil), opened...)
	mu.Unlock()
	if len(channels) != 1 || channels[0] != "FRE-TEST0001" {
		t.Fatalf("channels opened = %v", channels)
	}
	if sess.TicketID() != "FRE-TEST0001" {
		t.Errorf("ticket = %q", sess.TicketID())
	}

	// Once the ticket exists, submissions append normally again.
	if err := sess.Submit(ctx, "merci de vérifier"); err != nil {
		t.Fatalf("follow-up submit: %v", err)
	}
	backend.mu.Lock()
	appended := len(backend.appended)
	backend.mu.Unlock()
	if appended != 1 {
		t.Errorf("appended = %d, want 1", appended)
	}
}

func TestSubmit_FailedCreationClearsPendingGate(t *testing.T) {
	f := newFixture(t)
	f.backend.createErr = errors.New("boom")
	ctx := context.Background()

	if err := f.session.Submit(ctx, "première tentative"); err == nil {
		t.Fatal("expected creation error")
	}

	f.backend.createErr = nil
	if err := f.session.Submit(ctx, "deuxième tentative"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if f.session.TicketID() != "FRE-TEST0001" {
		t.Errorf("ticket = %q", f.session.TicketID())
	}
}

func TestSubscribe_RefusesSecondChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.session.Submit(ctx, "premier contact"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.session.subscribe(ctx, f.session.TicketID()); err == nil {
		t.Fatal("expected the superseding subscription to be refused")
	}
	if len(f.opened) != 2 {
		t.Fatalf("factory calls = %d", len(f.opened))
	}
}

func TestSubmit_EmptyInputIsIgnored(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Submit(context.Background(), "   "); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.backend.callCount() != 0 {
		t.Error("no network call expected")
	}
	if len(f.session.Messages()) != 1 {
		t.Error("no message should be appended")
	}
}

func TestSubmit_FailureRewritesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.backend.createErr = errors.New("Erreur serveur")

	err := f.session.Submit(context.Background(), "Bonjour")
	if err == nil {
		t.Fatal("expected error")
	}

	msgs := f.session.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	last := msgs[2]
	if last.IsAnalyzing {
		t.Error("placeholder still analyzing")
	}
	if last.IsUser {
		t.Error("error artifact must not be user-authored")
	}
	if want := submitFailedText + " Erreur serveur"; last.Text != want {
		t.Errorf("text = %q, want %q", last.Text, want)
	}

	// The session stays usable for another attempt.
	f.backend.createErr = nil
	if err := f.session.Submit(context.Background(), "Bonjour"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.session.TicketID() == "" {
		t.Error("retry should create the ticket")
	}
}

func TestSubmit_NoOpOnceClosed(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")
	before := f.backend.callCount()

	f.session.handleFrame(protocol.StatusFrame(protocol.StatusClosed))

	n := len(f.session.Messages())
	if err := f.session.Submit(context.Background(), "Encore là ?"); !errors.Is(err, ErrTicketClosed) {
		t.Fatalf("err = %v, want ErrTicketClosed", err)
	}
	if len(f.session.Messages()) != n {
		t.Error("no message may be appended after closure")
	}
	if f.backend.callCount() != before {
		t.Error("no network call may be issued after closure")
	}
}

func TestClose_AppliesOnlyAfterServerConfirms(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")

	f.backend.closeErr = errors.New("Erreur serveur")
	if err := f.session.Close(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if f.session.Status() != protocol.StatusOpen {
		t.Error("status must not change on failed closure")
	}

	f.backend.closeErr = nil
	if err := f.session.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.session.Status() != protocol.StatusClosed {
		t.Errorf("status = %q", f.session.Status())
	}
	last := f.session.Messages()[len(f.session.Messages())-1]
	if last.Text != closedNoticeText {
		t.Errorf("closure notice missing, last = %q", last.Text)
	}
}

func TestClose_WithoutTicket(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Close(context.Background()); !errors.Is(err, ErrNoTicket) {
		t.Errorf("err = %v, want ErrNoTicket", err)
	}
}

func TestClosureNotice_AppendedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")

	// Local close confirmed, then the push event reporting the same
	// closure arrives.
	if err := f.session.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.session.handleFrame(protocol.StatusFrame(protocol.StatusClosed))
	f.session.handleFrame(protocol.StatusFrame(protocol.StatusClosed))

	notices := 0
	for _, m := range f.session.Messages() {
		if m.Text == closedNoticeText {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("closure notices = %d, want 1", notices)
	}
}

func TestSnapshot_ReplacesLocalHistory(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")

	snap := protocol.SnapshotFrame(&protocol.Ticket{
		ID:     "FRE-TEST0001",
		Status: protocol.StatusOpen,
		Messages: []protocol.Message{
			{ID: "m1", Role: protocol.RoleUser, Content: "Bonjour", Timestamp: f.now},
			{ID: "m2", Role: protocol.RoleAssistant, Content: "Bonjour ! Comment puis-je vous aider ?", Timestamp: f.now},
			{ID: "m3", Role: protocol.RoleUser, Content: "Ma box clignote", Timestamp: f.now},
		},
	})
	f.session.handleFrame(snap)

	msgs := f.session.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("history = %+v", msgs)
	}
	for _, m := range msgs {
		if m.Text == welcome {
			t.Error("greeting must be discarded by a non-empty snapshot")
		}
	}
}

func TestSnapshot_EmptyKeepsLocalState(t *testing.T) {
	f := newFixture(t)
	f.session.handleFrame(protocol.Frame{
		Type:   protocol.FrameTicketSnapshot,
		Ticket: &protocol.Snapshot{},
	})
	msgs := f.session.Messages()
	if len(msgs) != 1 || msgs[0].Text != welcome {
		t.Errorf("welcome should be retained, got %+v", msgs)
	}
}

func TestSnapshot_ClosedStatusApplies(t *testing.T) {
	f := newFixture(t)
	f.session.handleFrame(protocol.Frame{
		Type: protocol.FrameTicketSnapshot,
		Ticket: &protocol.Snapshot{
			Status:   protocol.StatusClosed,
			Messages: []protocol.Message{{ID: "m1", Role: protocol.RoleUser, Content: "hi", Timestamp: f.now}},
		},
	})
	if f.session.Status() != protocol.StatusClosed {
		t.Errorf("status = %q", f.session.Status())
	}
}

func TestResume_OpensChannelForPersistedTicket(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Resume(context.Background(), "FRE-OLD00001"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if f.session.TicketID() != "FRE-OLD00001" {
		t.Errorf("ticket id = %q", f.session.TicketID())
	}
	if len(f.opened) != 1 || f.opened[0] != "FRE-OLD00001" {
		t.Errorf("opened = %v", f.opened)
	}
	if err := f.session.Resume(context.Background(), "FRE-OTHER"); err == nil {
		t.Error("second resume must fail")
	}
}

func TestChannelFrames_AreDrained(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")

	f.channel.frames <- pushMsg("a1", "Je regarde ça tout de suite.", protocol.RoleAssistant, f.now)

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := f.session.Messages()
		if len(msgs) > 0 && msgs[len(msgs)-1].ID == "a1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("frame never applied; messages = %+v", msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// The full first-contact scenario: optimistic render, ticket creation,
// canonical echo replacing the provisional message in place.
func TestEndToEnd_FirstContact(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Submit(context.Background(), "Bonjour"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if f.session.TicketID() != "FRE-TEST0001" {
		t.Fatalf("ticket id = %q", f.session.TicketID())
	}

	msgs := f.session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("after submit: %d messages", len(msgs))
	}
	provisionalID := msgs[1].ID

	f.session.handleFrame(pushMsg("m1", "Bonjour", protocol.RoleUser, f.now))

	msgs = f.session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("after echo: %d messages, want 2 (greeting + Bonjour)", len(msgs))
	}
	if msgs[1].ID != "m1" {
		t.Errorf("echo did not replace provisional entry: %+v", msgs[1])
	}
	if msgs[1].ID == provisionalID {
		t.Error("provisional ID should be superseded")
	}
	for _, m := range msgs {
		if m.IsAnalyzing {
			t.Error("no placeholder may remain")
		}
	}
}

func TestShutdown_ClosesChannel(t *testing.T) {
	f := newFixture(t)
	f.session.Submit(context.Background(), "Bonjour")
	f.session.Shutdown()

	select {
	case _, ok := <-f.channel.frames:
		if ok {
			t.Error("unexpected frame")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed on shutdown")
	}
}

func TestOnUpdate_FiresOnMutation(t *testing.T) {
	var mu sync.Mutex
	updates := 0

	backend := &fakeBackend{}
	s := New(Config{
		Backend: backend,
		OpenChannel: func(context.Context, string) (Channel, error) {
			return newFakeChannel(), nil
		},
		OnUpdate: func() {
			mu.Lock()
			updates++
			mu.Unlock()
		},
	})
	defer s.Shutdown()

	s.Submit(context.Background(), "Bonjour")
	mu.Lock()
	defer mu.Unlock()
	if updates == 0 {
		t.Error("OnUpdate never called")
	}
}
