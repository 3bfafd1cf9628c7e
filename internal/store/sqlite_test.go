package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/freeda-io/freeda/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTicket(id string) *protocol.Ticket {
	now := time.Now().UTC().Truncate(time.Second)
	return &protocol.Ticket{
		ID:           id,
		CustomerName: "Client Free",
		Channel:      "chat",
		Status:       protocol.StatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	ticket := newTicket("FRE-AAAA0001")
	if err := s.Save(ticket); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get("FRE-AAAA0001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CustomerName != "Client Free" {
		t.Errorf("expected customer 'Client Free', got %q", got.CustomerName)
	}
	if got.Status != protocol.StatusNew {
		t.Errorf("expected status nouveau, got %q", got.Status)
	}
	if got.Channel != "chat" {
		t.Errorf("expected channel chat, got %q", got.Channel)
	}
}

func TestSave_Upsert(t *testing.T) {
	s := newTestStore(t)

	ticket := newTicket("FRE-AAAA0002")
	s.Save(ticket)

	ticket.Status = protocol.StatusOpen
	ticket.AssignedTo = "marie"
	s.Save(ticket)

	got, _ := s.Get("FRE-AAAA0002")
	if got.Status != protocol.StatusOpen {
		t.Errorf("expected en cours, got %q", got.Status)
	}
	if got.AssignedTo != "marie" {
		t.Errorf("expected assignee marie, got %q", got.AssignedTo)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("FRE-MISSING1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage(t *testing.T) {
	s := newTestStore(t)
	s.Save(newTicket("FRE-AAAA0003"))

	msg := protocol.Message{
		ID:        "m-001",
		Role:      protocol.RoleUser,
		Content:   "Ma box ne fonctionne plus",
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.AppendMessage("FRE-AAAA0003", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, _ := s.Get("FRE-AAAA0003")
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
	if got.Messages[0].Content != "Ma box ne fonctionne plus" {
		t.Errorf("unexpected content %q", got.Messages[0].Content)
	}
	if got.Messages[0].Role != protocol.RoleUser {
		t.Errorf("expected role user, got %q", got.Messages[0].Role)
	}
}

func TestAppendMessage_TouchesUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	ticket := newTicket("FRE-AAAA0004")
	past := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	ticket.CreatedAt = past
	ticket.UpdatedAt = past
	s.Save(ticket)

	msg := protocol.Message{ID: "m-002", Role: protocol.RoleUser, Content: "bonjour", Timestamp: time.Now().UTC().Truncate(time.Second)}
	if err := s.AppendMessage("FRE-AAAA0004", msg); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, _ := s.Get("FRE-AAAA0004")
	if !got.UpdatedAt.After(past) {
		t.Errorf("expected updated_at after %v, got %v", past, got.UpdatedAt)
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	s.Save(newTicket("FRE-AAAA0005"))

	if err := s.UpdateStatus("FRE-AAAA0005", protocol.StatusOpen); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, _ := s.Get("FRE-AAAA0005")
	if got.Status != protocol.StatusOpen {
		t.Errorf("expected en cours, got %q", got.Status)
	}
	if got.ClosedAt != nil {
		t.Error("closed_at must stay unset for non-terminal status")
	}
}

func TestUpdateStatus_ClosedSetsClosedAt(t *testing.T) {
	s := newTestStore(t)
	s.Save(newTicket("FRE-AAAA0006"))

	if err := s.UpdateStatus("FRE-AAAA0006", protocol.StatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, _ := s.Get("FRE-AAAA0006")
	if got.Status != protocol.StatusClosed {
		t.Errorf("expected fermé, got %q", got.Status)
	}
	if got.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateStatus("FRE-MISSING1", protocol.StatusClosed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAnalytics(t *testing.T) {
	s := newTestStore(t)
	s.Save(newTicket("FRE-AAAA0007"))

	a := &protocol.Analytics{
		Sentiment: "négatif",
		Category:  "facturation",
		Urgency:   "haute",
		ChurnRisk: 85,
		Summary:   "Client mécontent de sa facture",
		Alert:     "URGENT_RETENTION",
	}
	if err := s.SaveAnalytics("FRE-AAAA0007", a); err != nil {
		t.Fatalf("save analytics: %v", err)
	}

	got, _ := s.Get("FRE-AAAA0007")
	if got.Analytics == nil {
		t.Fatal("expected analytics to be stored")
	}
	if got.Analytics.ChurnRisk != 85 || got.Analytics.Alert == "" {
		t.Errorf("unexpected analytics: %+v", got.Analytics)
	}
}

func TestList_All(t *testing.T) {
	s := newTestStore(t)

	for i := range 3 {
		tk := newTicket(fmt.Sprintf("FRE-0000000%d", i))
		tk.CreatedAt = time.Now().UTC().Add(time.Duration(-i) * time.Minute).Truncate(time.Second)
		s.Save(tk)
	}

	tickets, err := s.List(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 3 {
		t.Errorf("expected 3 tickets, got %d", len(tickets))
	}
	if tickets[0].ID != "FRE-00000000" {
		t.Errorf("expected newest first, got %q", tickets[0].ID)
	}
}

func TestList_FilterByStatus(t *testing.T) {
	s := newTestStore(t)

	s.Save(newTicket("FRE-OPEN0001"))
	closed := newTicket("FRE-CLOS0001")
	closed.Status = protocol.StatusClosed
	s.Save(closed)

	open := protocol.StatusNew
	tickets, _ := s.List(Filter{Status: &open})
	if len(tickets) != 1 || tickets[0].ID != "FRE-OPEN0001" {
		t.Errorf("expected only the open ticket, got %d", len(tickets))
	}
}

func TestList_Limit(t *testing.T) {
	s := newTestStore(t)

	for i := range 5 {
		s.Save(newTicket(fmt.Sprintf("FRE-LIM0000%d", i)))
	}

	tickets, _ := s.List(Filter{Limit: 2})
	if len(tickets) != 2 {
		t.Errorf("expected 2 tickets, got %d", len(tickets))
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)

	s.Save(newTicket("FRE-CNT00001"))
	s.Save(newTicket("FRE-CNT00002"))

	n, err := s.Count(Filter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
}

func TestListIdleOpen(t *testing.T) {
	s := newTestStore(t)

	stale := newTicket("FRE-IDLE0001")
	old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	stale.CreatedAt = old
	stale.UpdatedAt = old
	s.Save(stale)

	fresh := newTicket("FRE-FRSH0001")
	s.Save(fresh)

	closed := newTicket("FRE-IDLE0002")
	closed.Status = protocol.StatusClosed
	closed.CreatedAt = old
	closed.UpdatedAt = old
	s.Save(closed)

	idle, err := s.ListIdleOpen(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("list idle: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != "FRE-IDLE0001" {
		t.Fatalf("expected only the stale open ticket, got %+v", idle)
	}
}
