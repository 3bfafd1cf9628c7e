package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freeda-io/freeda/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ticket store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ticket store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id            TEXT PRIMARY KEY,
			customer_name TEXT NOT NULL DEFAULT '',
			channel       TEXT NOT NULL DEFAULT 'chat',
			status        TEXT NOT NULL DEFAULT 'nouveau',
			assigned_to   TEXT NOT NULL DEFAULT '',
			resolution    TEXT NOT NULL DEFAULT '',
			analytics     TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			closed_at     TEXT
		);

		CREATE TABLE IF NOT EXISTS ticket_messages (
			id        TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL REFERENCES tickets(id),
			role      TEXT NOT NULL,
			author    TEXT NOT NULL DEFAULT '',
			content   TEXT NOT NULL,
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_ticket ON ticket_messages(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_updated ON tickets(updated_at);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(t *protocol.Ticket) error {
	var analytics *string
	if t.Analytics != nil {
		raw, err := json.Marshal(t.Analytics)
		if err != nil {
			return fmt.Errorf("ticket store: marshal analytics: %w", err)
		}
		v := string(raw)
		analytics = &v
	}
	var closedAt *string
	if t.ClosedAt != nil {
		v := t.ClosedAt.Format(time.RFC3339)
		closedAt = &v
	}

	_, err := s.db.Exec(`
		INSERT INTO tickets (id, customer_name, channel, status, assigned_to, resolution, analytics, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_name=excluded.customer_name, channel=excluded.channel, status=excluded.status,
			assigned_to=excluded.assigned_to, resolution=excluded.resolution, analytics=excluded.analytics,
			updated_at=excluded.updated_at, closed_at=excluded.closed_at
	`, t.ID, t.CustomerName, t.Channel, string(t.Status), t.AssignedTo, t.Resolution, analytics,
		t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339), closedAt)
	if err != nil {
		return fmt.Errorf("ticket store: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(id string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(`SELECT id, customer_name, channel, status, assigned_to, resolution, analytics, created_at, updated_at, closed_at FROM tickets WHERE id = ?`, id)

	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}

	msgs, err := s.loadMessages(id)
	if err != nil {
		return nil, err
	}
	t.Messages = msgs
	return t, nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Ticket, error) {
	query := "SELECT id, customer_name, channel, status, assigned_to, resolution, analytics, created_at, updated_at, closed_at FROM tickets WHERE 1=1"
	query, args := applyFilter(query, filter)
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicketRows(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Count(filter Filter) (int, error) {
	query := "SELECT COUNT(*) FROM tickets WHERE 1=1"
	query, args := applyFilter(query, filter)

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ticket store: count: %w", err)
	}
	return count, nil
}

func applyFilter(query string, filter Filter) (string, []any) {
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Channel != "" {
		query += " AND channel = ?"
		args = append(args, filter.Channel)
	}
	if filter.Query != "" {
		query += " AND (customer_name LIKE ? OR resolution LIKE ?)"
		pattern := fmt.Sprintf("%%%s%%", filter.Query)
		args = append(args, pattern, pattern)
	}
	return query, args
}

func (s *SQLiteStore) AppendMessage(ticketID string, msg protocol.Message) error {
	ts := msg.Timestamp.Format(time.RFC3339)
	_, err := s.db.Exec(`INSERT INTO ticket_messages (id, ticket_id, role, author, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, ticketID, msg.Role, msg.Author, msg.Content, ts)
	if err != nil {
		return fmt.Errorf("ticket store: append message: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE tickets SET updated_at = ? WHERE id = ?`, ts, ticketID); err != nil {
		return fmt.Errorf("ticket store: touch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ticketID string, status protocol.TicketStatus) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var (
		result sql.Result
		err    error
	)
	if status.Terminal() {
		result, err = s.db.Exec(`UPDATE tickets SET status = ?, updated_at = ?, closed_at = ? WHERE id = ?`,
			string(status), now, now, ticketID)
	} else {
		result, err = s.db.Exec(`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, ticketID)
	}
	if err != nil {
		return fmt.Errorf("ticket store: update status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q: %w", ticketID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SaveAnalytics(ticketID string, a *protocol.Analytics) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("ticket store: marshal analytics: %w", err)
	}
	result, err := s.db.Exec(`UPDATE tickets SET analytics = ? WHERE id = ?`, string(raw), ticketID)
	if err != nil {
		return fmt.Errorf("ticket store: save analytics: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q: %w", ticketID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListIdleOpen(cutoff time.Time) ([]*protocol.Ticket, error) {
	rows, err := s.db.Query(`SELECT id, customer_name, channel, status, assigned_to, resolution, analytics, created_at, updated_at, closed_at
		FROM tickets WHERE status != ? AND updated_at < ?`,
		string(protocol.StatusClosed), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("ticket store: list idle: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicketRows(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: idle scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- helpers ---

func (s *SQLiteStore) loadMessages(ticketID string) ([]protocol.Message, error) {
	rows, err := s.db.Query(`SELECT id, role, author, content, timestamp FROM ticket_messages WHERE ticket_id = ? ORDER BY timestamp, rowid`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: load messages: %w", err)
	}
	defer rows.Close()

	var msgs []protocol.Message
	for rows.Next() {
		var m protocol.Message
		var ts string
		if err := rows.Scan(&m.ID, &m.Role, &m.Author, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("ticket store: scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTicketFromRow(s scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status, createdAtStr, updatedAtStr string
	var analyticsJSON, closedAtStr *string

	err := s.Scan(&t.ID, &t.CustomerName, &t.Channel, &status, &t.AssignedTo, &t.Resolution,
		&analyticsJSON, &createdAtStr, &updatedAtStr, &closedAtStr)
	if err != nil {
		return nil, err
	}

	t.Status = protocol.TicketStatus(status)
	if analyticsJSON != nil && *analyticsJSON != "" {
		var a protocol.Analytics
		if err := json.Unmarshal([]byte(*analyticsJSON), &a); err == nil {
			t.Analytics = &a
		}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)
	if closedAtStr != nil {
		ct, _ := time.Parse(time.RFC3339, *closedAtStr)
		t.ClosedAt = &ct
	}
	return &t, nil
}

func scanTicket(row *sql.Row) (*protocol.Ticket, error) {
	return scanTicketFromRow(row)
}

func scanTicketRows(rows *sql.Rows) (*protocol.Ticket, error) {
	return scanTicketFromRow(rows)
}
