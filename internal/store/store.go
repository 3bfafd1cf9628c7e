// Package store persists tickets and their conversation history.
package store

import (
	"errors"
	"time"

	"github.com/freeda-io/freeda/pkg/protocol"
)

// ErrNotFound is returned when a ticket id does not exist.
var ErrNotFound = errors.New("ticket not found")

// Store is the persistence interface for tickets and their messages.
type Store interface {
	// Save creates or updates a ticket.
	Save(ticket *protocol.Ticket) error
	// Get retrieves a ticket by ID, including its messages.
	Get(id string) (*protocol.Ticket, error)
	// List returns tickets matching the filter, newest first.
	List(filter Filter) ([]*protocol.Ticket, error)
	// Count returns the number of tickets matching the filter.
	Count(filter Filter) (int, error)
	// AppendMessage adds a message to a ticket and bumps updated_at.
	AppendMessage(ticketID string, msg protocol.Message) error
	// UpdateStatus changes a ticket's status. Closing records closed_at.
	UpdateStatus(ticketID string, status protocol.TicketStatus) error
	// SaveAnalytics attaches analysis results to a ticket.
	SaveAnalytics(ticketID string, a *protocol.Analytics) error
	// ListIdleOpen returns non-closed tickets not updated since the cutoff.
	ListIdleOpen(cutoff time.Time) ([]*protocol.Ticket, error)
	// Close releases the underlying database.
	Close() error
}

// Filter constrains ticket list queries.
type Filter struct {
	Status  *protocol.TicketStatus
	Channel string // exact match
	Query   string // text search on customer_name and resolution
	Limit   int    // 0 = no limit
}
