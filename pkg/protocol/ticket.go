package protocol

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
// Values are the French labels the widget and backend exchange.
type TicketStatus string

const (
	StatusNew    TicketStatus = "nouveau"
	StatusOpen   TicketStatus = "en cours"
	StatusClosed TicketStatus = "fermé"
)

// Terminal reports whether the status admits no further transition.
func (s TicketStatus) Terminal() bool { return s == StatusClosed }

// Ticket is a support conversation owned by the backend.
type Ticket struct {
	ID           string       `json:"ticket_id"`
	CustomerName string       `json:"customer_name,omitempty"`
	Channel      string       `json:"channel,omitempty"`
	Status       TicketStatus `json:"status"`
	AssignedTo   string       `json:"assigned_to,omitempty"`
	Resolution   string       `json:"resolution,omitempty"`
	Analytics    *Analytics   `json:"analytics,omitempty"`
	Messages     []Message    `json:"messages"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
}

// Analytics holds the automatic conversation analysis attached to a ticket.
type Analytics struct {
	Sentiment  string    `json:"sentiment"`
	Category   string    `json:"category"`
	Urgency    string    `json:"urgency"`
	ChurnRisk  int       `json:"churn_risk"`
	Summary    string    `json:"summary"`
	NextAction string    `json:"next_action,omitempty"`
	Alert      string    `json:"alert,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}
