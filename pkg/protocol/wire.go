package protocol

// HTTP request and response bodies shared by the public API and the
// widget client.

// CreateTicketRequest opens a new ticket with its first message.
type CreateTicketRequest struct {
	InitialMessage string `json:"initial_message"`
	CustomerName   string `json:"customer_name,omitempty"`
	Channel        string `json:"channel,omitempty"`
}

// CreateTicketResponse is returned on successful ticket creation. The
// conversation content itself arrives over the push channel.
type CreateTicketResponse struct {
	TicketID              string `json:"ticket_id"`
	TrackingURL           string `json:"tracking_url,omitempty"`
	EstimatedResponseTime string `json:"estimated_response_time,omitempty"`
}

// AddMessageRequest appends a customer message to an existing ticket.
type AddMessageRequest struct {
	Message    string `json:"message"`
	AuthorName string `json:"author_name,omitempty"`
}

// AddMessageResponse acknowledges an appended message.
type AddMessageResponse struct {
	MessageID string `json:"message_id"`
}

// StatusUpdateRequest changes a ticket's status. Publicly only closure
// is accepted; Resolution is honored on the private endpoint only.
type StatusUpdateRequest struct {
	Status     TicketStatus `json:"status"`
	Resolution string       `json:"resolution,omitempty"`
}

// AgentReplyRequest is the private endpoint body for an agent response.
type AgentReplyRequest struct {
	Content  string `json:"content"`
	Internal bool   `json:"internal,omitempty"`
}

// ErrorResponse is the JSON error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
