// Package client is the HTTP write path of the support widget: ticket
// creation, message append and closure against the public API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/freeda-io/freeda/pkg/protocol"
)

// Client talks to the public ticket API. It implements session.Backend.
type Client struct {
	http    *http.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateTicket opens a ticket with its first message and returns the
// server-assigned ticket ID. The conversation content arrives over the
// push channel, not in this response.
func (c *Client) CreateTicket(ctx context.Context, initialMessage string) (string, error) {
	var resp protocol.CreateTicketResponse
	err := c.do(ctx, http.MethodPost, "/public/tickets",
		protocol.CreateTicketRequest{InitialMessage: initialMessage, Channel: "chat"}, &resp)
	if err != nil {
		return "", err
	}
	if resp.TicketID == "" {
		return "", fmt.Errorf("client: create ticket: empty ticket_id in response")
	}
	return resp.TicketID, nil
}

// AddMessage appends a customer message to an existing ticket.
func (c *Client) AddMessage(ctx context.Context, ticketID, message string) error {
	return c.do(ctx, http.MethodPost, "/public/tickets/"+ticketID+"/messages",
		protocol.AddMessageRequest{Message: message}, nil)
}

// CloseTicket asks the backend to close the ticket. Closure is the only
// status change the public API accepts.
func (c *Client) CloseTicket(ctx context.Context, ticketID string) error {
	return c.do(ctx, http.MethodPatch, "/public/tickets/"+ticketID+"/status",
		protocol.StatusUpdateRequest{Status: protocol.StatusClosed}, nil)
}

// GetTicket fetches the public view of a ticket.
func (c *Client) GetTicket(ctx context.Context, ticketID string) (*protocol.Ticket, error) {
	var t protocol.Ticket
	if err := c.do(ctx, http.MethodGet, "/public/tickets/"+ticketID, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr protocol.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("client: %s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("client: %s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("client: unmarshal response: %w", err)
		}
	}
	return nil
}
