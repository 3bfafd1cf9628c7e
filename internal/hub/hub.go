// Package hub manages the WebSocket subscribers of each ticket and fans
// out push frames to them.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/freeda-io/freeda/pkg/protocol"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
)

// Connection is a single subscriber to one ticket's push channel.
type Connection struct {
	ID       string
	TicketID string
	ws       *websocket.Conn
	send     chan []byte
	once     sync.Once
}

// Hub tracks connections per ticket and broadcasts frames to them.
type Hub struct {
	mu      sync.RWMutex
	tickets map[string]map[string]*Connection
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		tickets: make(map[string]map[string]*Connection),
		logger:  logger,
	}
}

// Register adds a subscriber for ticketID and starts its write pump.
func (h *Hub) Register(ticketID string, ws *websocket.Conn) *Connection {
	conn := &Connection{
		ID:       uuid.NewString(),
		TicketID: ticketID,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.tickets[ticketID] == nil {
		h.tickets[ticketID] = make(map[string]*Connection)
	}
	h.tickets[ticketID][conn.ID] = conn
	h.mu.Unlock()

	go conn.writePump()
	h.logger.Debug("subscriber registered", "ticket", ticketID, "conn", conn.ID)
	return conn
}

// Unregister removes a subscriber and closes its socket.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	if conns, ok := h.tickets[conn.TicketID]; ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(h.tickets, conn.TicketID)
		}
	}
	h.mu.Unlock()

	conn.close()
	h.logger.Debug("subscriber unregistered", "ticket", conn.TicketID, "conn", conn.ID)
}

// Broadcast delivers a frame to every subscriber of the ticket. Slow
// subscribers whose buffer is full are dropped.
func (h *Hub) Broadcast(ticketID string, frame protocol.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshal frame", "error", err)
		return
	}

	h.mu.RLock()
	var stale []*Connection
	for _, conn := range h.tickets[ticketID] {
		select {
		case conn.send <- data:
		default:
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		h.logger.Warn("subscriber buffer full, dropping", "ticket", ticketID, "conn", conn.ID)
		h.Unregister(conn)
	}
}

// Subscribers returns the number of live connections for a ticket.
func (h *Hub) Subscribers(ticketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tickets[ticketID])
}

// writePump serializes all writes to the socket. It exits when the send
// channel is closed or a write fails.
func (c *Connection) writePump() {
	for data := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			c.ws.Close()
			return
		}
	}
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.ws.Close()
}

// Send queues one frame on this connection only. It returns an error
// when the frame cannot be marshalled or the send buffer is full.
func (c *Connection) Send(frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("hub: send buffer full")
	}
}

func (c *Connection) close() {
	c.once.Do(func() { close(c.send) })
}

// Wait blocks until the peer closes the connection or an error occurs.
// Used by the HTTP handler to keep the subscription alive.
func (c *Connection) Wait() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
