// Package push subscribes to the per-ticket WebSocket and turns inbound
// frames into typed events for the session.
package push

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/freeda-io/freeda/internal/session"
	"github.com/freeda-io/freeda/pkg/protocol"
)

// Factory returns a session.ChannelFactory dialing ws(s)://<base>/ws/{id}.
// baseURL is the HTTP API base; the scheme is rewritten for WebSocket.
func Factory(baseURL string, logger *slog.Logger) session.ChannelFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ticketID string) (session.Channel, error) {
		url := wsURL(baseURL) + "/ws/" + ticketID
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		ch := &channel{
			conn:   conn,
			frames: make(chan protocol.Frame, 16),
			logger: logger.With("ticket", ticketID),
		}
		go ch.readLoop()
		return ch, nil
	}
}

// channel is one open subscription. The read loop owns the connection's
// read side; Close is safe from any goroutine.
type channel struct {
	conn   *websocket.Conn
	frames chan protocol.Frame
	logger *slog.Logger
}

func (c *channel) Frames() <-chan protocol.Frame { return c.frames }

func (c *channel) Close() error {
	return c.conn.Close()
}

// readLoop drains the connection until it errors or closes. Malformed
// frames are logged and dropped; the channel is best-effort and carries
// no reconnect policy.
func (c *channel) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("push channel ended", "error", err)
			}
			return
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.frames <- frame
	}
}

// wsURL rewrites an HTTP base URL to its WebSocket equivalent.
func wsURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
