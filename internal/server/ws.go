package server

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/freeda-io/freeda/internal/store"
	"github.com/freeda-io/freeda/pkg/protocol"
)

// handleSubscribe upgrades the connection and registers it as a push
// subscriber for the ticket. Registration happens before the snapshot is
// read so that a broadcast landing in between is queued behind it rather
// than lost; the session layer drops the duplicate if it appears in both.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, origin)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := s.deps.Hub.Register(ticketID, ws)

	if ticket, err := s.deps.Store.Get(ticketID); err == nil {
		if err := conn.Send(protocol.SnapshotFrame(ticket)); err != nil {
			s.logger.Warn("snapshot send failed", "ticket", ticketID, "error", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("snapshot load failed", "ticket", ticketID, "error", err)
	}

	conn.Wait()
	s.deps.Hub.Unregister(conn)
}
