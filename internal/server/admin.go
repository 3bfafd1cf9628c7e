package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freeda-io/freeda/internal/logbuf"
	"github.com/freeda-io/freeda/internal/store"
	"github.com/freeda-io/freeda/pkg/protocol"
)

func ticketFilterFromQuery(r *http.Request) store.Filter {
	filter := store.Filter{}
	if status := r.URL.Query().Get("status"); status != "" {
		ts := protocol.TicketStatus(status)
		filter.Status = &ts
	}
	if channel := r.URL.Query().Get("channel"); channel != "" {
		filter.Channel = channel
	}
	if q := r.URL.Query().Get("q"); q != "" {
		filter.Query = q
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}
	return filter
}

func (s *Server) handleAdminListTickets(w http.ResponseWriter, r *http.Request) {
	filter := ticketFilterFromQuery(r)
	tickets, err := s.deps.Store.List(filter)
	if err != nil {
		s.logger.Error("list tickets", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	count, err := s.deps.Store.Count(filter)
	if err != nil {
		s.logger.Error("count tickets", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets, "total": count})
}

func (s *Server) handleAdminGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.deps.Store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket non trouvé")
			return
		}
		s.logger.Error("get ticket", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// handleAdminReply appends an agent message. A reply to a fresh ticket
// moves it to "en cours". Internal notes are stored but never pushed to
// the customer.
func (s *Server) handleAdminReply(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")
	var req protocol.AgentReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	ticket, err := s.deps.Store.Get(ticketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket non trouvé")
			return
		}
		s.logger.Error("get ticket", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	role := protocol.RoleAssistant
	if req.Internal {
		role = protocol.RoleSystem
	}
	msg := protocol.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Author:    "Agent Free",
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	}
	if err := s.deps.Store.AppendMessage(ticketID, msg); err != nil {
		s.logger.Error("append agent message", "ticket", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	statusUpdated := false
	if ticket.Status == protocol.StatusNew {
		if err := s.deps.Store.UpdateStatus(ticketID, protocol.StatusOpen); err != nil {
			s.logger.Error("update status", "ticket", ticketID, "error", err)
		} else {
			statusUpdated = true
			s.deps.Hub.Broadcast(ticketID, protocol.StatusFrame(protocol.StatusOpen))
		}
	}

	if !req.Internal {
		s.deps.Hub.Broadcast(ticketID, protocol.NewMessageFrame(msg))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message_id":            msg.ID,
		"ticket_status_updated": statusUpdated,
	})
}

// handleAdminAssign records which agent owns the ticket.
func (s *Server) handleAdminAssign(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")
	var req struct {
		Agent string `json:"agent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Agent = strings.TrimSpace(req.Agent)
	if req.Agent == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}

	ticket, err := s.deps.Store.Get(ticketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket non trouvé")
			return
		}
		s.logger.Error("get ticket", "ticket", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	ticket.AssignedTo = req.Agent
	if err := s.deps.Store.Save(ticket); err != nil {
		s.logger.Error("assign ticket", "ticket", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	s.logger.Info("ticket assigned", "ticket", ticketID, "agent", req.Agent)
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": ticketID, "assigned_to": req.Agent})
}

// handleAdminUpdateStatus sets any status. Closing broadcasts the
// status change to subscribed customers.
func (s *Server) handleAdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")
	var req protocol.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch req.Status {
	case protocol.StatusNew, protocol.StatusOpen, protocol.StatusClosed:
	default:
		writeError(w, http.StatusBadRequest, "statut inconnu")
		return
	}

	if req.Resolution != "" {
		ticket, err := s.deps.Store.Get(ticketID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Ticket non trouvé")
				return
			}
			s.logger.Error("get ticket", "ticket", ticketID, "error", err)
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
		ticket.Resolution = req.Resolution
		if err := s.deps.Store.Save(ticket); err != nil {
			s.logger.Error("save resolution", "ticket", ticketID, "error", err)
			writeError(w, http.StatusInternalServerError, "storage error")
			return
		}
	}

	if err := s.deps.Store.UpdateStatus(ticketID, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket non trouvé")
			return
		}
		s.logger.Error("update status", "ticket", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	s.deps.Hub.Broadcast(ticketID, protocol.StatusFrame(req.Status))
	s.logger.Info("ticket status updated", "ticket", ticketID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]any{"status": req.Status})
}

func (s *Server) handleAdminExportCSV(w http.ResponseWriter, r *http.Request) {
	tickets, err := s.deps.Store.List(ticketFilterFromQuery(r))
	if err != nil {
		s.logger.Error("list tickets for export", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	// Rows need message history for response-time metrics.
	full := make([]*protocol.Ticket, 0, len(tickets))
	for _, t := range tickets {
		loaded, err := s.deps.Store.Get(t.ID)
		if err != nil {
			s.logger.Error("load ticket for export", "ticket", t.ID, "error", err)
			continue
		}
		full = append(full, loaded)
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="tickets.csv"`)
	if err := writeTicketsCSV(w, full); err != nil {
		s.logger.Error("csv export", "error", err)
	}
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Record{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	records := s.deps.Logs.Query(since, minLevel, limit)
	if records == nil {
		records = []logbuf.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
