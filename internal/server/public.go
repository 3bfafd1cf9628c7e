package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freeda-io/freeda/internal/store"
	"github.com/freeda-io/freeda/pkg/protocol"
)

const (
	defaultCustomer = "Anonyme"
	defaultChannel  = "chat"
)

// newTicketID generates a short customer-facing id like FRE-A1B2C3D4.
func newTicketID() string {
	return "FRE-" + strings.ToUpper(uuid.NewString()[:8])
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if s.deps.TicketLimiter != nil && !s.deps.TicketLimiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Trop de tickets créés. Veuillez patienter avant d'en créer un nouveau.")
		return
	}

	var req protocol.CreateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.InitialMessage = strings.TrimSpace(req.InitialMessage)
	if req.InitialMessage == "" {
		writeError(w, http.StatusBadRequest, "initial_message is required")
		return
	}
	if req.Channel == "" {
		req.Channel = defaultChannel
	}
	customer := req.CustomerName
	if customer == "" {
		customer = defaultCustomer
	}

	now := time.Now().UTC()
	userMsg := protocol.Message{
		ID:        uuid.NewString(),
		Role:      protocol.RoleUser,
		Author:    customer,
		Content:   req.InitialMessage,
		Timestamp: now,
	}
	ticket := &protocol.Ticket{
		ID:           newTicketID(),
		CustomerName: customer,
		Channel:      req.Channel,
		Status:       protocol.StatusNew,
		Messages:     []protocol.Message{userMsg},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if s.deps.Analyzer != nil {
		ticket.Analytics = s.deps.Analyzer.Analyze(r.Context(), ticket.Messages)
	}

	var assistantMsg *protocol.Message
	if ticket.Channel == defaultChannel {
		text, err := s.deps.Responder.Respond(r.Context(), nil, req.InitialMessage, true)
		if err != nil {
			s.logger.Error("assistant reply failed", "ticket", ticket.ID, "error", err)
		} else if text != "" {
			assistantMsg = &protocol.Message{
				ID:        uuid.NewString(),
				Role:      protocol.RoleAssistant,
				Author:    s.deps.Responder.AssistantName(),
				Content:   text,
				Timestamp: time.Now().UTC(),
			}
			ticket.Messages = append(ticket.Messages, *assistantMsg)
		}
	}

	if err := s.deps.Store.Save(ticket); err != nil {
		s.logger.Error("save ticket", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create ticket")
		return
	}
	for _, m := range ticket.Messages {
		if err := s.deps.Store.AppendMessage(ticket.ID, m); err != nil {
			s.logger.Error("append message", "ticket", ticket.ID, "error", err)
		}
	}

	s.deps.Hub.Broadcast(ticket.ID, protocol.Frame{
		Type: protocol.FrameTicketCreated,
		Ticket: &protocol.Snapshot{
			TicketID:  ticket.ID,
			Status:    ticket.Status,
			CreatedAt: ticket.CreatedAt,
		},
	})
	s.deps.Hub.Broadcast(ticket.ID, protocol.NewMessageFrame(userMsg))
	if assistantMsg != nil {
		s.deps.Hub.Broadcast(ticket.ID, protocol.NewMessageFrame(*assistantMsg))
	}

	s.logger.Info("ticket created", "ticket", ticket.ID, "channel", ticket.Channel)
	writeJSON(w, http.StatusCreated, protocol.CreateTicketResponse{
		TicketID:              ticket.ID,
		TrackingURL:           "/public/tickets/" + ticket.ID,
		EstimatedResponseTime: "Sous 2 heures",
	})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.deps.Store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Ticket non trouvé. Vérifiez l'ID du ticket.")
			return
		}
		s.logger.Error("get ticket", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	// Public view: no assignment or analytics details.
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id":     ticket.ID,
		"status":        ticket.Status,
		"status_label":  statusLabel(ticket.Status),
		"customer_name": ticket.CustomerName,
		"created_at":    ticket.CreatedAt,
		"last_update":   ticket.UpdatedAt,
		"messages":      ticket.Messages,
	})
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.MessageLimiter != nil && !s.deps.MessageLimiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "Vous envoyez des messages trop vite. Veuillez ralentir.")
		return
	}

	ticketID := r.PathValue("id")
	var req protocol.AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
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
	if ticket.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "Ce ticket est fermé. Veuillez créer un nouveau ticket si besoin.")
		return
	}

	author := req.AuthorName
	if author == "" {
		author = ticket.CustomerName
	}
	userMsg := protocol.Message{
		ID:        uuid.NewString(),
		Role:      protocol.RoleUser,
		Author:    author,
		Content:   req.Message,
		Timestamp: time.Now().UTC(),
	}
	if err := s.deps.Store.AppendMessage(ticketID, userMsg); err != nil {
		s.logger.Error("append message", "ticket", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	history := append(ticket.Messages, userMsg)

	if s.deps.Analyzer != nil {
		if result := s.deps.Analyzer.Analyze(r.Context(), history); result != nil {
			if err := s.deps.Store.SaveAnalytics(ticketID, result); err != nil {
				s.logger.Error("save analytics", "ticket", ticketID, "error", err)
			}
		}
	}

	var assistantMsg *protocol.Message
	text, err := s.deps.Responder.Respond(r.Context(), history, req.Message, false)
	if err != nil {
		s.logger.Error("assistant reply failed", "ticket", ticketID, "error", err)
	} else if text != "" {
		assistantMsg = &protocol.Message{
			ID:        uuid.NewString(),
			Role:      protocol.RoleAssistant,
			Author:    s.deps.Responder.AssistantName(),
			Content:   text,
			Timestamp: time.Now().UTC(),
		}
		if err := s.deps.Store.AppendMessage(ticketID, *assistantMsg); err != nil {
			s.logger.Error("append assistant message", "ticket", ticketID, "error", err)
		}
	}

	s.deps.Hub.Broadcast(ticketID, protocol.NewMessageFrame(userMsg))
	if assistantMsg != nil {
		s.deps.Hub.Broadcast(ticketID, protocol.NewMessageFrame(*assistantMsg))
	}

	writeJSON(w, http.StatusOK, protocol.AddMessageResponse{MessageID: userMsg.ID})
}

func (s *Server) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id":     ticket.ID,
		"status":        ticket.Status,
		"status_label":  statusLabel(ticket.Status),
		"last_update":   ticket.UpdatedAt,
		"message_count": len(ticket.Messages),
	})
}

// handleCloseTicket lets the customer close their own ticket. Only the
// closed status is accepted publicly; closing twice is a no-op.
func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")
	var req protocol.StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Status != protocol.StatusClosed {
		writeError(w, http.StatusBadRequest, "Seule la fermeture du ticket est autorisée publiquement")
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

	if ticket.Status.Terminal() {
		writeJSON(w, http.StatusOK, map[string]any{"status": protocol.StatusClosed, "message": "Ticket déjà fermé"})
		return
	}

	if err := s.deps.Store.UpdateStatus(ticketID, protocol.StatusClosed); err != nil {
		s.logger.Error("close ticket", "ticket", ticketID, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.deps.Hub.Broadcast(ticketID, protocol.StatusFrame(protocol.StatusClosed))
	s.logger.Info("ticket closed by customer", "ticket", ticketID)

	writeJSON(w, http.StatusOK, map[string]any{"status": protocol.StatusClosed, "message": "Ticket fermé avec succès"})
}

func statusLabel(s protocol.TicketStatus) string {
	switch s {
	case protocol.StatusNew:
		return "Nouveau - En attente de prise en charge"
	case protocol.StatusOpen:
		return "En cours - Un agent travaille sur votre demande"
	case protocol.StatusClosed:
		return "Résolu - Votre demande a été traitée"
	default:
		return string(s)
	}
}
