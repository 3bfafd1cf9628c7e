package server

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/freeda-io/freeda/pkg/protocol"
)

var csvHeader = []string{
	"ticket_id",
	"created_at",
	"closed_at",
	"status",
	"channel",
	"sentiment",
	"category",
	"urgency",
	"summary",
	"messages_count",
	"resolution_duration_seconds",
	"resolution_duration_hours",
	"first_response_time_seconds",
	"avg_response_time_seconds",
}

// writeTicketsCSV renders the dashboard export: one row per ticket with
// analytics and response-time metrics.
func writeTicketsCSV(w io.Writer, tickets []*protocol.Ticket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range tickets {
		if err := cw.Write(ticketRow(t)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ticketRow(t *protocol.Ticket) []string {
	var sentiment, category, urgency, summary string
	if t.Analytics != nil {
		sentiment = t.Analytics.Sentiment
		category = t.Analytics.Category
		urgency = t.Analytics.Urgency
		summary = t.Analytics.Summary
	}

	var closedAt, resolutionSecs, resolutionHours string
	if t.ClosedAt != nil {
		closedAt = t.ClosedAt.Format(time.RFC3339)
		d := t.ClosedAt.Sub(t.CreatedAt)
		resolutionSecs = strconv.Itoa(int(d.Seconds()))
		resolutionHours = fmt.Sprintf("%.2f", d.Hours())
	}

	return []string{
		t.ID,
		t.CreatedAt.Format(time.RFC3339),
		closedAt,
		string(t.Status),
		t.Channel,
		sentiment,
		category,
		urgency,
		summary,
		strconv.Itoa(len(t.Messages)),
		resolutionSecs,
		resolutionHours,
		formatSeconds(firstResponseTime(t.Messages)),
		formatSeconds(avgResponseTime(t.Messages)),
	}
}

// firstResponseTime is the delay between the first customer message and
// the first assistant reply. Returns -1 when undefined.
func firstResponseTime(messages []protocol.Message) int {
	var userAt time.Time
	for _, m := range messages {
		switch {
		case m.IsUser() && userAt.IsZero():
			userAt = m.Timestamp
		case m.Role == protocol.RoleAssistant && !userAt.IsZero():
			return int(m.Timestamp.Sub(userAt).Seconds())
		}
	}
	return -1
}

// avgResponseTime averages the delay of each assistant reply to the
// customer message that preceded it. Returns -1 when undefined.
func avgResponseTime(messages []protocol.Message) int {
	var total, count int
	var pending *time.Time
	for _, m := range messages {
		switch {
		case m.IsUser():
			ts := m.Timestamp
			pending = &ts
		case m.Role == protocol.RoleAssistant && pending != nil:
			total += int(m.Timestamp.Sub(*pending).Seconds())
			count++
			pending = nil
		}
	}
	if count == 0 {
		return -1
	}
	return total / count
}

func formatSeconds(v int) string {
	if v < 0 {
		return ""
	}
	return strconv.Itoa(v)
}
