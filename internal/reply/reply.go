// Package reply produces the assistant's answer to a customer message:
// canned rules first, then the LLM grounded on the knowledge base.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/freeda-io/freeda/internal/kb"
	"github.com/freeda-io/freeda/internal/provider"
	"github.com/freeda-io/freeda/pkg/protocol"
)

const (
	agentSignature = "-- Agent Free"
	assistantName  = "Assistant Free"

	systemPrompt = "Tu es un agent du service client Free. " +
		"Réponds avec empathie, professionnalisme et en apportant des solutions concrètes. " +
		"Termine TOUJOURS tes réponses par '\n-- Agent Free' sur une nouvelle ligne."

	// Returned on a first contact when no model is configured.
	noProviderText = "Je prends note de votre demande. Un agent va vous répondre sous peu."

	historyWindow = 5
	contextDocs   = 3
	contextChars  = 1500
)

// Responder generates assistant replies.
type Responder struct {
	provider provider.Provider // may be nil
	base     *kb.Base          // may be nil
	logger   *slog.Logger
}

func NewResponder(p provider.Provider, base *kb.Base, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{provider: p, base: base, logger: logger}
}

// AssistantName is the author attached to generated messages.
func (r *Responder) AssistantName() string { return assistantName }

// Respond answers a customer message. history is the conversation so
// far, excluding the message being answered. firstContact relaxes the
// fallback: a brand new ticket always gets an acknowledgement even
// without a model, while a follow-up with no model stays silent.
// Returns "" when there is nothing to say.
func (r *Responder) Respond(ctx context.Context, history []protocol.Message, message string, firstContact bool) (string, error) {
	if quick := QuickResponse(message); quick != "" {
		return quick, nil
	}

	if r.provider == nil {
		if firstContact {
			return noProviderText, nil
		}
		return "", nil
	}

	msgs := []provider.ChatMessage{{Role: "system", Content: r.systemPrompt(message)}}
	// Internal notes carry the system role and must never reach the model.
	visible := make([]protocol.Message, 0, len(history))
	for _, m := range history {
		if m.Role == protocol.RoleSystem {
			continue
		}
		visible = append(visible, m)
	}
	start := len(visible) - historyWindow
	if start < 0 {
		start = 0
	}
	for _, m := range visible[start:] {
		role := "user"
		if m.Role == protocol.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, provider.ChatMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, provider.ChatMessage{Role: "user", Content: message})

	resp, err := r.provider.Chat(ctx, provider.ChatRequest{
		Messages:    msgs,
		MaxTokens:   512,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("reply: %w", err)
	}
	return NormalizeSignature(resp.Content), nil
}

// systemPrompt appends matching knowledge base excerpts when available.
func (r *Responder) systemPrompt(message string) string {
	if r.base == nil {
		return systemPrompt
	}
	context := r.base.Context(message, contextDocs, contextChars)
	if context == "" {
		return systemPrompt
	}
	return systemPrompt + "\n\nUtilise les informations suivantes pour répondre :\n" + context
}

// NormalizeSignature ensures the reply ends with the agent signature,
// appending it when the model forgot.
func NormalizeSignature(text string) string {
	if strings.HasSuffix(strings.TrimSpace(text), agentSignature) {
		return text
	}
	return strings.TrimRight(text, " \t\n") + "\n" + agentSignature
}
