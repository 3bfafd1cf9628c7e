// Package provider abstracts the LLM APIs used for smart replies and
// ticket analysis.
package provider

import "context"

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is a chat completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the assistant's completion.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}
