package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// MistralProvider implements Provider against the Mistral chat
// completions API (OpenAI-compatible wire format).
type MistralProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	sleep      func(time.Duration)
}

// MistralOption configures a MistralProvider.
type MistralOption func(*MistralProvider)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) MistralOption {
	return func(p *MistralProvider) { p.baseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) MistralOption {
	return func(p *MistralProvider) { p.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) MistralOption {
	return func(p *MistralProvider) { p.client = c }
}

// WithMaxRetries sets how many times transient failures are retried.
func WithMaxRetries(n int) MistralOption {
	return func(p *MistralProvider) { p.maxRetries = n }
}

// NewMistral creates a new Mistral provider.
func NewMistral(apiKey string, opts ...MistralOption) *MistralProvider {
	p := &MistralProvider{
		client:     &http.Client{Timeout: 60 * time.Second},
		baseURL:    "https://api.mistral.ai/v1",
		apiKey:     apiKey,
		model:      "mistral-small-latest",
		maxRetries: 3,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MistralProvider) Name() string { return "mistral" }

func (p *MistralProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := mistralRequest{
		Model:    model,
		Messages: req.Messages,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.sleep(backoff(attempt))
		}

		resp, retryable, err := p.attempt(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("mistral: retries exhausted: %w", lastErr)
}

func (p *MistralProvider) attempt(ctx context.Context, payload []byte) (*ChatResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
			return nil, true, err
		}
		return nil, false, err
	}

	var mResp mistralResponse
	if err := json.Unmarshal(respBody, &mResp); err != nil {
		return nil, false, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(mResp.Choices) == 0 {
		return nil, false, fmt.Errorf("no choices in response")
	}

	return &ChatResponse{
		Content: mResp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     mResp.Usage.PromptTokens,
			CompletionTokens: mResp.Usage.CompletionTokens,
		},
	}, false, nil
}

// backoff returns an exponential delay with jitter for the given attempt.
func backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * time.Second
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base + jitter
}

// --- Mistral wire format types ---

type mistralRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type mistralResponse struct {
	Choices []mistralChoice `json:"choices"`
	Usage   mistralUsage    `json:"usage"`
}

type mistralChoice struct {
	Message ChatMessage `json:"message"`
}

type mistralUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
