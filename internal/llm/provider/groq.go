package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// GroqProvider talks to Groq's OpenAI-compatible chat completions
// endpoint.
type GroqProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewGroqProvider builds a provider from GROQ_API_KEY. Returns a
// provider with an empty apiKey (IsAvailable()==false at the fallback
// manager layer) rather than an error when the credential is unset, per
// spec: missing credentials mark a provider unavailable, not fatal.
func NewGroqProvider(model string, timeout time.Duration) *GroqProvider {
	return &GroqProvider{
		apiKey:  os.Getenv("GROQ_API_KEY"),
		baseURL: "https://api.groq.com/openai/v1",
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *GroqProvider) ID() string { return "groq" }

// HasCredentials reports whether the provider was configured with an
// API key at startup.
func (p *GroqProvider) HasCredentials() bool { return p.apiKey != "" }

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *GroqProvider) Call(ctx context.Context, messages []domain.ChatMessage, opts ChatOptions) (Response, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, classify(domain.ErrorKindTimeout, err)
		}
		return Response{}, classify(domain.ErrorKindUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, classify(domain.ErrorKindRateLimit, fmt.Errorf("groq rate limited: %s", raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Response{}, classify(domain.ErrorKindAuth, fmt.Errorf("groq auth rejected: %s", raw))
	case resp.StatusCode >= 500:
		return Response{}, classify(domain.ErrorKindUnavailable, fmt.Errorf("groq server error %d: %s", resp.StatusCode, raw))
	case resp.StatusCode != http.StatusOK:
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("groq error %d: %s", resp.StatusCode, raw))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("groq error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("groq returned no choices"))
	}

	return Response{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func classify(kind domain.ErrorKind, err error) error {
	return &ClassifiedError{Kind: kind, Err: err}
}
