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

// DeepSeekProvider talks to DeepSeek's OpenAI-compatible chat
// completions endpoint, reusing the openAIChatRequest/openAIChatResponse
// wire types already defined in groq.go.
type DeepSeekProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewDeepSeekProvider(model string, timeout time.Duration) *DeepSeekProvider {
	return &DeepSeekProvider{
		apiKey:  os.Getenv("DEEPSEEK_API_KEY"),
		baseURL: "https://api.deepseek.com",
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *DeepSeekProvider) ID() string           { return "deepseek" }
func (p *DeepSeekProvider) HasCredentials() bool { return p.apiKey != "" }

func (p *DeepSeekProvider) Call(ctx context.Context, messages []domain.ChatMessage, opts ChatOptions) (Response, error) {
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
		return Response{}, classify(domain.ErrorKindRateLimit, fmt.Errorf("deepseek rate limited: %s", raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Response{}, classify(domain.ErrorKindAuth, fmt.Errorf("deepseek auth rejected: %s", raw))
	case resp.StatusCode >= 500:
		return Response{}, classify(domain.ErrorKindUnavailable, fmt.Errorf("deepseek server error %d: %s", resp.StatusCode, raw))
	case resp.StatusCode != http.StatusOK:
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("deepseek error %d: %s", resp.StatusCode, raw))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("deepseek error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("deepseek returned no choices"))
	}

	return Response{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}
