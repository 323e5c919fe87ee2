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

// GeminiProvider adapts the Google Gemini generateContent API, adapted
// directly from infrastructure/planner/gemini.go's request/response
// shape, with role mapping and candidate extraction kept as-is.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewGeminiProvider(model string, timeout time.Duration) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		baseURL: "https://generativelanguage.googleapis.com",
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *GeminiProvider) ID() string          { return "gemini" }
func (p *GeminiProvider) HasCredentials() bool { return p.apiKey != "" }

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
			Role string `json:"role"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) Call(ctx context.Context, messages []domain.ChatMessage, opts ChatOptions) (Response, error) {
	var contents []geminiContent
	var systemInstruction *geminiContent

	for _, msg := range messages {
		if msg.Role == "system" {
			systemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			continue
		}
		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(geminiRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		},
	})
	if err != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

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
		return Response{}, classify(domain.ErrorKindRateLimit, fmt.Errorf("gemini rate limited: %s", raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Response{}, classify(domain.ErrorKindAuth, fmt.Errorf("gemini auth rejected: %s", raw))
	case resp.StatusCode >= 500:
		return Response{}, classify(domain.ErrorKindUnavailable, fmt.Errorf("gemini server error %d: %s", resp.StatusCode, raw))
	case resp.StatusCode != http.StatusOK:
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("gemini error %d: %s", resp.StatusCode, raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return Response{}, classify(domain.ErrorKindUnknown, fmt.Errorf("gemini error: %s", parsed.Error.Message))
	}
	if len(parsed.Candidates) == 0 {
		return Response{}, classify(domain.ErrorKindInvalidResponse, fmt.Errorf("gemini returned no candidates"))
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}

	return Response{
		Text:             text,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}
