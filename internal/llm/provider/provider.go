// Package provider defines the duck-typed LLM client contract the
// fallback manager dispatches to: pick an implementation, call it,
// classify the result.
package provider

import (
	"context"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// ChatOptions tunes a single Call.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Response is a successful provider reply.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ClassifiedError carries a domain.ErrorKind alongside the underlying
// cause, so the fallback manager never has to re-derive classification
// from a raw error — that happens once, at the adapter boundary.
type ClassifiedError struct {
	Kind domain.ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retryable implements resilience.classifiedError: auth failures are
// fatal for the process lifetime, everything else may be retried
// (the fallback manager's own cooldown policy decides how soon).
func (e *ClassifiedError) Retryable() bool {
	return e.Kind != domain.ErrorKindAuth
}

// Provider is the capability interface every LLM backend implements.
type Provider interface {
	// ID is the stable identifier used in ProviderState/config ordering.
	ID() string

	// Call sends messages to the backend and returns a response or a
	// *ClassifiedError.
	Call(ctx context.Context, messages []domain.ChatMessage, opts ChatOptions) (Response, error)
}
