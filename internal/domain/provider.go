package domain

import "time"

// ErrorKind classifies an LLM provider failure for cooldown policy
// selection. See fallback.CooldownTracker for the policy table.
type ErrorKind string

const (
	ErrorKindRateLimit       ErrorKind = "rate_limit"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindAuth            ErrorKind = "auth"
	ErrorKindUnavailable     ErrorKind = "unavailable"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// ErrorEntry is one recorded provider failure, kept for the fallback
// manager's escalation history (last N, default 50).
type ErrorEntry struct {
	ProviderID string    `json:"provider_id"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ProviderState is the per-provider health the fallback manager tracks.
type ProviderState struct {
	ProviderID          string     `json:"provider_id"`
	Priority            int        `json:"priority"`
	IsAvailable         bool       `json:"is_available"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalRequests       int64      `json:"total_requests"`
	TotalFailures       int64      `json:"total_failures"`
	CooldownUntil       *time.Time `json:"cooldown_until,omitempty"`
	LastErrorKind       ErrorKind  `json:"last_error_kind,omitempty"`
}

// InCooldown reports whether the provider should be skipped at now.
func (p *ProviderState) InCooldown(now time.Time) bool {
	return p.CooldownUntil != nil && now.Before(*p.CooldownUntil)
}

// RecordSuccess applies the success contract: reset failure streak and
// cooldown, bump counters.
func (p *ProviderState) RecordSuccess() {
	p.ConsecutiveFailures = 0
	p.CooldownUntil = nil
	p.TotalRequests++
}

// RecordFailure applies a failure, bumping counters and the failure
// streak. Cooldown/availability are set by the caller (fallback.Manager)
// since they depend on the error-kind policy table.
func (p *ProviderState) RecordFailure(kind ErrorKind) {
	p.TotalRequests++
	p.TotalFailures++
	p.ConsecutiveFailures++
	p.LastErrorKind = kind
}
