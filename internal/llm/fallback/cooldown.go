// Package fallback implements the multi-provider LLM dispatcher:
// ordered-provider attempts with per-provider retry, error-kind cooldowns,
// and escalation when the configured failure budget is exceeded.
package fallback

import (
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// CooldownTracker turns a classified failure into a cooldown duration
// per error kind. Deliberately hand-rolled rather than a ratio-based
// breaker (resilience.CircuitManager): the policy here is keyed on
// error kind and consecutive-failure count with exact numeric
// durations, not a trip/half-open ratio.
type CooldownTracker struct {
	// MaxConsecutiveFailures marks a provider unavailable once
	// ConsecutiveFailures reaches this value, independent of cooldown.
	MaxConsecutiveFailures int
}

// NewCooldownTracker returns a tracker using the default
// max_consecutive_failures (5, the same default as the repeated-error
// escalation threshold).
func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{MaxConsecutiveFailures: 5}
}

const (
	cooldownRateLimit     = 60 * time.Second
	cooldownTimeout       = 30 * time.Second
	adaptiveUnit          = 10 * time.Second
	adaptiveMaxMultiplier = 8
	unknownBackoffStart   = 5 * time.Second
	unknownBackoffCap     = 80 * time.Second
)

// Apply records a failure of the given kind against state and sets
// CooldownUntil/IsAvailable per the policy table. now is the reference
// clock so tests can control it.
func (c *CooldownTracker) Apply(state *domain.ProviderState, kind domain.ErrorKind, now time.Time) {
	state.RecordFailure(kind)

	switch kind {
	case domain.ErrorKindRateLimit:
		until := now.Add(cooldownRateLimit)
		state.CooldownUntil = &until
	case domain.ErrorKindTimeout:
		until := now.Add(cooldownTimeout)
		state.CooldownUntil = &until
	case domain.ErrorKindAuth:
		// No cooldown_until: unavailable until process restart.
		state.IsAvailable = false
		state.CooldownUntil = nil
	case domain.ErrorKindUnavailable, domain.ErrorKindInvalidResponse:
		mult := state.ConsecutiveFailures
		if mult > adaptiveMaxMultiplier {
			mult = adaptiveMaxMultiplier
		}
		until := now.Add(adaptiveUnit * time.Duration(mult))
		state.CooldownUntil = &until
	case domain.ErrorKindUnknown:
		until := now.Add(unknownBackoff(state.ConsecutiveFailures))
		state.CooldownUntil = &until
	}

	if kind != domain.ErrorKindAuth && state.ConsecutiveFailures >= c.MaxConsecutiveFailures {
		state.IsAvailable = false
	}
}

// unknownBackoff doubles from unknownBackoffStart, capped at
// unknownBackoffCap, keyed on how many consecutive failures have
// already accumulated (1st failure -> 5s, 2nd -> 10s, ... capped).
func unknownBackoff(consecutiveFailures int) time.Duration {
	d := unknownBackoffStart
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= unknownBackoffCap {
			return unknownBackoffCap
		}
	}
	return d
}

// Available reports whether a provider may be attempted right now:
// marked available and not in cooldown.
func (c *CooldownTracker) Available(state *domain.ProviderState, now time.Time) bool {
	return state.IsAvailable && !state.InCooldown(now)
}

// ClearExpired drops cooldowns that have already lapsed, used when
// restoring persisted state on startup.
func (c *CooldownTracker) ClearExpired(state *domain.ProviderState, now time.Time) {
	if state.CooldownUntil != nil && !now.Before(*state.CooldownUntil) {
		state.CooldownUntil = nil
	}
}
