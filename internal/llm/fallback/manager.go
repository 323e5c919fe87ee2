package fallback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/llm/escalation"
	"github.com/taskmesh/taskmesh/internal/llm/provider"
	"github.com/taskmesh/taskmesh/internal/persistence"
	"github.com/taskmesh/taskmesh/internal/resilience"
)

// ErrAllProvidersFailed is the failure sentinel Chat returns once every
// provider has been exhausted for a single call.
var ErrAllProvidersFailed = errors.New("fallback: all providers failed")

// Config tunes the manager's retry/escalation/persistence behavior.
type Config struct {
	MaxRetriesPerProvider int
	RetryDelay            time.Duration
	CongressRepeated      int
	CongressFailures      int
	MaxErrorHistory       int
	StaleAfter            time.Duration
	StatePath             string
}

// DefaultConfig returns the package's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetriesPerProvider: 2,
		RetryDelay:            500 * time.Millisecond,
		CongressRepeated:      5,
		CongressFailures:      10,
		MaxErrorHistory:       50,
		StaleAfter:            1 * time.Hour,
	}
}

// state is the single persisted snapshot of provider cooldown data.
type state struct {
	Providers map[string]*domain.ProviderState `json:"providers"`
	Errors    []domain.ErrorEntry              `json:"errors"`
	SavedAt   time.Time                        `json:"saved_at"`
}

// Manager implements the LLM Fallback Manager: a single chat(messages,
// options) contract over an ordered set of providers: providers are
// tried in priority order, each retried with backoff
// (internal/resilience/retry.go) before moving to the next, and a
// total failure is handed off to the escalation writer.
type Manager struct {
	cfg       Config
	cooldown  *CooldownTracker
	escalator *escalation.Writer
	notify    func(message string)

	mu        sync.Mutex
	providers []provider.Provider
	states    map[string]*domain.ProviderState
	errors    []domain.ErrorEntry

	totalFailures       int64
	repeatedErrorKind   domain.ErrorKind
	repeatedErrorStreak int
}

// New constructs a Manager over providers ordered by ascending Priority
// (lowest number first), restoring persisted state from cfg.StatePath
// if present and younger than cfg.StaleAfter.
func New(cfg Config, providers []provider.Provider, priorities map[string]int, escalator *escalation.Writer) *Manager {
	sorted := make([]provider.Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priorities[sorted[i].ID()] < priorities[sorted[j].ID()]
	})

	m := &Manager{
		cfg:       cfg,
		cooldown:  NewCooldownTracker(),
		escalator: escalator,
		states:    make(map[string]*domain.ProviderState),
		providers: sorted,
	}

	for _, p := range sorted {
		m.states[p.ID()] = &domain.ProviderState{
			ProviderID:  p.ID(),
			Priority:    priorities[p.ID()],
			IsAvailable: true,
		}
	}

	m.restore()
	return m
}

// SetNotify wires a best-effort external notification channel; left
// nil, escalations are still written to disk but no notify() call is
// attempted.
func (m *Manager) SetNotify(fn func(message string)) { m.notify = fn }

// MarkUnavailable flags a provider unavailable at startup without a
// recorded failure — used when its credential env var is unset (spec
// §6: "missing credentials ... provider marked unavailable, not a
// fatal error").
func (m *Manager) MarkUnavailable(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[providerID]; ok {
		s.IsAvailable = false
	}
}

// Chat tries each available, not-in-cooldown provider in priority
// order, retrying each up to MaxRetriesPerProvider times before moving
// on. Returns the response and the provider id that produced it, or
// ErrAllProvidersFailed once every provider has been exhausted.
func (m *Manager) Chat(ctx context.Context, messages []domain.ChatMessage, opts provider.ChatOptions) (provider.Response, string, error) {
	m.mu.Lock()
	candidates := make([]provider.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if m.cooldown.Available(m.states[p.ID()], time.Now()) {
			candidates = append(candidates, p)
		}
	}
	m.mu.Unlock()

	// escalated latches the first time this call crosses a congress
	// threshold (tracked in recordFailure) so a success on a later,
	// lower-priority candidate doesn't mask an escalation that already
	// fired, and so the unconditional post-loop escalation below never
	// duplicates one recordFailure already wrote.
	escalated := false

	for _, p := range candidates {
		resp, err := m.attemptProvider(ctx, p, messages, opts, &escalated)
		if err == nil {
			return resp, p.ID(), nil
		}
		log.Warn().Str("provider_id", p.ID()).Err(err).Msg("provider exhausted retries, advancing to next")
	}

	if !escalated {
		m.recordEscalation(messages)
	}
	return provider.Response{}, "failed", ErrAllProvidersFailed
}

// attemptProvider runs the per-provider retry loop. The lock is held
// only around state mutation; the network call itself happens
// unlocked.
//
// backoff.WithMaxRetries(b, n) makes n retries *after* the first
// attempt, i.e. n+1 total calls — so MaxRetriesPerProvider-1 retries
// yields exactly MaxRetriesPerProvider calls, matching §8 scenario 4
// ("429 twice in a row ... consecutive_failures on primary is 2" with
// the default MaxRetriesPerProvider=2).
func (m *Manager) attemptProvider(ctx context.Context, p provider.Provider, messages []domain.ChatMessage, opts provider.ChatOptions, escalated *bool) (provider.Response, error) {
	retries := m.cfg.MaxRetriesPerProvider - 1
	if retries < 0 {
		retries = 0
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxRetries = uint64(retries)
	retryCfg.InitialInterval = m.cfg.RetryDelay
	retryCfg.MaxElapsedTime = 0

	return resilience.RetryWithResult(ctx, retryCfg, func() (provider.Response, error) {
		resp, err := p.Call(ctx, messages, opts)
		if err != nil {
			m.recordFailure(p.ID(), err, messages, escalated)
			return provider.Response{}, err
		}
		m.recordSuccess(p.ID())
		return resp, nil
	})
}

func (m *Manager) recordSuccess(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.states[providerID]; ok {
		s.RecordSuccess()
	}
	m.repeatedErrorStreak = 0
	m.persistLocked()
}

// recordFailure applies a single provider failure to shared state and,
// if doing so just crossed one of the two process-wide congress
// triggers (§4.2: repeated error kind or total failure budget), writes
// an escalation immediately — independent of whether the call this
// failure belongs to goes on to succeed with a lower-priority
// provider. Without this, a provider that fails every call while a
// lower-priority provider keeps answering would accumulate unbounded
// failures and never escalate (the all-providers-exhausted branch in
// Chat would never fire). escalated latches true the first time this
// happens within a single Chat call so a later candidate's success (or
// the unconditional post-loop check in Chat) can't write a second,
// redundant escalation record for the same triggering event.
func (m *Manager) recordFailure(providerID string, err error, messages []domain.ChatMessage, escalated *bool) {
	kind := classify(err)

	m.mu.Lock()

	s, ok := m.states[providerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.cooldown.Apply(s, kind, time.Now())

	m.errors = append(m.errors, domain.ErrorEntry{
		ProviderID: providerID,
		Kind:       kind,
		Message:    err.Error(),
		OccurredAt: time.Now(),
	})
	if len(m.errors) > m.cfg.MaxErrorHistory {
		m.errors = m.errors[len(m.errors)-m.cfg.MaxErrorHistory:]
	}

	m.totalFailures++
	if kind == m.repeatedErrorKind {
		m.repeatedErrorStreak++
	} else {
		m.repeatedErrorKind = kind
		m.repeatedErrorStreak = 1
	}

	crossedRepeated := m.repeatedErrorStreak == m.cfg.CongressRepeated
	crossedFailures := m.totalFailures == int64(m.cfg.CongressFailures)

	m.persistLocked()
	m.mu.Unlock()

	if (crossedRepeated || crossedFailures) && escalated != nil && !*escalated {
		*escalated = true
		m.recordEscalation(messages)
	}
}

// classify extracts the domain.ErrorKind a provider adapter attached
// to the error at the HTTP boundary, defaulting to unknown for errors
// that slipped through unclassified (should not happen for the three
// shipped adapters, but callers outside this package may not classify).
func classify(err error) domain.ErrorKind {
	var ce *provider.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return domain.ErrorKindUnknown
}

// escalationReason picks the most specific of the three trigger
// conditions: a repeated error kind or a blown failure budget take
// priority over the generic per-call exhaustion reason.
func (m *Manager) escalationReason() string {
	if m.repeatedErrorStreak >= m.cfg.CongressRepeated {
		return fmt.Sprintf("error kind %q repeated %d times consecutively", m.repeatedErrorKind, m.repeatedErrorStreak)
	}
	if m.totalFailures >= int64(m.cfg.CongressFailures) {
		return fmt.Sprintf("total failures %d exceeded threshold %d", m.totalFailures, m.cfg.CongressFailures)
	}
	return "all providers exhausted for this call"
}

func (m *Manager) recordEscalation(messages []domain.ChatMessage) {
	m.mu.Lock()
	reason := m.escalationReason()
	snapshot := m.snapshotLocked()
	errs := append([]domain.ErrorEntry(nil), m.errors...)
	m.mu.Unlock()

	if m.escalator == nil {
		return
	}

	record := domain.EscalationRecord{
		Context:   contextSummary(messages),
		Providers: snapshot,
		Errors:    errs,
		Reason:    reason,
	}

	if err := m.escalator.Write(record); err != nil {
		log.Error().Err(err).Msg("failed to write escalation record")
		return
	}

	if m.notify != nil {
		go m.notify(fmt.Sprintf("llm fallback escalation: %s", reason))
	}
}

func contextSummary(messages []domain.ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	last := messages[len(messages)-1]
	if len(last.Content) > 200 {
		return last.Content[:200]
	}
	return last.Content
}

// Snapshot returns the current provider states, for /api/llm/health.
func (m *Manager) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"providers":      m.snapshotLocked(),
		"total_failures": m.totalFailures,
	}
}

func (m *Manager) snapshotLocked() []domain.ProviderState {
	out := make([]domain.ProviderState, 0, len(m.states))
	for _, p := range m.providers {
		out = append(out, *m.states[p.ID()])
	}
	return out
}

func (m *Manager) persistLocked() {
	if m.cfg.StatePath == "" {
		return
	}
	snap := state{
		Providers: make(map[string]*domain.ProviderState, len(m.states)),
		Errors:    m.errors,
		SavedAt:   time.Now(),
	}
	for id, s := range m.states {
		cp := *s
		snap.Providers[id] = &cp
	}
	if err := persistence.WriteJSONAtomic(m.cfg.StatePath, snap); err != nil {
		log.Error().Err(err).Str("path", m.cfg.StatePath).Msg("failed to persist fallback state")
	}
}

// restore loads persisted state if present and fresh enough, clearing
// any cooldowns that have already lapsed.
func (m *Manager) restore() {
	if m.cfg.StatePath == "" {
		return
	}

	var snap state
	if err := persistence.ReadJSON(m.cfg.StatePath, &snap); err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", m.cfg.StatePath).Msg("corrupt fallback state, backing up and starting fresh")
			suffix := fmt.Sprintf(".corrupt-%d", time.Now().UnixNano())
			if bErr := persistence.BackupCorrupt(m.cfg.StatePath, suffix); bErr != nil {
				log.Error().Err(bErr).Msg("failed to back up corrupt fallback state")
			}
		}
		return
	}
	if time.Since(snap.SavedAt) >= m.cfg.StaleAfter {
		log.Info().Str("path", m.cfg.StatePath).Msg("fallback state too stale, starting fresh")
		return
	}

	now := time.Now()
	for id, s := range snap.Providers {
		if _, known := m.states[id]; !known {
			continue
		}
		m.cooldown.ClearExpired(s, now)
		m.states[id] = s
	}
	m.errors = snap.Errors
}
