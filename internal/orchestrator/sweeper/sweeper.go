// Package sweeper runs the orchestrator's two background liveness
// passes (spec §4.1): a heartbeat sweep that marks silent workers
// dead and requeues whatever they held, and a timeout sweep that
// reclaims tasks whose assigned_at+task_timeout has elapsed
// regardless of their worker's heartbeat. Grounded on the teacher's
// registry cleanupLoop/cleanupStaleWorkers, generalized to also touch
// the task queue/store — the teacher's version only ever flipped
// worker status.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/orchestrator/queue"
	"github.com/taskmesh/taskmesh/internal/orchestrator/registry"
	"github.com/taskmesh/taskmesh/internal/orchestrator/tasks"
)

// Config tunes the two sweep intervals and the liveness/retry budget.
type Config struct {
	HeartbeatTimeout     time.Duration
	SweepInterval        time.Duration
	TimeoutSweepInterval time.Duration
	TaskTimeout          time.Duration
	MaxAttempts          int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout:     60 * time.Second,
		SweepInterval:        1 * time.Second,
		TimeoutSweepInterval: 5 * time.Second,
		TaskTimeout:          5 * time.Minute,
		MaxAttempts:          3,
	}
}

// Sweeper owns the two background loops.
type Sweeper struct {
	cfg   Config
	reg   registry.Registry
	queue *queue.Queue
	store *tasks.Store
}

// New constructs a Sweeper over the given registry, queue and store.
func New(cfg Config, reg registry.Registry, q *queue.Queue, store *tasks.Store) *Sweeper {
	return &Sweeper{cfg: cfg, reg: reg, queue: q, store: store}
}

// Run blocks, driving both sweep loops until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	go s.heartbeatLoop(ctx)
	s.timeoutLoop(ctx)
}

func (s *Sweeper) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepHeartbeats(time.Now())
		}
	}
}

func (s *Sweeper) timeoutLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TimeoutSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepTimeouts(time.Now())
		}
	}
}

// sweepHeartbeats marks silent workers dead and returns any task each
// one was holding to the pending queue, incrementing attempt_count
// (or failing it with exhausted_retries at max_attempts).
func (s *Sweeper) sweepHeartbeats(now time.Time) {
	deadWorkers := s.reg.SweepDead(now, s.cfg.HeartbeatTimeout)
	for _, w := range deadWorkers {
		s.requeueHeldTasks(w)
	}
}

func (s *Sweeper) requeueHeldTasks(w *domain.Worker) {
	held := s.store.ListAssignedTo(w.ID)
	for _, t := range held {
		s.requeueOne(t.ID, "worker missed heartbeat deadline")
	}
}

// sweepTimeouts reclaims assigned tasks whose deadline has passed,
// independent of the worker's own heartbeat status (a worker can be
// alive and simply stuck on one task past its budget).
func (s *Sweeper) sweepTimeouts(now time.Time) {
	overdue := s.store.ListOverdue(now, s.cfg.TaskTimeout)
	for _, t := range overdue {
		s.requeueOne(t.ID, "task execution exceeded task_timeout")
		if t.AssignedWorkerID != "" {
			_ = s.reg.UpdateStatus(t.AssignedWorkerID, domain.WorkerStatusDead)
		}
	}
}

func (s *Sweeper) requeueOne(taskID, reason string) {
	requeued, snapshot, err := s.store.Requeue(taskID, s.cfg.MaxAttempts)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("sweeper: failed to requeue task")
		return
	}

	if requeued {
		log.Info().
			Str("task_id", taskID).
			Str("reason", reason).
			Int("attempt_count", snapshot.AttemptCount).
			Msg("task requeued")
		s.queue.Enqueue(snapshot)
		return
	}

	log.Warn().
		Str("task_id", taskID).
		Int("attempt_count", snapshot.AttemptCount).
		Msg("task exhausted retries, marked failed")
}
