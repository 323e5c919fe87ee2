// Package tasks is the orchestrator's canonical task record: every
// task ever submitted, keyed by ID, independent of whether it is
// still sitting in the pending queue. The queue package only ever
// holds tasks in TaskStatusPending; once a task is polled, completed,
// failed, cancelled, or times out, this store is its sole owner.
package tasks

import (
	"errors"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// ErrNotFound is returned for operations referencing an unknown task ID.
var ErrNotFound = errors.New("tasks: not found")

// ErrWrongWorker is returned when a worker tries to complete a task it
// was not assigned (spec §4.1 submit_result guarantee).
var ErrWrongWorker = errors.New("tasks: result submitted by non-assigned worker")

// ErrNotAssigned is returned when submit_result targets a task that is
// not currently in the assigned state.
var ErrNotAssigned = errors.New("tasks: task is not assigned")

// ErrNotCancellable is returned when cancellation is attempted on a
// task that is no longer pending (spec_full §8 task cancellation).
var ErrNotCancellable = errors.New("tasks: only pending tasks may be cancelled")

// Store is the orchestrator's full task ledger.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

// New creates an empty Store.
func New() *Store {
	return &Store{tasks: make(map[string]*domain.Task)}
}

// Add registers a newly submitted task.
func (s *Store) Add(t *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

func copyTask(t *domain.Task) *domain.Task {
	cp := *t
	if len(t.RequiredCapabilities) > 0 {
		cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	}
	return &cp
}

// Get returns a snapshot copy of a task by ID.
func (s *Store) Get(id string) (*domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return copyTask(t), true
}

// List returns snapshot copies of every task in the store.
func (s *Store) List() []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		result = append(result, copyTask(t))
	}
	return result
}

// Assign flips a task to assigned for workerID. Called by poll_task
// immediately after the queue yields the task. Returns a snapshot copy
// so the caller never touches the task pointer the store owns outside
// this lock (the same pointer the queue handed back from
// PollForWorker, before this call is the store's to mutate).
func (s *Store) Assign(taskID, workerID string, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	t.Status = domain.TaskStatusAssigned
	t.AssignedWorkerID = workerID
	t.AssignedAt = now
	return copyTask(t), nil
}

// Complete applies submit_result: only the assigned worker may
// complete a task, and only from the assigned state.
func (s *Store) Complete(taskID, workerID string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != domain.TaskStatusAssigned {
		return ErrNotAssigned
	}
	if t.AssignedWorkerID != workerID {
		return ErrWrongWorker
	}
	t.Status = domain.TaskStatusCompleted
	t.Result = result
	t.CompletedAt = time.Now()
	return nil
}

// Fail marks a task terminally failed, bypassing the assigned-worker
// check — used by shelldispatch when the execute_on_slave RPC fails.
func (s *Store) Fail(taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = domain.TaskStatusFailed
	t.FailureReason = reason
	t.CompletedAt = time.Now()
	return nil
}

// Cancel implements the supplemented DELETE /api/tasks/{id} operation:
// only a still-pending task may be cancelled (spec_full §8).
func (s *Store) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return ErrNotCancellable
	}
	t.Status = domain.TaskStatusCancelled
	t.CompletedAt = time.Now()
	return nil
}

// TimedOut marks a task timed_out directly. Nothing in the orchestrator
// calls it: the queue marks TTL-expired tasks itself, and the timeout
// sweeper requeues overdue tasks through Requeue.
func (s *Store) TimedOut(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = domain.TaskStatusTimedOut
	t.CompletedAt = time.Now()
	return nil
}

// Requeue returns an assigned task to pending after its worker died
// or its execution timed out, bumping attempt_count. If attempt_count
// reaches maxAttempts the task instead becomes failed with
// exhausted_retries and requeued is false (spec §4.1 heartbeat
// sweeper / §8 boundary behavior).
func (s *Store) Requeue(taskID string, maxAttempts int) (requeued bool, snapshot *domain.Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return false, nil, ErrNotFound
	}

	t.AttemptCount++
	t.AssignedWorkerID = ""

	if t.AttemptCount >= maxAttempts {
		t.Status = domain.TaskStatusFailed
		t.FailureReason = "exhausted_retries"
		t.CompletedAt = time.Now()
		return false, copyTask(t), nil
	}

	t.Status = domain.TaskStatusPending
	return true, copyTask(t), nil
}

// ListAssignedTo returns every task currently assigned to workerID,
// used by the heartbeat sweeper to find work held by a worker that
// just went dead.
func (s *Store) ListAssignedTo(workerID string) []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusAssigned && t.AssignedWorkerID == workerID {
			result = append(result, copyTask(t))
		}
	}
	return result
}

// ListOverdue returns assigned tasks whose assigned_at+taskTimeout has
// passed, for the timeout sweeper (spec §4.1 "Task timeout").
func (s *Store) ListOverdue(now time.Time, taskTimeout time.Duration) []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusAssigned && now.After(t.AssignedAt.Add(taskTimeout)) {
			result = append(result, copyTask(t))
		}
	}
	return result
}

// Count reports total tasks by status. /health and /api/v1/stats do not
// use it; they read the queue length and the server's own counters.
func (s *Store) Count() map[domain.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts
}
