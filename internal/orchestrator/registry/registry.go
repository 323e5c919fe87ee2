// Package registry tracks registered workers and their liveness,
// matching tasks to workers by tag-set capability.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// Registry manages registered workers.
type Registry interface {
	// Add registers a new worker, or refreshes an existing registration.
	Add(worker *domain.Worker) error

	// Remove unregisters a worker by ID.
	Remove(id string) error

	// Get returns a worker by ID.
	Get(id string) (*domain.Worker, bool)

	// List returns all registered workers.
	List() []*domain.Worker

	// ListByCapabilities returns live workers satisfying required.
	ListByCapabilities(required []string) []*domain.Worker

	// UpdateStatus updates a worker's status.
	UpdateStatus(id string, status domain.WorkerStatus) error

	// Heartbeat refreshes a worker's last-heartbeat time.
	Heartbeat(id string) error

	// AssignTask records that id has been handed taskID.
	AssignTask(id, taskID string) error

	// CompleteTask clears a worker's assignment and bumps its counters.
	CompleteTask(id string, success bool) error

	// Count returns the number of registered workers.
	Count() int

	// SweepDead marks any worker whose last heartbeat is strictly
	// older than ttl as dead and returns the workers that just made
	// that transition, so a caller (the orchestrator sweeper) can
	// requeue whatever task each one was holding. A worker already
	// dead is not returned again.
	SweepDead(now time.Time, ttl time.Duration) []*domain.Worker
}

// InMemoryRegistry implements Registry with in-memory storage. It does
// not run its own background sweep: liveness sweeping is owned by
// internal/orchestrator/sweeper so that marking a worker dead and
// requeuing the task it held happen under one coordinated pass, always
// taking the worker-registry lock before the task-queue lock.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	workers map[string]*domain.Worker
}

// NewInMemoryRegistry creates a new in-memory registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		workers: make(map[string]*domain.Worker),
	}
}

// Add registers a new worker or refreshes an existing one's metadata.
func (r *InMemoryRegistry) Add(worker *domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.workers[worker.ID]; exists {
		existing.Capabilities = worker.Capabilities
		existing.Endpoint = worker.Endpoint
		existing.Type = worker.Type
		existing.LastHeartbeat = time.Now()
		if existing.Status == domain.WorkerStatusDead {
			existing.Status = domain.WorkerStatusOnline
		}
		return nil
	}

	worker.RegisteredAt = time.Now()
	worker.LastHeartbeat = time.Now()
	worker.Status = domain.WorkerStatusOnline
	r.workers[worker.ID] = worker

	return nil
}

// Remove unregisters a worker.
func (r *InMemoryRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; !exists {
		return fmt.Errorf("worker %s not found", id)
	}

	delete(r.workers, id)
	return nil
}

// Get returns a worker by ID.
func (r *InMemoryRegistry) Get(id string) (*domain.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	worker, ok := r.workers[id]
	if !ok {
		return nil, false
	}

	cp := *worker
	return &cp, true
}

// List returns all registered workers.
func (r *InMemoryRegistry) List() []*domain.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		result = append(result, &cp)
	}
	return result
}

// ListByCapabilities returns online workers satisfying required.
// Liveness is the registry's own notion of status (set by SweepDead),
// not recomputed from last_heartbeat here, so that a worker between
// heartbeats and its next sweep is still schedulable — a heartbeat
// exactly at the timeout boundary still counts as alive.
func (r *InMemoryRegistry) ListByCapabilities(required []string) []*domain.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Worker, 0)
	for _, w := range r.workers {
		if w.Status != domain.WorkerStatusOnline {
			continue
		}
		if !w.HasCapabilities(required) {
			continue
		}
		cp := *w
		result = append(result, &cp)
	}
	return result
}

// UpdateStatus updates a worker's status.
func (r *InMemoryRegistry) UpdateStatus(id string, status domain.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not found", id)
	}

	worker.Status = status
	return nil
}

// Heartbeat refreshes a worker's last-heartbeat time and revives it if
// it had previously been marked dead.
func (r *InMemoryRegistry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not found", id)
	}

	worker.LastHeartbeat = time.Now()
	if worker.Status == domain.WorkerStatusDead {
		worker.Status = domain.WorkerStatusOnline
	}
	return nil
}

// AssignTask records that id has been handed taskID and flips it busy.
func (r *InMemoryRegistry) AssignTask(id, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not found", id)
	}

	worker.AssignedTaskID = taskID
	worker.Status = domain.WorkerStatusBusy
	return nil
}

// CompleteTask clears a worker's assignment, bumps its counters, and
// returns it to online status.
func (r *InMemoryRegistry) CompleteTask(id string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	worker, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("worker %s not found", id)
	}

	worker.AssignedTaskID = ""
	if success {
		worker.TasksCompleted++
	} else {
		worker.TasksFailed++
	}
	if worker.Status == domain.WorkerStatusBusy {
		worker.Status = domain.WorkerStatusOnline
	}
	return nil
}

// Count returns the number of registered workers.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// SweepDead marks workers dead if they've missed their heartbeat
// deadline and returns the ones that just transitioned, copies safe
// for the caller to inspect (including the AssignedTaskID it was
// holding) after the registry lock is released.
func (r *InMemoryRegistry) SweepDead(now time.Time, ttl time.Duration) []*domain.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	var newlyDead []*domain.Worker
	for _, w := range r.workers {
		if w.Status != domain.WorkerStatusDead && now.Sub(w.LastHeartbeat) > ttl {
			log.Warn().Str("worker_id", w.ID).Msg("worker missed heartbeat deadline, marking dead")
			w.Status = domain.WorkerStatusDead
			cp := *w
			newlyDead = append(newlyDead, &cp)
		}
	}
	return newlyDead
}
