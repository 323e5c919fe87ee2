// Package shelldispatch bridges the orchestrator's task queue to the
// Slave Manager for shell_exec tasks. Slaves don't poll like LLM/agent
// workers (spec §4.3: the master dials them directly over HTTP), so
// this loop plays the role poll_task/submit_result play for ordinary
// workers, grounded on the same dequeue-assign-complete shape as
// internal/orchestrator/server's handlePollTask/handleSubmitResult
// with the transport swapped from inbound HTTP to an outbound
// execute_on_slave call.
package shelldispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/orchestrator/queue"
	"github.com/taskmesh/taskmesh/internal/orchestrator/tasks"
	"github.com/taskmesh/taskmesh/internal/slave/manager"
)

// Config tunes the dispatch loop's polling cadence.
type Config struct {
	PollInterval time.Duration
}

// DefaultConfig returns a reasonable polling cadence for pulling
// shell_exec work off the queue between slave availability checks.
func DefaultConfig() Config {
	return Config{PollInterval: 500 * time.Millisecond}
}

// Dispatcher drains shell_exec tasks from the queue onto whichever
// registered slave is selectable, completing or failing each task in
// the store exactly as a poll-based worker's submit_result would.
type Dispatcher struct {
	cfg      Config
	queue    *queue.Queue
	store    *tasks.Store
	slaveMgr *manager.Manager
}

// New constructs a Dispatcher over the given queue/store/slave manager.
func New(cfg Config, q *queue.Queue, store *tasks.Store, slaveMgr *manager.Manager) *Dispatcher {
	return &Dispatcher{cfg: cfg, queue: q, store: store, slaveMgr: slaveMgr}
}

// Run blocks, dispatching shell_exec tasks to selectable slaves until
// ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchOnce(ctx)
		}
	}
}

// dispatchOnce dispatches at most one shell_exec task per selectable
// slave per tick, mirroring the bounded, short-critical-section scan
// the spec's scheduling algorithm calls for (§4.1).
func (d *Dispatcher) dispatchOnce(ctx context.Context) {
	for _, slave := range d.slaveMgr.List() {
		if !slave.Selectable() {
			continue
		}

		task, err := d.queue.PollForWorker(slave.ExecutionMethods, time.Now())
		if err != nil {
			continue
		}
		if task.Type != domain.TaskTypeShellExec || task.Payload.Shell == nil {
			// Not a shell task: put it back so a real worker can poll
			// it; this slave's capability set just happened to match.
			d.queue.Enqueue(task)
			continue
		}

		workerID := "slave:" + slave.ID
		if _, err := d.store.Assign(task.ID, workerID, time.Now()); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("shelldispatch: assign failed")
			continue
		}

		go d.execute(ctx, slave.ID, workerID, task)
	}
}

func (d *Dispatcher) execute(ctx context.Context, slaveID, workerID string, task *domain.Task) {
	result, err := d.slaveMgr.ExecuteOnSlave(ctx, slaveID, task.Payload.Shell.Command, task.Payload.Shell.WorkingDir, 0)
	if err != nil {
		reason := fmt.Sprintf("slave execution rpc failed: %v", err)
		if ferr := d.store.Fail(task.ID, reason); ferr != nil {
			log.Error().Err(ferr).Str("task_id", task.ID).Msg("shelldispatch: failing task after rpc error also failed")
		}
		log.Warn().Str("task_id", task.ID).Str("slave_id", slaveID).Err(err).Msg("shell_exec rpc failed")
		return
	}

	// A non-zero exit code is a successful RPC but an unsuccessful
	// task outcome (spec §4.3 failure semantics) — the caller
	// distinguishes via exit_code, so the task still completes.
	if err := d.store.Complete(task.ID, workerID, result); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("shelldispatch: complete failed")
		return
	}
	log.Info().Str("task_id", task.ID).Str("slave_id", slaveID).Int("exit_code", result.ExitCode).Msg("shell_exec dispatched")
}
