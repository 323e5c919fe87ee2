// Package queue holds the orchestrator's pending-task store: a
// priority heap ordered by (priority desc, created_at asc), with a
// capability-aware PollForWorker that returns the highest-priority
// task a given worker can actually run.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// ErrTaskNotFound is returned when an operation references an unknown
// or already-resolved task ID.
var ErrTaskNotFound = errors.New("queue: task not found")

// ErrNoMatch is returned by PollForWorker when nothing pending
// satisfies the requesting worker's capabilities.
var ErrNoMatch = errors.New("queue: no matching task")

type taskItem struct {
	task  *domain.Task
	index int
}

type priorityHeap []*taskItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	n := len(*h)
	item := x.(*taskItem)
	item.index = n
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// Queue is the orchestrator's pending-task store.
type Queue struct {
	mu      sync.Mutex
	pending priorityHeap
	index   map[string]*taskItem
}

// New creates an empty Queue.
func New() *Queue {
	q := &Queue{
		pending: make(priorityHeap, 0),
		index:   make(map[string]*taskItem),
	}
	heap.Init(&q.pending)
	return q
}

// Enqueue adds a pending task.
func (q *Queue) Enqueue(task *domain.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &taskItem{task: task}
	heap.Push(&q.pending, item)
	q.index[task.ID] = item
}

// PollForWorker returns and removes the highest-priority pending task
// whose required_capabilities are satisfied by caps, skipping expired
// tasks entirely (they are dropped, not returned). Scans in priority
// order; on a large backlog this is O(n) in the worst case, which is
// acceptable at the scale this core targets.
func (q *Queue) PollForWorker(caps []string, now time.Time) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*taskItem
	var match *domain.Task

	for q.pending.Len() > 0 {
		item := heap.Pop(&q.pending).(*taskItem)
		delete(q.index, item.task.ID)

		if item.task.Expired(now) {
			item.task.Status = domain.TaskStatusTimedOut
			continue
		}

		worker := &domain.Worker{Capabilities: caps}
		if worker.HasCapabilities(item.task.RequiredCapabilities) {
			match = item.task
			break
		}
		skipped = append(skipped, item)
	}

	for _, item := range skipped {
		heap.Push(&q.pending, item)
		q.index[item.task.ID] = item
	}

	if match == nil {
		return nil, ErrNoMatch
	}
	return match, nil
}

// Remove drops a pending task by ID (used on explicit cancellation).
func (q *Queue) Remove(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	heap.Remove(&q.pending, item.index)
	delete(q.index, taskID)
	return nil
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Snapshot returns a copy of all pending tasks, priority order not
// guaranteed.
func (q *Queue) Snapshot() []*domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]*domain.Task, 0, len(q.pending))
	for _, item := range q.pending {
		result = append(result, item.task)
	}
	return result
}
