package queue

import (
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

func newTask(priority int, caps []string) *domain.Task {
	t := domain.NewTask(domain.TaskTypeLLMChat, domain.TaskPayload{
		Messages: []domain.ChatMessage{{Role: "user", Content: "hi"}},
	}, priority, caps)
	return t
}

func TestPollForWorkerPriorityOrder(t *testing.T) {
	q := New()
	low := newTask(1, nil)
	high := newTask(9, nil)
	q.Enqueue(low)
	time.Sleep(time.Millisecond)
	q.Enqueue(high)

	got, err := q.PollForWorker(nil, time.Now())
	if err != nil {
		t.Fatalf("PollForWorker: %v", err)
	}
	if got.ID != high.ID {
		t.Errorf("expected high priority task first, got %s", got.ID)
	}
}

func TestPollForWorkerCapabilityMatch(t *testing.T) {
	q := New()
	needsDocker := newTask(5, []string{"docker"})
	plain := newTask(5, nil)
	q.Enqueue(needsDocker)
	q.Enqueue(plain)

	got, err := q.PollForWorker([]string{"llm_chat"}, time.Now())
	if err != nil {
		t.Fatalf("PollForWorker: %v", err)
	}
	if got.ID != plain.ID {
		t.Errorf("expected capability-satisfied task, got %s", got.ID)
	}

	if q.Len() != 1 {
		t.Errorf("expected 1 remaining task, got %d", q.Len())
	}
}

func TestPollForWorkerNoMatch(t *testing.T) {
	q := New()
	q.Enqueue(newTask(5, []string{"docker"}))

	_, err := q.PollForWorker([]string{"llm_chat"}, time.Now())
	if err != ErrNoMatch {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("non-matching task should remain queued, got len %d", q.Len())
	}
}

func TestPollForWorkerDropsExpired(t *testing.T) {
	q := New()
	task := newTask(5, nil)
	past := time.Now().Add(-time.Minute)
	task.ExpiresAt = &past
	q.Enqueue(task)

	_, err := q.PollForWorker(nil, time.Now())
	if err != ErrNoMatch {
		t.Errorf("expected ErrNoMatch after expiry drop, got %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expired task should be dropped, got len %d", q.Len())
	}
	if task.Status != domain.TaskStatusTimedOut {
		t.Errorf("expected task marked timed_out, got %s", task.Status)
	}
}

func TestRemove(t *testing.T) {
	q := New()
	task := newTask(1, nil)
	q.Enqueue(task)

	if err := q.Remove(task.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
	if err := q.Remove(task.ID); err != ErrTaskNotFound {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}
