// Package domain holds the shared types routed between the orchestrator,
// LLM fallback manager, and slave manager. Payloads are modeled as a
// tagged union over TaskType rather than protobuf oneofs: the envelope
// (ID, Type, Priority, …) is uniform, the payload varies by type.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType is the closed set of work a producer may submit.
type TaskType string

const (
	TaskTypeAgentAction        TaskType = "agent_action"
	TaskTypeLLMChat            TaskType = "llm_chat"
	TaskTypeEvolutionCrossover TaskType = "evolution_crossover"
	TaskTypeEvolutionMutation  TaskType = "evolution_mutation"
	TaskTypeCodeGeneration     TaskType = "code_generation"
	TaskTypeShellExec          TaskType = "shell_exec"
)

// Valid reports whether t is one of the closed task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeAgentAction, TaskTypeLLMChat, TaskTypeEvolutionCrossover,
		TaskTypeEvolutionMutation, TaskTypeCodeGeneration, TaskTypeShellExec:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a Task. completed, failed,
// timed_out, and cancelled are terminal: once reached a task never
// transitions again.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether s is a terminal status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimedOut, TaskStatusCancelled:
		return true
	}
	return false
}

// ChatMessage is one turn of an llm_chat payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CodeGenPayload carries a code_generation request.
type CodeGenPayload struct {
	Language    string `json:"language"`
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
}

// ShellPayload carries a shell_exec request: a command plus working
// directory, dispatched to a slave.
type ShellPayload struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
}

// EvolutionPayload carries evolution_crossover/evolution_mutation genome
// references. The genome content itself is opaque to the core — it is
// owned by the agent/evolution population (out of scope, §1).
type EvolutionPayload struct {
	ParentGenomeIDs []string `json:"parent_genome_ids"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// TaskPayload is the tagged union over TaskType. Exactly one field is
// populated, selected by the enclosing Task's Type.
type TaskPayload struct {
	Messages  []ChatMessage     `json:"messages,omitempty"`
	Code      *CodeGenPayload   `json:"code,omitempty"`
	Shell     *ShellPayload     `json:"shell,omitempty"`
	Evolution *EvolutionPayload `json:"evolution,omitempty"`
	Action    map[string]any    `json:"action,omitempty"`
}

// Task is the atomic unit of work routed by the orchestrator.
type Task struct {
	ID                   string       `json:"task_id"`
	Type                 TaskType     `json:"task_type"`
	Payload              TaskPayload  `json:"payload"`
	Priority             int          `json:"priority"`
	RequiredCapabilities []string     `json:"required_capabilities"`
	Status               TaskStatus   `json:"status"`
	AssignedWorkerID     string       `json:"assigned_worker_id,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	AssignedAt           time.Time    `json:"assigned_at,omitempty"`
	CompletedAt          time.Time    `json:"completed_at,omitempty"`
	ExpiresAt            *time.Time   `json:"expires_at,omitempty"`
	Result               any          `json:"result,omitempty"`
	FailureReason        string       `json:"failure_reason,omitempty"`
	AttemptCount         int          `json:"attempt_count"`
}

// NewTask constructs a pending task with a fresh ID and timestamp.
func NewTask(taskType TaskType, payload TaskPayload, priority int, caps []string) *Task {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return &Task{
		ID:                   uuid.New().String(),
		Type:                 taskType,
		Payload:              payload,
		Priority:             priority,
		RequiredCapabilities: caps,
		Status:               TaskStatusPending,
		CreatedAt:            time.Now(),
	}
}

// Expired reports whether the task's producer-supplied TTL has passed.
func (t *Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
