// Package validation enforces shape and bound checks on inbound wire
// requests before they reach orchestrator or slave business logic.
// Grounded on the teacher's internal/security/validation/request.go
// MultiError/Error accumulation pattern, retargeted from protobuf
// Build/Compile/Handshake requests to this domain's task submission
// and registration requests.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/taskmesh/taskmesh/internal/domain"
)

const (
	// MaxTaskIDLength is the maximum length of a task or worker ID.
	MaxTaskIDLength = 128

	// MaxCapabilitiesCount bounds the required_capabilities/capabilities list.
	MaxCapabilitiesCount = 64

	// MaxPayloadStringLength bounds individual string fields of a task
	// payload (shell command, code-gen description, chat message content).
	MaxPayloadStringLength = 65536

	// MaxChatMessages bounds an llm_chat task's message history.
	MaxChatMessages = 256

	// MaxHostLength bounds a slave's advertised host/address.
	MaxHostLength = 253
)

// taskIDRegex validates task/worker IDs (alphanumeric, dash, underscore).
var taskIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Error represents a validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects multiple validation errors.
type MultiError struct {
	Errors []*Error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", m.Errors[0].Error(), len(m.Errors)-1)
}

func (m *MultiError) Add(field, message string) {
	m.Errors = append(m.Errors, &Error{Field: field, Message: message})
}

func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// TaskSubmission is the shape of an inbound POST /api/tasks/submit
// request, validated before domain.NewTask is constructed.
type TaskSubmission struct {
	Type                 domain.TaskType
	Payload              domain.TaskPayload
	Priority             int
	RequiredCapabilities []string
}

// ValidateTaskSubmission checks that req names a known task type, that
// its priority is in range, that its capability list is sane, and that
// its payload carries the fields that type requires.
func ValidateTaskSubmission(req TaskSubmission) error {
	errs := &MultiError{}

	if !req.Type.Valid() {
		errs.Add("type", fmt.Sprintf("unknown task type %q", req.Type))
	}

	if req.Priority < 1 || req.Priority > 10 {
		errs.Add("priority", "must be between 1 and 10")
	}

	if len(req.RequiredCapabilities) > MaxCapabilitiesCount {
		errs.Add("required_capabilities", fmt.Sprintf("must have <= %d entries", MaxCapabilitiesCount))
	}
	for _, c := range req.RequiredCapabilities {
		if c == "" {
			errs.Add("required_capabilities", "must not contain empty entries")
			break
		}
	}

	validatePayload(errs, req.Type, req.Payload)

	return errs.ToError()
}

func validatePayload(errs *MultiError, taskType domain.TaskType, payload domain.TaskPayload) {
	switch taskType {
	case domain.TaskTypeShellExec:
		if payload.Shell == nil {
			errs.Add("payload.shell", "required for shell_exec tasks")
			return
		}
		if strings.TrimSpace(payload.Shell.Command) == "" {
			errs.Add("payload.shell.command", "must not be empty")
		}
		if len(payload.Shell.Command) > MaxPayloadStringLength {
			errs.Add("payload.shell.command", fmt.Sprintf("must be <= %d characters", MaxPayloadStringLength))
		}

	case domain.TaskTypeLLMChat:
		if len(payload.Messages) == 0 {
			errs.Add("payload.messages", "must contain at least one message")
			return
		}
		if len(payload.Messages) > MaxChatMessages {
			errs.Add("payload.messages", fmt.Sprintf("must have <= %d messages", MaxChatMessages))
		}
		for i, msg := range payload.Messages {
			if msg.Role == "" {
				errs.Add(fmt.Sprintf("payload.messages[%d].role", i), "must not be empty")
			}
			if len(msg.Content) > MaxPayloadStringLength {
				errs.Add(fmt.Sprintf("payload.messages[%d].content", i), fmt.Sprintf("must be <= %d characters", MaxPayloadStringLength))
			}
		}

	case domain.TaskTypeCodeGeneration:
		if payload.Code == nil {
			errs.Add("payload.code", "required for code_generation tasks")
			return
		}
		if strings.TrimSpace(payload.Code.Description) == "" {
			errs.Add("payload.code.description", "must not be empty")
		}

	case domain.TaskTypeEvolutionCrossover, domain.TaskTypeEvolutionMutation:
		if payload.Evolution == nil {
			errs.Add("payload.evolution", fmt.Sprintf("required for %s tasks", taskType))
			return
		}
		if len(payload.Evolution.ParentGenomeIDs) == 0 {
			errs.Add("payload.evolution.parent_genome_ids", "must not be empty")
		}

	case domain.TaskTypeAgentAction:
		// No payload shape is mandated; agent_action is a worker-defined
		// extension point (spec §1 non-goal).
	}
}

// ValidateWorkerRegistration checks a POST /api/workers/register request.
func ValidateWorkerRegistration(workerType string, capabilities []string) error {
	errs := &MultiError{}

	if strings.TrimSpace(workerType) == "" {
		errs.Add("worker_type", "required")
	}
	if len(workerType) > MaxTaskIDLength {
		errs.Add("worker_type", fmt.Sprintf("must be <= %d characters", MaxTaskIDLength))
	}
	if len(capabilities) > MaxCapabilitiesCount {
		errs.Add("capabilities", fmt.Sprintf("must have <= %d entries", MaxCapabilitiesCount))
	}
	for _, c := range capabilities {
		if c == "" {
			errs.Add("capabilities", "must not contain empty entries")
			break
		}
	}

	return errs.ToError()
}

// ValidateSlaveRegistration checks a new slave's self-reported identity
// before it is added to the slave manager's registry.
func ValidateSlaveRegistration(host string, port int, authToken string) error {
	errs := &MultiError{}

	if strings.TrimSpace(host) == "" {
		errs.Add("host", "required")
	}
	if len(host) > MaxHostLength {
		errs.Add("host", fmt.Sprintf("must be <= %d characters", MaxHostLength))
	}
	if port < 1 || port > 65535 {
		errs.Add("port", "must be between 1 and 65535")
	}
	if len(authToken) < 32 {
		errs.Add("auth_token", "must be at least 32 characters")
	}

	return errs.ToError()
}

// ValidateID checks a caller-supplied task or worker ID is a bounded,
// path-safe identifier.
func ValidateID(field, id string) error {
	if id == "" {
		return &Error{Field: field, Message: "required"}
	}
	if len(id) > MaxTaskIDLength {
		return &Error{Field: field, Message: fmt.Sprintf("must be <= %d characters", MaxTaskIDLength)}
	}
	if !taskIDRegex.MatchString(id) {
		return &Error{Field: field, Message: "must contain only alphanumeric, dash, or underscore"}
	}
	return nil
}

// isHexString reports whether s is a non-empty, even-length hex string.
// No validator in this package calls it.
func isHexString(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
