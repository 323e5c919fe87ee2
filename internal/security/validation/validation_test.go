package validation

import (
	"runtime"
	"strings"
	"testing"

	"github.com/taskmesh/taskmesh/internal/domain"
)

func TestValidateTaskSubmission_ShellExecValid(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeShellExec,
		Priority: 5,
		Payload: domain.TaskPayload{
			Shell: &domain.ShellPayload{Command: "echo hi", WorkingDir: "/work"},
		},
	}

	if err := ValidateTaskSubmission(req); err != nil {
		t.Errorf("ValidateTaskSubmission failed for valid request: %v", err)
	}
}

func TestValidateTaskSubmission_UnknownType(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskType("no_such_type"),
		Priority: 5,
	}

	err := ValidateTaskSubmission(req)
	if err == nil {
		t.Fatal("expected error for unknown task type")
	}
	if !strings.Contains(err.Error(), "type") {
		t.Errorf("error should mention type: %v", err)
	}
}

func TestValidateTaskSubmission_PriorityOutOfRange(t *testing.T) {
	tests := []int{0, -1, 11, 100}
	for _, p := range tests {
		req := TaskSubmission{
			Type:     domain.TaskTypeShellExec,
			Priority: p,
			Payload: domain.TaskPayload{
				Shell: &domain.ShellPayload{Command: "echo hi"},
			},
		}
		if err := ValidateTaskSubmission(req); err == nil {
			t.Errorf("expected error for priority %d", p)
		}
	}
}

func TestValidateTaskSubmission_ShellMissingPayload(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeShellExec,
		Priority: 5,
	}

	err := ValidateTaskSubmission(req)
	if err == nil {
		t.Fatal("expected error for missing shell payload")
	}
	if !strings.Contains(err.Error(), "payload.shell") {
		t.Errorf("error should mention payload.shell: %v", err)
	}
}

func TestValidateTaskSubmission_ShellEmptyCommand(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeShellExec,
		Priority: 5,
		Payload: domain.TaskPayload{
			Shell: &domain.ShellPayload{Command: "   "},
		},
	}

	if err := ValidateTaskSubmission(req); err == nil {
		t.Error("expected error for blank command")
	}
}

func TestValidateTaskSubmission_ChatValid(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeLLMChat,
		Priority: 5,
		Payload: domain.TaskPayload{
			Messages: []domain.ChatMessage{{Role: "user", Content: "hello"}},
		},
	}

	if err := ValidateTaskSubmission(req); err != nil {
		t.Errorf("ValidateTaskSubmission failed for valid chat request: %v", err)
	}
}

func TestValidateTaskSubmission_ChatEmptyMessages(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeLLMChat,
		Priority: 5,
	}

	err := ValidateTaskSubmission(req)
	if err == nil {
		t.Fatal("expected error for empty chat messages")
	}
	if !strings.Contains(err.Error(), "payload.messages") {
		t.Errorf("error should mention payload.messages: %v", err)
	}
}

func TestValidateTaskSubmission_ChatMissingRole(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeLLMChat,
		Priority: 5,
		Payload: domain.TaskPayload{
			Messages: []domain.ChatMessage{{Content: "hello"}},
		},
	}

	if err := ValidateTaskSubmission(req); err == nil {
		t.Error("expected error for missing role")
	}
}

func TestValidateTaskSubmission_CodeGenerationRequiresDescription(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeCodeGeneration,
		Priority: 5,
		Payload: domain.TaskPayload{
			Code: &domain.CodeGenPayload{Language: "go"},
		},
	}

	if err := ValidateTaskSubmission(req); err == nil {
		t.Error("expected error for missing description")
	}
}

func TestValidateTaskSubmission_EvolutionRequiresParents(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeEvolutionCrossover,
		Priority: 5,
		Payload: domain.TaskPayload{
			Evolution: &domain.EvolutionPayload{},
		},
	}

	err := ValidateTaskSubmission(req)
	if err == nil {
		t.Fatal("expected error for empty parent genome IDs")
	}
	if !strings.Contains(err.Error(), "parent_genome_ids") {
		t.Errorf("error should mention parent_genome_ids: %v", err)
	}
}

func TestValidateTaskSubmission_AgentActionHasNoRequiredPayload(t *testing.T) {
	req := TaskSubmission{
		Type:     domain.TaskTypeAgentAction,
		Priority: 5,
	}

	if err := ValidateTaskSubmission(req); err != nil {
		t.Errorf("agent_action should not require a payload: %v", err)
	}
}

func TestValidateTaskSubmission_TooManyCapabilities(t *testing.T) {
	caps := make([]string, MaxCapabilitiesCount+1)
	for i := range caps {
		caps[i] = "cap"
	}
	req := TaskSubmission{
		Type:                 domain.TaskTypeAgentAction,
		Priority:             5,
		RequiredCapabilities: caps,
	}

	if err := ValidateTaskSubmission(req); err == nil {
		t.Error("expected error for too many required capabilities")
	}
}

func TestValidateWorkerRegistration(t *testing.T) {
	if err := ValidateWorkerRegistration("llm-worker", []string{"gpu"}); err != nil {
		t.Errorf("valid registration rejected: %v", err)
	}
	if err := ValidateWorkerRegistration("", nil); err == nil {
		t.Error("expected error for empty worker_type")
	}
	if err := ValidateWorkerRegistration("llm-worker", []string{""}); err == nil {
		t.Error("expected error for empty capability entry")
	}
}

func TestValidateSlaveRegistration(t *testing.T) {
	validToken := strings.Repeat("a", 32)

	if err := ValidateSlaveRegistration("slave-1.internal", 9443, validToken); err != nil {
		t.Errorf("valid registration rejected: %v", err)
	}
	if err := ValidateSlaveRegistration("", 9443, validToken); err == nil {
		t.Error("expected error for empty host")
	}
	if err := ValidateSlaveRegistration("slave-1.internal", 0, validToken); err == nil {
		t.Error("expected error for port 0")
	}
	if err := ValidateSlaveRegistration("slave-1.internal", 70000, validToken); err == nil {
		t.Error("expected error for port out of range")
	}
	if err := ValidateSlaveRegistration("slave-1.internal", 9443, "short"); err == nil {
		t.Error("expected error for short auth token")
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"empty", "", false},
		{"with space", "task 123", false},
		{"with special chars", "task@123", false},
		{"with semicolon", "task;123", false},
		{"valid dash", "task-123", true},
		{"valid underscore", "task_123", true},
		{"valid uuid-ish", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID("task_id", tt.id)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateID(%q) err=%v, want valid=%v", tt.id, err, tt.valid)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	type testCase struct {
		name     string
		basePath string
		path     string
		want     string
	}

	var tests []testCase

	if runtime.GOOS == "windows" {
		tests = []testCase{
			{
				name:     "valid relative path",
				basePath: "C:\\workspace",
				path:     "src\\main.c",
				want:     "C:\\workspace\\src\\main.c",
			},
			{
				name:     "blocks path traversal",
				basePath: "C:\\workspace",
				path:     "..\\..\\..\\Windows\\System32",
				want:     "",
			},
			{
				name:     "blocks absolute escape",
				basePath: "C:\\workspace",
				path:     "C:\\Windows\\System32",
				want:     "",
			},
			{
				name:     "allows subpath of base",
				basePath: "C:\\workspace",
				path:     "C:\\workspace\\src\\main.c",
				want:     "C:\\workspace\\src\\main.c",
			},
			{
				name:     "blocks reserved names",
				basePath: "C:\\workspace",
				path:     "CON",
				want:     "",
			},
			{
				name:     "blocks reserved names with extension",
				basePath: "C:\\workspace",
				path:     "NUL.txt",
				want:     "",
			},
			{
				name:     "empty path",
				basePath: "C:\\workspace",
				path:     "",
				want:     "",
			},
		}
	} else {
		tests = []testCase{
			{
				name:     "valid relative path",
				basePath: "/workspace",
				path:     "src/main.c",
				want:     "/workspace/src/main.c",
			},
			{
				name:     "blocks path traversal",
				basePath: "/workspace",
				path:     "../../../etc/passwd",
				want:     "",
			},
			{
				name:     "blocks absolute escape",
				basePath: "/workspace",
				path:     "/etc/passwd",
				want:     "",
			},
			{
				name:     "allows subpath of base",
				basePath: "/workspace",
				path:     "/workspace/src/main.c",
				want:     "/workspace/src/main.c",
			},
			{
				name:     "empty path",
				basePath: "/workspace",
				path:     "",
				want:     "",
			},
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(tt.basePath, tt.path)
			if got != tt.want {
				t.Errorf("SanitizePath(%q, %q) = %q, want %q", tt.basePath, tt.path, got, tt.want)
			}
		})
	}
}

func TestWindowsPathValidation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"valid path", "foo/bar.txt", true},
		{"reserved name CON", "CON", false},
		{"reserved name PRN", "PRN", false},
		{"reserved name with ext", "NUL.txt", false},
		{"reserved name COM1", "COM1", false},
		{"invalid char <", "foo<bar", false},
		{"invalid char >", "foo>bar", false},
		{"invalid char : in filename", "foo:bar", false},
		{"invalid char |", "foo|bar", false},
		{"invalid char ?", "foo?bar", false},
		{"invalid char *", "foo*bar", false},
		{"valid with numbers", "abc123", true},
		{"valid drive letter C:", "C:\\folder\\file.txt", true},
		{"valid drive letter D:", "D:\\test", true},
		{"invalid colon after drive", "C:\\foo:bar", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errMsg := ValidatePathForWindows(tt.path)
			isValid := errMsg == ""
			if isValid != tt.valid {
				t.Errorf("ValidatePathForWindows(%q) = %q, want valid=%v", tt.path, errMsg, tt.valid)
			}
		})
	}
}

func TestValidateDockerImage(t *testing.T) {
	tests := []struct {
		name  string
		image string
		valid bool
	}{
		{"empty is valid", "", true},
		{"simple name", "ubuntu", true},
		{"with tag", "ubuntu:20.04", true},
		{"with registry", "docker.io/library/ubuntu:20.04", true},
		{"with digest", "ubuntu@sha256:abc123", true},
		{"shell injection", "ubuntu;rm -rf /", false},
		{"command substitution", "$(whoami)/image", false},
		{"pipe", "image|cat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDockerImage(tt.image)
			if got != tt.valid {
				t.Errorf("ValidateDockerImage(%q) = %v, want %v", tt.image, got, tt.valid)
			}
		})
	}
}

func TestIsHexString(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"abc123", true},
		{"ABC123", true},
		{"abc123def456", true},
		{"", false},
		{"abc", false}, // Odd length
		{"ghijkl", false},
		{"abc 123", false},
	}

	for _, tt := range tests {
		got := isHexString(tt.s)
		if got != tt.want {
			t.Errorf("isHexString(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestMultiError(t *testing.T) {
	errs := &MultiError{}

	if errs.HasErrors() {
		t.Error("Empty MultiError should not have errors")
	}
	if errs.ToError() != nil {
		t.Error("Empty MultiError.ToError() should return nil")
	}

	errs.Add("field1", "error1")
	if !errs.HasErrors() {
		t.Error("MultiError with errors should report HasErrors")
	}
	if errs.ToError() == nil {
		t.Error("MultiError.ToError() should return error")
	}
	if !strings.Contains(errs.Error(), "field1") {
		t.Error("Error should contain field name")
	}

	errs.Add("field2", "error2")
	if !strings.Contains(errs.Error(), "and 1 more") {
		t.Errorf("Error should mention additional errors: %v", errs.Error())
	}
}
