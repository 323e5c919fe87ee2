package executor

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// VenvExecutor runs a command inside an activated Python-style
// virtualenv, grounded on NativeExecutor's exec.CommandContext capture
// pattern with an activation-script prefix ahead of the command.
type VenvExecutor struct {
	path string
}

// NewVenvExecutor returns a VenvExecutor activating the venv at path.
func NewVenvExecutor(path string) *VenvExecutor {
	return &VenvExecutor{path: path}
}

// Name returns the executor name.
func (e *VenvExecutor) Name() string { return "venv" }

// Execute runs req.Command after sourcing the venv's activate script.
func (e *VenvExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	script := fmt.Sprintf(". %s/bin/activate && %s", e.path, req.Command)
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = req.WorkingDir

	stdout := newCapture(req.MaxOutputBytes)
	stderr := newCapture(req.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Method:    e.Name(),
		Duration:  duration,
		Truncated: stdout.truncated || stderr.truncated,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.Success = false
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			result.Success = false
			return result, nil
		}
		return nil, err
	}

	result.Success = true
	result.ExitCode = 0
	return result, nil
}
