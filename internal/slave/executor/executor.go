// Package executor runs shell_exec tasks on a slave host, dispatching
// to whichever execution method the task (or the slave's own
// preference order) selects. Grounded on the teacher's
// internal/worker/executor/executor.go Manager/Executor shape, with
// the compiler cross-arch selection replaced by the spec's `docker >
// venv > native` install-method preference.
package executor

import (
	"bytes"
	"context"
	"time"
)

// Result is the outcome of running a command.
type Result struct {
	Success   bool
	Stdout    string
	Stderr    string
	ExitCode  int
	Method    string
	Duration  time.Duration
	Truncated bool
}

// Request describes a command to run on behalf of a shell_exec task.
type Request struct {
	TaskID         string
	Command        string
	WorkingDir     string
	Timeout        time.Duration
	MaxOutputBytes int
}

// Executor runs a single command via one execution method.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
	Name() string
}

// Manager selects an Executor per the slave's advertised execution
// methods, preferring docker > venv > native (spec §4.3).
type Manager struct {
	native *NativeExecutor
	docker *DockerExecutor
	venv   *VenvExecutor
}

// NewManager builds a Manager. docker/venv are nil when unavailable;
// native is always present.
func NewManager(docker *DockerExecutor, venv *VenvExecutor) *Manager {
	return &Manager{
		native: NewNativeExecutor(),
		docker: docker,
		venv:   venv,
	}
}

// Select returns the best available executor given the slave's
// advertised execution methods, in docker > venv > native order. An
// empty advertised list allows any configured executor, in that order;
// a list naming no configured docker/venv executor falls back to native.
func (m *Manager) Select(advertised []string) Executor {
	has := make(map[string]bool, len(advertised))
	for _, a := range advertised {
		has[a] = true
	}

	if m.docker != nil && (len(advertised) == 0 || has["docker"]) {
		return m.docker
	}
	if m.venv != nil && (len(advertised) == 0 || has["venv"]) {
		return m.venv
	}
	return m.native
}

// capture is a fixed-size sink for one stdout/stderr stream: it keeps
// only the last maxBytes written, matching the "tail is kept" rule in
// spec §4.4 rather than rejecting output outright.
type capture struct {
	buf      bytes.Buffer
	max      int
	truncated bool
}

func newCapture(max int) *capture {
	if max <= 0 {
		max = 1 << 20
	}
	return &capture{max: max}
}

func (c *capture) Write(p []byte) (int, error) {
	n := len(p)
	c.buf.Write(p)
	if c.buf.Len() > c.max {
		excess := c.buf.Len() - c.max
		c.buf.Next(excess)
		c.truncated = true
	}
	return n, nil
}

func (c *capture) String() string { return c.buf.String() }
