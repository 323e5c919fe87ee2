package domain

import (
	"strconv"
	"time"
)

// InstallMethod is how a slave's agent process was deployed, which in
// turn determines its auto-update command and its preferred execution
// method ordering (docker > venv > native).
type InstallMethod string

const (
	InstallMethodDocker InstallMethod = "docker"
	InstallMethodVenv   InstallMethod = "venv"
	InstallMethodNative InstallMethod = "native"
)

// SlaveStatus is the liveness/parity state of a registered Slave.
type SlaveStatus string

const (
	SlaveStatusOnline          SlaveStatus = "online"
	SlaveStatusDead            SlaveStatus = "dead"
	SlaveStatusVersionMismatch SlaveStatus = "version_mismatch"
)

// Slave is a remote execution host registered by the Slave Manager. It
// extends the generic Worker concept with install/version metadata; it
// is tracked in its own registry rather than the orchestrator's worker
// registry since it speaks a distinct protocol (§4.3/§4.4).
type Slave struct {
	ID                string        `json:"slave_id"`
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	AuthToken         string        `json:"-"`
	InstallMethod     InstallMethod `json:"install_method"`
	ExecutionMethods  []string      `json:"execution_methods"`
	CommitFingerprint string        `json:"commit_fingerprint"`
	VersionMismatch   bool          `json:"version_mismatch"`
	Status            SlaveStatus   `json:"status"`
	LastSeen          time.Time     `json:"last_seen"`
	RegisteredAt      time.Time     `json:"registered_at"`
	ConsecutiveFails  int           `json:"consecutive_fails"`
}

// Address returns the host:port the manager dials.
func (s *Slave) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Selectable reports whether a slave may be dispatched to: online and
// version-parity confirmed. §8 end-to-end scenario 6.
func (s *Slave) Selectable() bool {
	return s.Status == SlaveStatusOnline && !s.VersionMismatch
}

// MasterVersion is the process-wide commit fingerprint the master
// compares against each slave's reported commit.
type MasterVersion struct {
	Branch     string    `json:"branch"`
	Commit     string    `json:"commit"`
	Version    string    `json:"version"`
	DeployedAt time.Time `json:"deployed_at"`
}

// ExecutionResult is the outcome of a slave's POST /api/execute call.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	Method     string `json:"method"`
	Truncated  bool   `json:"truncated"`
	DurationMs int64  `json:"duration_ms"`
}
