// Package capability detects what a slave daemon can do: which
// execution methods (native, venv, docker) are available on this
// host, advertised to the master at registration and on every health
// check (spec §4.4 GET /api/health → execution_methods). Grounded on
// the teacher's internal/slave/capability/detect.go host-probing
// style (os/exec lookups, /proc/meminfo parsing), narrowed to the
// shell_exec domain: the teacher's per-language toolchain probes
// (C++/Go/Rust/Node/Flutter compiler detection) have no equivalent
// here and are dropped (see DESIGN.md).
package capability

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// Capabilities is what a slave reports about itself.
type Capabilities struct {
	Hostname         string
	OS               string
	CPUCores         int
	MemoryBytes      int64
	DockerAvailable  bool
	ExecutionMethods []string
}

// Detect probes the host for available execution methods. venvPath is
// the configured virtualenv to check for (empty disables the probe).
func Detect(venvPath string) *Capabilities {
	hostname, _ := os.Hostname()

	c := &Capabilities{
		Hostname:        hostname,
		OS:              runtime.GOOS,
		CPUCores:        runtime.NumCPU(),
		MemoryBytes:     detectMemory(),
		DockerAvailable: detectDocker(),
	}

	c.ExecutionMethods = []string{string(domain.InstallMethodNative)}
	if c.DockerAvailable {
		c.ExecutionMethods = append([]string{string(domain.InstallMethodDocker)}, c.ExecutionMethods...)
	}
	if venvPath != "" && detectVenv(venvPath) {
		c.ExecutionMethods = insertAfterDocker(c.ExecutionMethods, string(domain.InstallMethodVenv))
	}

	return c
}

// insertAfterDocker keeps the preference order docker > venv > native
// regardless of which methods were actually detected.
func insertAfterDocker(methods []string, venv string) []string {
	out := make([]string, 0, len(methods)+1)
	inserted := false
	for _, m := range methods {
		if m == string(domain.InstallMethodDocker) {
			out = append(out, m, venv)
			inserted = true
			continue
		}
		out = append(out, m)
	}
	if !inserted {
		out = append([]string{venv}, out...)
	}
	return out
}

func detectVenv(path string) bool {
	activate := filepath.Join(path, "bin", "activate")
	if _, err := os.Stat(activate); err == nil {
		return true
	}
	// Windows-style venv layout.
	activate = filepath.Join(path, "Scripts", "activate.bat")
	_, err := os.Stat(activate)
	return err == nil
}

func detectDocker() bool {
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

func detectMemory() int64 {
	switch runtime.GOOS {
	case "linux":
		return detectMemoryLinux()
	case "darwin":
		return detectMemoryDarwin()
	default:
		return 0
	}
}

func detectMemoryLinux() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			continue
		}
		fields := strings.Fields(strings.TrimSpace(parts[1]))
		if len(fields) == 0 {
			continue
		}
		var value int64
		if _, err := fmt.Sscanf(fields[0], "%d", &value); err == nil {
			return value * 1024 // kB to bytes
		}
	}
	return 0
}

func detectMemoryDarwin() int64 {
	cmd := exec.Command("sysctl", "-n", "hw.memsize")
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var bytes int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &bytes); err != nil {
		return 0
	}
	return bytes
}
