package executor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNativeExecutor_Name(t *testing.T) {
	e := NewNativeExecutor()
	if e.Name() != "native" {
		t.Errorf("Name() = %q, want native", e.Name())
	}
}

func TestNativeExecutor_Execute_Success(t *testing.T) {
	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := e.Execute(ctx, &Request{Command: "echo hello", WorkingDir: t.TempDir(), MaxOutputBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Errorf("Success = false, stderr = %q", result.Stderr)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
}

func TestNativeExecutor_Execute_NonZeroExit(t *testing.T) {
	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := e.Execute(ctx, &Request{Command: "exit 7", WorkingDir: t.TempDir(), MaxOutputBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false for non-zero exit")
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}
}

func TestNativeExecutor_Execute_Timeout(t *testing.T) {
	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := e.Execute(ctx, &Request{Command: "sleep 5", WorkingDir: t.TempDir(), MaxOutputBytes: 1 << 20})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false for a timed-out command")
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
}

func TestCapture_TruncatesAndFlagsOverflow(t *testing.T) {
	c := newCapture(4)
	c.Write([]byte("hello world"))
	if !c.truncated {
		t.Error("expected truncated = true once max bytes is exceeded")
	}
	if len(c.String()) != 4 {
		t.Errorf("String() length = %d, want 4", len(c.String()))
	}
	if c.String() != "orld" {
		t.Errorf("String() = %q, want the tail \"orld\"", c.String())
	}
}

func TestCapture_UnderLimitNotTruncated(t *testing.T) {
	c := newCapture(1 << 20)
	c.Write([]byte("small"))
	if c.truncated {
		t.Error("truncated should be false when under the cap")
	}
	if c.String() != "small" {
		t.Errorf("String() = %q, want small", c.String())
	}
}

func TestManager_Select_PrefersDockerThenVenvThenNative(t *testing.T) {
	m := &Manager{native: NewNativeExecutor()}
	if got := m.Select([]string{"native"}); got.Name() != "native" {
		t.Errorf("Select() = %q, want native with no docker/venv configured", got.Name())
	}

	m.venv = NewVenvExecutor("/opt/venv")
	if got := m.Select([]string{"venv", "native"}); got.Name() != "venv" {
		t.Errorf("Select() = %q, want venv", got.Name())
	}

	m.docker = &DockerExecutor{image: "alpine"}
	if got := m.Select([]string{"docker", "venv", "native"}); got.Name() != "docker" {
		t.Errorf("Select() = %q, want docker", got.Name())
	}
}

func TestManager_Select_EmptyAdvertisedFallsBackToPreferenceOrder(t *testing.T) {
	m := &Manager{native: NewNativeExecutor(), docker: &DockerExecutor{image: "alpine"}}
	if got := m.Select(nil); got.Name() != "docker" {
		t.Errorf("Select(nil) = %q, want docker (empty advertised list means \"any\")", got.Name())
	}
}
