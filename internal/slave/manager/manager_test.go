package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/resilience"
)

// fakeSlave is a minimal stand-in for the slave daemon's HTTP API.
type fakeSlave struct {
	commit   string
	execFn   func(executeRequest) executeResponse
	hitCount int
}

func newFakeSlaveServer(t *testing.T, fs *fakeSlave) (*httptest.Server, string, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		fs.hitCount++
		json.NewEncoder(w).Encode(healthResponse{
			Status:           "ok",
			ExecutionMethods: []string{"docker", "native"},
			Version:          fs.commit,
			Commit:           fs.commit,
			Branch:           "main",
		})
	})
	mux.HandleFunc("/api/execute", func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := executeResponse{Success: true, Stdout: "ok", Method: "native"}
		if fs.execFn != nil {
			resp = fs.execFn(req)
		}
		json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return srv, u.Hostname(), port
}

func testManager(masterCommit string) *Manager {
	cfg := DefaultConfig()
	cfg.StateDir = ""
	m := &Manager{
		cfg:           cfg,
		masterVersion: domain.MasterVersion{Commit: masterCommit},
		httpClient:    &http.Client{Timeout: 2 * time.Second},
		circuits:      resilience.NewCircuitManager(resilience.DefaultCircuitConfig()),
		slaves:        make(map[string]*domain.Slave),
	}
	return m
}

func TestManager_RegisterSlave_ProbesHealthImmediately(t *testing.T) {
	fs := &fakeSlave{commit: "abc123"}
	srv, host, port := newFakeSlaveServer(t, fs)
	defer srv.Close()

	m := testManager("abc123")
	m.cfg.StateDir = t.TempDir()

	slave, err := m.RegisterSlave(context.Background(), "slave-1", host, port, "tok", "native")
	if err != nil {
		t.Fatalf("RegisterSlave() error = %v", err)
	}
	if slave.Status != domain.SlaveStatusOnline {
		t.Errorf("Status = %v, want online", slave.Status)
	}
	if fs.hitCount != 1 {
		t.Errorf("expected exactly one health probe during registration, got %d", fs.hitCount)
	}
	if len(slave.ExecutionMethods) == 0 {
		t.Error("expected ExecutionMethods to be populated from the probe")
	}
}

func TestManager_RegisterSlave_FailedProbeReturnsError(t *testing.T) {
	m := testManager("abc123")
	m.cfg.StateDir = t.TempDir()

	_, err := m.RegisterSlave(context.Background(), "slave-1", "127.0.0.1", 1, "tok", "native")
	if err == nil {
		t.Fatal("expected an error when the initial health probe cannot connect")
	}
}

func TestManager_RegisterSlave_DetectsVersionMismatch(t *testing.T) {
	fs := &fakeSlave{commit: "old-commit"}
	srv, host, port := newFakeSlaveServer(t, fs)
	defer srv.Close()

	m := testManager("new-commit")
	m.cfg.StateDir = t.TempDir()

	slave, err := m.RegisterSlave(context.Background(), "slave-1", host, port, "tok", "native")
	if err != nil {
		t.Fatalf("RegisterSlave() error = %v", err)
	}
	if slave.Status != domain.SlaveStatusVersionMismatch {
		t.Errorf("Status = %v, want version_mismatch since commits differ", slave.Status)
	}
	if !slave.VersionMismatch {
		t.Error("VersionMismatch = false, want true")
	}
	if slave.Selectable() {
		t.Error("Selectable() = true, want false for a version-mismatched slave")
	}
}

func TestManager_CheckAll_MarksDeadAfterThreshold(t *testing.T) {
	m := testManager("commit-a")
	m.cfg.StateDir = t.TempDir()
	m.cfg.DeadThreshold = 2

	m.mu.Lock()
	m.slaves["slave-1"] = &domain.Slave{ID: "slave-1", Host: "127.0.0.1", Port: 1, Status: domain.SlaveStatusOnline}
	m.mu.Unlock()

	m.checkAll(context.Background())
	s, _ := m.Get("slave-1")
	if s.Status != domain.SlaveStatusOnline {
		t.Errorf("Status after 1 failed check = %v, want still online (below threshold)", s.Status)
	}

	m.checkAll(context.Background())
	s, _ = m.Get("slave-1")
	if s.Status != domain.SlaveStatusDead {
		t.Errorf("Status after 2 failed checks = %v, want dead", s.Status)
	}
}

func TestManager_ExecuteOnSlave_RefusesUnselectable(t *testing.T) {
	m := testManager("commit-a")
	m.cfg.StateDir = t.TempDir()
	m.mu.Lock()
	m.slaves["slave-1"] = &domain.Slave{ID: "slave-1", Status: domain.SlaveStatusDead}
	m.mu.Unlock()

	_, err := m.ExecuteOnSlave(context.Background(), "slave-1", "echo hi", "/tmp", 0)
	if err == nil {
		t.Fatal("expected ExecuteOnSlave to refuse a dead slave")
	}
}

func TestManager_ExecuteOnSlave_Success(t *testing.T) {
	fs := &fakeSlave{commit: "abc123"}
	srv, host, port := newFakeSlaveServer(t, fs)
	defer srv.Close()

	m := testManager("abc123")
	m.cfg.StateDir = t.TempDir()

	_, err := m.RegisterSlave(context.Background(), "slave-1", host, port, "tok", "native")
	if err != nil {
		t.Fatalf("RegisterSlave() error = %v", err)
	}

	result, err := m.ExecuteOnSlave(context.Background(), "slave-1", "echo hi", "/tmp", 5*time.Second)
	if err != nil {
		t.Fatalf("ExecuteOnSlave() error = %v", err)
	}
	if !result.Success {
		t.Error("expected Success = true")
	}
}

func TestManager_PersistsAndRestoresRoster(t *testing.T) {
	fs := &fakeSlave{commit: "abc123"}
	srv, host, port := newFakeSlaveServer(t, fs)
	defer srv.Close()

	dir := t.TempDir()
	m1 := testManager("abc123")
	m1.cfg.StateDir = dir

	_, err := m1.RegisterSlave(context.Background(), "slave-1", host, port, "super-secret-token", "native")
	if err != nil {
		t.Fatalf("RegisterSlave() error = %v", err)
	}

	m2 := testManager("abc123")
	m2.cfg.StateDir = dir
	m2.restore()

	restored, err := m2.Get("slave-1")
	if err != nil {
		t.Fatalf("Get() after restore error = %v", err)
	}
	if restored.AuthToken != "super-secret-token" {
		t.Errorf("AuthToken after restore = %q, want preserved", restored.AuthToken)
	}
	if restored.Host != host {
		t.Errorf("Host after restore = %q, want %q", restored.Host, host)
	}
}
