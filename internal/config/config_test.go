package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}

	if cfg.Orchestrator.HTTPPort != 8080 {
		t.Errorf("Orchestrator.HTTPPort = %d, want 8080", cfg.Orchestrator.HTTPPort)
	}
	if cfg.Orchestrator.HeartbeatTimeout != 60*time.Second {
		t.Errorf("Orchestrator.HeartbeatTimeout = %v, want 60s", cfg.Orchestrator.HeartbeatTimeout)
	}
	if cfg.Orchestrator.MaxAttempts != 3 {
		t.Errorf("Orchestrator.MaxAttempts = %d, want 3", cfg.Orchestrator.MaxAttempts)
	}

	if cfg.Slave.Port != 7700 {
		t.Errorf("Slave.Port = %d, want 7700", cfg.Slave.Port)
	}
	if cfg.Slave.InstallMethod != "native" {
		t.Errorf("Slave.InstallMethod = %s, want native", cfg.Slave.InstallMethod)
	}
	if cfg.Slave.MaxOutputBytes != 1<<20 {
		t.Errorf("Slave.MaxOutputBytes = %d, want %d", cfg.Slave.MaxOutputBytes, 1<<20)
	}

	if cfg.LLM.MaxRetriesPerProvider != 2 {
		t.Errorf("LLM.MaxRetriesPerProvider = %d, want 2", cfg.LLM.MaxRetriesPerProvider)
	}
	if cfg.LLM.CongressThresholdRepeated != 5 {
		t.Errorf("LLM.CongressThresholdRepeated = %d, want 5", cfg.LLM.CongressThresholdRepeated)
	}
	if cfg.LLM.CongressThresholdFailures != 10 {
		t.Errorf("LLM.CongressThresholdFailures = %d, want 10", cfg.LLM.CongressThresholdFailures)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %s, want info", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Log.Format = %s, want console", cfg.Log.Format)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	if cfg.Orchestrator.HTTPPort != 8080 {
		t.Errorf("Expected default HTTPPort 8080, got %d", cfg.Orchestrator.HTTPPort)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "taskmesh.yaml")

	configContent := `
orchestrator:
  http_port: 8888
  max_attempts: 5

slave:
  port: 7777
  install_method: docker

llm:
  max_retries_per_provider: 4

log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Orchestrator.HTTPPort != 8888 {
		t.Errorf("Orchestrator.HTTPPort = %d, want 8888", cfg.Orchestrator.HTTPPort)
	}
	if cfg.Orchestrator.MaxAttempts != 5 {
		t.Errorf("Orchestrator.MaxAttempts = %d, want 5", cfg.Orchestrator.MaxAttempts)
	}
	if cfg.Slave.Port != 7777 {
		t.Errorf("Slave.Port = %d, want 7777", cfg.Slave.Port)
	}
	if cfg.Slave.InstallMethod != "docker" {
		t.Errorf("Slave.InstallMethod = %s, want docker", cfg.Slave.InstallMethod)
	}
	if cfg.LLM.MaxRetriesPerProvider != 4 {
		t.Errorf("LLM.MaxRetriesPerProvider = %d, want 4", cfg.LLM.MaxRetriesPerProvider)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestLoad_EnvPrefix(t *testing.T) {
	os.Setenv("TASKMESH_ORCHESTRATOR_HTTP_PORT", "5555")
	defer os.Unsetenv("TASKMESH_ORCHESTRATOR_HTTP_PORT")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Note: viper's automatic env binding needs a matching key already
	// registered via SetDefault, which setDefaults does for every field
	// that has a default value.
	t.Logf("Config loaded with env prefix TASKMESH")
	t.Logf("HTTPPort: %d", cfg.Orchestrator.HTTPPort)
}

func TestWriteExample(t *testing.T) {
	tmpDir := t.TempDir()
	examplePath := filepath.Join(tmpDir, "example.yaml")

	err := WriteExample(examplePath)
	if err != nil {
		t.Fatalf("WriteExample() error = %v", err)
	}

	info, err := os.Stat(examplePath)
	if err != nil {
		t.Fatalf("Example file not created: %v", err)
	}

	if info.Size() == 0 {
		t.Error("Example file is empty")
	}

	content, err := os.ReadFile(examplePath)
	if err != nil {
		t.Fatalf("Failed to read example file: %v", err)
	}

	if len(content) < 100 {
		t.Error("Example file content seems too short")
	}
}

func TestConfig_SlaveWorkDir(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Slave.WorkDir == "" {
		t.Error("Slave.WorkDir should not be empty")
	}
	if !filepath.IsAbs(cfg.Slave.WorkDir) {
		t.Errorf("Slave.WorkDir should be absolute, got %s", cfg.Slave.WorkDir)
	}
}

func TestConfig_DataDir(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Data.Dir == "" {
		t.Error("Data.Dir should not be empty")
	}
}
