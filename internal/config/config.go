// Package config layers defaults, an optional config file, and
// environment variables into a single Config (defaults -> config file
// -> env, all under the TASKMESH_ prefix), split into
// orchestrator/worker/slave/LLM sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Slave        SlaveConfig        `mapstructure:"slave"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Data         DataConfig         `mapstructure:"data"`
	Log          LogConfig          `mapstructure:"log"`
}

// OrchestratorConfig holds orchestrator-specific settings.
type OrchestratorConfig struct {
	HTTPPort              int           `mapstructure:"http_port"`
	AuthToken             string        `mapstructure:"auth_token"`
	TLSCert               string        `mapstructure:"tls_cert"`
	TLSKey                string        `mapstructure:"tls_key"`
	HeartbeatTimeout      time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	TimeoutSweepInterval  time.Duration `mapstructure:"timeout_sweep_interval"`
	TaskTimeout           time.Duration `mapstructure:"task_timeout"`
	MaxAttempts           int           `mapstructure:"max_attempts"`
	RateLimitPerSecond    float64       `mapstructure:"rate_limit_per_second"`
	RateLimitBurst        int           `mapstructure:"rate_limit_burst"`
}

// WorkerConfig holds poll-based worker agent settings (LLM/agent
// workers that poll the orchestrator for tasks, as distinct from
// slaves which the orchestrator dials directly).
type WorkerConfig struct {
	OrchestratorAddr string        `mapstructure:"orchestrator_addr"`
	AuthToken        string        `mapstructure:"auth_token"`
	WorkerType       string        `mapstructure:"worker_type"`
	Capabilities     []string      `mapstructure:"capabilities"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	HeartbeatSec     int           `mapstructure:"heartbeat_sec"`
}

// SlaveConfig holds remote-execution daemon settings.
type SlaveConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Token             string        `mapstructure:"token"`
	InstallMethod     string        `mapstructure:"install_method"`
	WorkDir           string        `mapstructure:"work_dir"`
	ExecuteTimeout    time.Duration `mapstructure:"execute_timeout"`
	MaxOutputBytes    int           `mapstructure:"max_output_bytes"`
	DockerImage       string        `mapstructure:"docker_image"`
	VenvPath          string        `mapstructure:"venv_path"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	DeadThreshold     int           `mapstructure:"dead_threshold"`
	TLSCert           string        `mapstructure:"tls_cert"`
	TLSKey            string        `mapstructure:"tls_key"`
}

// LLMProviderConfig is per-provider LLM credential/ordering config.
type LLMProviderConfig struct {
	ID       string `mapstructure:"id"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	Priority int    `mapstructure:"priority"`
}

// LLMConfig holds the fallback manager's settings.
type LLMConfig struct {
	Providers                   []LLMProviderConfig `mapstructure:"providers"`
	MaxRetriesPerProvider       int                 `mapstructure:"max_retries_per_provider"`
	RetryDelay                  time.Duration       `mapstructure:"retry_delay"`
	CongressThresholdRepeated   int                 `mapstructure:"congress_threshold_repeated_error"`
	CongressThresholdFailures   int                 `mapstructure:"congress_threshold_failures"`
	MaxErrorHistory             int                 `mapstructure:"max_error_history"`
	StaleAfter                  time.Duration       `mapstructure:"stale_after"`
}

// DataConfig holds the persistence directory layout.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir, err := os.UserConfigDir()
	if err != nil || dataDir == "" {
		dataDir = os.TempDir()
	}
	return &Config{
		Orchestrator: OrchestratorConfig{
			HTTPPort:             8080,
			HeartbeatTimeout:     60 * time.Second,
			SweepInterval:        1 * time.Second,
			TimeoutSweepInterval: 5 * time.Second,
			TaskTimeout:          5 * time.Minute,
			MaxAttempts:          3,
			RateLimitPerSecond:   50,
			RateLimitBurst:       100,
		},
		Worker: WorkerConfig{
			PollInterval: 2 * time.Second,
			HeartbeatSec: 20,
			WorkerType:   "agent",
		},
		Slave: SlaveConfig{
			Port:           7700,
			InstallMethod:  "native",
			WorkDir:        filepath.Join(os.TempDir(), "taskmesh-slave"),
			ExecuteTimeout: 300 * time.Second,
			MaxOutputBytes: 1 << 20,
			HealthInterval: 15 * time.Second,
			DeadThreshold:  3,
		},
		LLM: LLMConfig{
			MaxRetriesPerProvider:     2,
			RetryDelay:                500 * time.Millisecond,
			CongressThresholdRepeated: 5,
			CongressThresholdFailures: 10,
			MaxErrorHistory:           50,
			StaleAfter:                1 * time.Hour,
		},
		Data: DataConfig{
			Dir: filepath.Join(dataDir, "taskmesh"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from file and environment, layered
// defaults -> config file -> TASKMESH_ environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("taskmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/taskmesh")
		v.AddConfigPath("/etc/taskmesh")
	}

	v.SetEnvPrefix("TASKMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("orchestrator.http_port", cfg.Orchestrator.HTTPPort)
	v.SetDefault("orchestrator.heartbeat_timeout", cfg.Orchestrator.HeartbeatTimeout)
	v.SetDefault("orchestrator.sweep_interval", cfg.Orchestrator.SweepInterval)
	v.SetDefault("orchestrator.timeout_sweep_interval", cfg.Orchestrator.TimeoutSweepInterval)
	v.SetDefault("orchestrator.task_timeout", cfg.Orchestrator.TaskTimeout)
	v.SetDefault("orchestrator.max_attempts", cfg.Orchestrator.MaxAttempts)
	v.SetDefault("orchestrator.rate_limit_per_second", cfg.Orchestrator.RateLimitPerSecond)
	v.SetDefault("orchestrator.rate_limit_burst", cfg.Orchestrator.RateLimitBurst)

	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)
	v.SetDefault("worker.heartbeat_sec", cfg.Worker.HeartbeatSec)
	v.SetDefault("worker.worker_type", cfg.Worker.WorkerType)

	v.SetDefault("slave.port", cfg.Slave.Port)
	v.SetDefault("slave.install_method", cfg.Slave.InstallMethod)
	v.SetDefault("slave.work_dir", cfg.Slave.WorkDir)
	v.SetDefault("slave.execute_timeout", cfg.Slave.ExecuteTimeout)
	v.SetDefault("slave.max_output_bytes", cfg.Slave.MaxOutputBytes)
	v.SetDefault("slave.health_interval", cfg.Slave.HealthInterval)
	v.SetDefault("slave.dead_threshold", cfg.Slave.DeadThreshold)

	v.SetDefault("llm.max_retries_per_provider", cfg.LLM.MaxRetriesPerProvider)
	v.SetDefault("llm.retry_delay", cfg.LLM.RetryDelay)
	v.SetDefault("llm.congress_threshold_repeated_error", cfg.LLM.CongressThresholdRepeated)
	v.SetDefault("llm.congress_threshold_failures", cfg.LLM.CongressThresholdFailures)
	v.SetDefault("llm.max_error_history", cfg.LLM.MaxErrorHistory)
	v.SetDefault("llm.stale_after", cfg.LLM.StaleAfter)

	v.SetDefault("data.dir", cfg.Data.Dir)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// WriteExample writes an example config file.
func WriteExample(path string) error {
	example := `# taskmesh configuration

orchestrator:
  http_port: 8080
  auth_token: ""
  # tls_cert: /path/to/cert.pem
  # tls_key: /path/to/key.pem
  heartbeat_timeout: 60s
  sweep_interval: 1s
  timeout_sweep_interval: 5s
  task_timeout: 5m
  max_attempts: 3
  rate_limit_per_second: 50
  rate_limit_burst: 100

worker:
  orchestrator_addr: "http://localhost:8080"
  auth_token: ""
  worker_type: agent
  capabilities: []
  poll_interval: 2s
  heartbeat_sec: 20

slave:
  host: 0.0.0.0
  port: 7700
  token: ""
  install_method: native   # docker, venv, native
  work_dir: /tmp/taskmesh-slave
  execute_timeout: 300s
  max_output_bytes: 1048576
  docker_image: ""
  venv_path: ""
  health_interval: 15s
  dead_threshold: 3

llm:
  max_retries_per_provider: 2
  retry_delay: 500ms
  congress_threshold_repeated_error: 5
  congress_threshold_failures: 10
  max_error_history: 50
  stale_after: 1h
  providers:
    - id: groq
      api_key: ""
      priority: 1
    - id: gemini
      api_key: ""
      priority: 2
    - id: deepseek
      api_key: ""
      priority: 3

data:
  dir: ~/.config/taskmesh

log:
  level: info           # debug, info, warn, error
  format: console        # console, json
  # file: /var/log/taskmesh.log
`
	return os.WriteFile(path, []byte(example), 0644)
}
