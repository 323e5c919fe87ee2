// Command taskmesh-orchestrator runs the central coordinator of the
// Distributed Task Orchestration Core: it accepts typed work requests,
// matches them to capable poll-based workers, sweeps dead workers and
// timed-out tasks, routes LLM chat requests across fallback providers,
// and dispatches shell_exec tasks to registered slaves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/llm/escalation"
	"github.com/taskmesh/taskmesh/internal/llm/fallback"
	"github.com/taskmesh/taskmesh/internal/llm/provider"
	"github.com/taskmesh/taskmesh/internal/observability/dashboard"
	"github.com/taskmesh/taskmesh/internal/observability/metrics"
	"github.com/taskmesh/taskmesh/internal/observability/tracing"
	"github.com/taskmesh/taskmesh/internal/orchestrator/queue"
	"github.com/taskmesh/taskmesh/internal/orchestrator/registry"
	"github.com/taskmesh/taskmesh/internal/orchestrator/server"
	"github.com/taskmesh/taskmesh/internal/orchestrator/shelldispatch"
	"github.com/taskmesh/taskmesh/internal/orchestrator/sweeper"
	"github.com/taskmesh/taskmesh/internal/orchestrator/tasks"
	"github.com/taskmesh/taskmesh/internal/slave/manager"
	"github.com/taskmesh/taskmesh/internal/slave/versioninfo"
)

// buildVersion is stamped at link time via -ldflags; left unset, the
// git commit captured at startup stands in for it.
var buildVersion = ""

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:   "taskmesh-orchestrator",
		Short: "Distributed Task Orchestration Core orchestrator",
		Long: `taskmesh-orchestrator matches submitted tasks to capable workers,
tracks worker and slave liveness, routes LLM chat requests across
fallback providers with cooldown/escalation, and dispatches shell_exec
tasks to registered remote-execution slaves.`,
	}

	rootCmd.AddCommand(newVersionCmd(), newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v, err := versioninfo.Capture(buildVersion)
			if err != nil {
				fmt.Printf("taskmesh-orchestrator (version unknown: %v)\n", err)
				return
			}
			fmt.Printf("taskmesh-orchestrator %s (%s@%s)\n", v.Version, v.Branch, v.Commit)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator server",
		RunE:  runServe,
	}
	cmd.Flags().String("config", "", "Path to config file")
	cmd.Flags().Int("http-port", 0, "Orchestrator HTTP API port (overrides config)")
	cmd.Flags().Int("dashboard-port", 8090, "Read-only dashboard/metrics/websocket port")
	cmd.Flags().String("token", "", "Bearer token required of workers/slaves/producers (empty disables auth)")
	cmd.Flags().String("data-dir", "", "Persistence directory (overrides config)")
	cmd.Flags().String("tracing-endpoint", "", "OTLP HTTP endpoint; leaving it empty keeps tracing disabled")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	httpPort, _ := cmd.Flags().GetInt("http-port")
	dashboardPort, _ := cmd.Flags().GetInt("dashboard-port")
	token, _ := cmd.Flags().GetString("token")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tracingEndpoint, _ := cmd.Flags().GetString("tracing-endpoint")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if httpPort != 0 {
		cfg.Orchestrator.HTTPPort = httpPort
	}
	if token != "" {
		cfg.Orchestrator.AuthToken = token
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	applyLogConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.OrchestratorConfig()
	if tracingEndpoint != "" {
		tracingCfg.Enable = true
		tracingCfg.Endpoint = tracingEndpoint
	}
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if tp != nil {
		defer tp.Shutdown(context.Background())
	}
	metrics.Default()

	masterVersion, err := versioninfo.Capture(buildVersion)
	if err != nil {
		log.Warn().Err(err).Msg("failed to capture VCS version, slave parity checks will never trigger")
	}
	if versionPath := dataDirJoin(cfg.Data.Dir, "version_info.json"); versionPath != "" {
		if err := versioninfo.WriteFile(versionPath, masterVersion); err != nil {
			log.Warn().Err(err).Msg("failed to persist version_info.json")
		}
	}
	log.Info().Str("commit", masterVersion.Commit).Str("branch", masterVersion.Branch).Msg("master version captured")

	reg := registry.NewInMemoryRegistry()
	q := queue.New()
	store := tasks.New()

	srvCfg := server.DefaultConfig()
	srvCfg.Port = cfg.Orchestrator.HTTPPort
	srvCfg.AuthToken = cfg.Orchestrator.AuthToken
	srvCfg.HeartbeatTTL = cfg.Orchestrator.HeartbeatTimeout
	srvCfg.RateLimitPerSec = cfg.Orchestrator.RateLimitPerSecond
	srvCfg.RateLimitBurst = cfg.Orchestrator.RateLimitBurst
	srvCfg.TLSCertFile = cfg.Orchestrator.TLSCert
	srvCfg.TLSKeyFile = cfg.Orchestrator.TLSKey
	srv := server.New(srvCfg, reg, q, store)

	sw := sweeper.New(sweeper.Config{
		HeartbeatTimeout:     cfg.Orchestrator.HeartbeatTimeout,
		SweepInterval:        cfg.Orchestrator.SweepInterval,
		TimeoutSweepInterval: cfg.Orchestrator.TimeoutSweepInterval,
		TaskTimeout:          cfg.Orchestrator.TaskTimeout,
		MaxAttempts:          cfg.Orchestrator.MaxAttempts,
	}, reg, q, store)
	go sw.Run(ctx)

	slaveMgr := manager.New(manager.Config{
		HealthInterval: cfg.Slave.HealthInterval,
		DeadThreshold:  cfg.Slave.DeadThreshold,
		ExecuteTimeout: cfg.Slave.ExecuteTimeout,
		StateDir:       dataDirJoin(cfg.Data.Dir, "slaves"),
	}, masterVersion)
	slaveMgr.SetNotify(func(message string) {
		log.Warn().Str("channel", "slave_manager").Msg(message)
	})
	go slaveMgr.RunHealthLoop(ctx)

	dispatcher := shelldispatch.New(shelldispatch.DefaultConfig(), q, store, slaveMgr)
	go dispatcher.Run(ctx)

	fallbackMgr := buildFallbackManager(cfg, dataDirJoin(cfg.Data.Dir, "llm_fallback"))
	srv.SetLLMHealthProvider(fallbackMgr)

	dashCfg := dashboard.DefaultConfig()
	dashCfg.Port = dashboardPort
	dashSrv := dashboard.New(dashCfg, srv.NewStatsProvider())
	onStart, onComplete := dashSrv.CreateEventNotifier()
	srv.SetEventNotifier(&dashboardNotifier{onStart: onStart, onComplete: onComplete})

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("orchestrator http server: %w", err)
		}
	}()
	go func() {
		if err := dashSrv.Start(); err != nil {
			errCh <- fmt.Errorf("dashboard server: %w", err)
		}
	}()

	log.Info().
		Int("http_port", cfg.Orchestrator.HTTPPort).
		Int("dashboard_port", dashboardPort).
		Msg("taskmesh-orchestrator started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dashSrv.Stop(); err != nil {
			log.Warn().Err(err).Msg("dashboard shutdown reported an error")
		}
		return srv.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// dashboardNotifier adapts dashboard.Server's two callback functions
// to the server.EventNotifier interface the orchestrator HTTP server
// calls into on task lifecycle transitions.
type dashboardNotifier struct {
	onStart    func(id, taskType, status, workerID string, startedAt int64)
	onComplete func(id, taskType, status, workerID string, startedAt, completedAt, durationMs int64, errorMsg string)
}

func (n *dashboardNotifier) NotifyTaskStarted(ev *server.TaskEvent) {
	n.onStart(ev.ID, ev.TaskType, ev.Status, ev.WorkerID, ev.StartedAt)
}

func (n *dashboardNotifier) NotifyTaskCompleted(ev *server.TaskEvent) {
	n.onComplete(ev.ID, ev.TaskType, ev.Status, ev.WorkerID, ev.StartedAt, ev.CompletedAt, ev.DurationMs, ev.ErrorMessage)
}

// buildFallbackManager wires the three LLM provider adapters per
// cfg.LLM, marking any provider whose credential env var is unset
// unavailable at startup rather than treating it as fatal.
func buildFallbackManager(cfg *config.Config, stateDir string) *fallback.Manager {
	priorities := map[string]int{"groq": 1, "gemini": 2, "deepseek": 3}
	for _, p := range cfg.LLM.Providers {
		if p.Priority > 0 {
			priorities[p.ID] = p.Priority
		}
	}

	groq := provider.NewGroqProvider(modelFor(cfg, "groq", "llama-3.3-70b-versatile"), 30*time.Second)
	gemini := provider.NewGeminiProvider(modelFor(cfg, "gemini", "gemini-1.5-flash"), 30*time.Second)
	deepseek := provider.NewDeepSeekProvider(modelFor(cfg, "deepseek", "deepseek-chat"), 30*time.Second)

	fbCfg := fallback.DefaultConfig()
	fbCfg.MaxRetriesPerProvider = cfg.LLM.MaxRetriesPerProvider
	fbCfg.RetryDelay = cfg.LLM.RetryDelay
	fbCfg.CongressRepeated = cfg.LLM.CongressThresholdRepeated
	fbCfg.CongressFailures = cfg.LLM.CongressThresholdFailures
	fbCfg.MaxErrorHistory = cfg.LLM.MaxErrorHistory
	fbCfg.StaleAfter = cfg.LLM.StaleAfter
	fbCfg.StatePath = dataDirJoin(stateDir, "fallback_state.json")

	escalator := escalation.New(stateDir)
	mgr := fallback.New(fbCfg, []provider.Provider{groq, gemini, deepseek}, priorities, escalator)
	mgr.SetNotify(func(message string) {
		log.Warn().Str("channel", "llm_fallback").Msg(message)
	})

	for _, p := range []credentialedProvider{groq, gemini, deepseek} {
		if !p.HasCredentials() {
			log.Warn().Str("provider_id", p.ID()).Msg("no credentials configured, marking provider unavailable at startup")
			mgr.MarkUnavailable(p.ID())
		}
	}

	return mgr
}

// credentialedProvider is satisfied by every shipped provider adapter
// (each reports whether its env-var API key is set).
type credentialedProvider interface {
	provider.Provider
	HasCredentials() bool
}

func modelFor(cfg *config.Config, providerID, fallbackModel string) string {
	for _, p := range cfg.LLM.Providers {
		if p.ID == providerID && p.Model != "" {
			return p.Model
		}
	}
	return fallbackModel
}

func dataDirJoin(base, sub string) string {
	if base == "" {
		return sub
	}
	return base + "/" + sub
}

func applyLogConfig(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
