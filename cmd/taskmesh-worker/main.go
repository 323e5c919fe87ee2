// Command taskmesh-worker is a poll-based worker agent: it registers
// with an orchestrator, polls for tasks matching its advertised
// capabilities, and executes them. Its primary capability is llm_chat,
// dispatched through the same fallback manager the orchestrator itself
// uses to route LLM calls across providers with cooldown/escalation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/config"
	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/llm/escalation"
	"github.com/taskmesh/taskmesh/internal/llm/fallback"
	"github.com/taskmesh/taskmesh/internal/llm/provider"
	"github.com/taskmesh/taskmesh/internal/observability/tracing"
)

var buildVersion = "v0.0.0-dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:   "taskmesh-worker",
		Short: "Poll-based task worker agent",
		Long: `taskmesh-worker registers with an orchestrator and polls for tasks
matching its advertised capabilities, dispatching llm_chat tasks
through a local LLM fallback manager.`,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskmesh-worker %s\n", buildVersion)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Register and poll for work",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to config file")
	serveCmd.Flags().String("orchestrator", "", "Orchestrator base URL, e.g. http://localhost:8080 (overrides config)")
	serveCmd.Flags().String("token", "", "Bearer token presented to the orchestrator (overrides config)")
	serveCmd.Flags().String("worker-type", "", "Worker type advertised at registration (overrides config)")
	serveCmd.Flags().StringSlice("capabilities", nil, "Capabilities advertised at registration (overrides config)")
	serveCmd.Flags().String("tracing-endpoint", "", "OTLP HTTP endpoint; leaving it empty keeps tracing disabled")

	rootCmd.AddCommand(versionCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	orchestratorAddr, _ := cmd.Flags().GetString("orchestrator")
	token, _ := cmd.Flags().GetString("token")
	workerType, _ := cmd.Flags().GetString("worker-type")
	capabilities, _ := cmd.Flags().GetStringSlice("capabilities")
	tracingEndpoint, _ := cmd.Flags().GetString("tracing-endpoint")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if orchestratorAddr != "" {
		cfg.Worker.OrchestratorAddr = orchestratorAddr
	}
	if token != "" {
		cfg.Worker.AuthToken = token
	}
	if workerType != "" {
		cfg.Worker.WorkerType = workerType
	}
	if len(capabilities) > 0 {
		cfg.Worker.Capabilities = capabilities
	}
	if len(cfg.Worker.Capabilities) == 0 {
		cfg.Worker.Capabilities = []string{"llm_chat"}
	}
	if cfg.Worker.OrchestratorAddr == "" {
		return fmt.Errorf("--orchestrator is required (or worker.orchestrator_addr in config)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.WorkerConfig()
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

	client := newOrchestratorClient(cfg.Worker.OrchestratorAddr, cfg.Worker.AuthToken)

	workerID, err := client.register(ctx, cfg.Worker.WorkerType, cfg.Worker.Capabilities)
	if err != nil {
		return fmt.Errorf("register with orchestrator: %w", err)
	}
	log.Info().Str("worker_id", workerID).Strs("capabilities", cfg.Worker.Capabilities).Msg("registered with orchestrator")

	fallbackMgr := buildFallbackManager(cfg, "llm_fallback")

	w := &worker{
		id:          workerID,
		client:      client,
		fallbackMgr: fallbackMgr,
		pollEvery:   cfg.Worker.PollInterval,
	}

	heartbeatEvery := time.Duration(cfg.Worker.HeartbeatSec) * time.Second
	if heartbeatEvery <= 0 {
		heartbeatEvery = 20 * time.Second
	}
	go w.heartbeatLoop(ctx, heartbeatEvery)
	go w.pollLoop(ctx)

	log.Info().Str("orchestrator", cfg.Worker.OrchestratorAddr).Msg("taskmesh-worker started")
	<-ctx.Done()
	log.Info().Msg("shutdown signal received, worker exiting")
	return nil
}

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

	escalator := escalation.New(stateDir)
	mgr := fallback.New(fbCfg, []provider.Provider{groq, gemini, deepseek}, priorities, escalator)

	for _, p := range []interface {
		provider.Provider
		HasCredentials() bool
	}{groq, gemini, deepseek} {
		if !p.HasCredentials() {
			mgr.MarkUnavailable(p.ID())
		}
	}
	return mgr
}

func modelFor(cfg *config.Config, providerID, fallbackModel string) string {
	for _, p := range cfg.LLM.Providers {
		if p.ID == providerID && p.Model != "" {
			return p.Model
		}
	}
	return fallbackModel
}

// worker owns the poll/execute/submit loop against a single orchestrator.
type worker struct {
	id          string
	client      *orchestratorClient
	fallbackMgr *fallback.Manager
	pollEvery   time.Duration
}

func (w *worker) heartbeatLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.heartbeat(ctx, w.id); err != nil {
				log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (w *worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := w.client.pollTask(ctx, w.id)
			if err != nil {
				log.Warn().Err(err).Msg("poll failed")
				continue
			}
			if task == nil {
				continue
			}
			w.execute(ctx, task)
		}
	}
}

func (w *worker) execute(ctx context.Context, task *domain.Task) {
	log.Info().Str("task_id", task.ID).Str("task_type", string(task.Type)).Msg("executing task")

	result, err := w.runTask(ctx, task)
	if err != nil {
		log.Warn().Str("task_id", task.ID).Err(err).Msg("task execution failed")
		result = map[string]string{"error": err.Error()}
	}

	if err := w.client.submitResult(ctx, w.id, task.ID, result); err != nil {
		log.Error().Str("task_id", task.ID).Err(err).Msg("failed to submit result")
	}
}

func (w *worker) runTask(ctx context.Context, task *domain.Task) (any, error) {
	switch task.Type {
	case domain.TaskTypeLLMChat:
		resp, providerID, err := w.fallbackMgr.Chat(ctx, task.Payload.Messages, provider.ChatOptions{})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"text":              resp.Text,
			"provider_id":       providerID,
			"prompt_tokens":     resp.PromptTokens,
			"completion_tokens": resp.CompletionTokens,
		}, nil
	default:
		return nil, fmt.Errorf("worker does not implement task type %q", task.Type)
	}
}

// orchestratorClient is a minimal HTTP client over the orchestrator's
// worker-facing API: register, heartbeat, poll, submit.
type orchestratorClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newOrchestratorClient(baseURL, token string) *orchestratorClient {
	return &orchestratorClient{baseURL: baseURL, token: token, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *orchestratorClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Reason string `json:"reason"`
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("orchestrator returned %d: %s: %s", resp.StatusCode, e.Reason, e.Detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *orchestratorClient) register(ctx context.Context, workerType string, capabilities []string) (string, error) {
	req := map[string]any{"worker_type": workerType, "capabilities": capabilities}
	var resp struct {
		WorkerID string `json:"worker_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/workers/register", req, &resp); err != nil {
		return "", err
	}
	return resp.WorkerID, nil
}

func (c *orchestratorClient) heartbeat(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodPost, "/api/workers/"+workerID+"/heartbeat", nil, nil)
}

func (c *orchestratorClient) pollTask(ctx context.Context, workerID string) (*domain.Task, error) {
	var resp struct {
		Task *domain.Task `json:"task"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/workers/"+workerID+"/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

func (c *orchestratorClient) submitResult(ctx context.Context, workerID, taskID string, result any) error {
	req := map[string]any{"task_id": taskID, "result": result}
	return c.do(ctx, http.MethodPost, "/api/workers/"+workerID+"/result", req, nil)
}
