// Package server implements the orchestrator's external JSON-over-HTTP
// surface: worker register/heartbeat/poll/result, producer submit/
// status/cancel, and LLM provider health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/latency"
	"github.com/taskmesh/taskmesh/internal/observability/metrics"
	"github.com/taskmesh/taskmesh/internal/orchestrator/queue"
	"github.com/taskmesh/taskmesh/internal/orchestrator/registry"
	"github.com/taskmesh/taskmesh/internal/orchestrator/tasks"
	"github.com/taskmesh/taskmesh/internal/security/auth"
	tlsconfig "github.com/taskmesh/taskmesh/internal/security/tls"
	"github.com/taskmesh/taskmesh/internal/security/validation"
)

// Config holds the orchestrator HTTP server configuration.
type Config struct {
	Port              int
	AuthToken         string
	HeartbeatTTL      time.Duration
	RateLimitPerSec   float64
	RateLimitBurst    int
	TLSCertFile       string
	TLSKeyFile        string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		HeartbeatTTL:    60 * time.Second,
		RateLimitPerSec: 50,
		RateLimitBurst:  100,
	}
}

// TaskEvent is emitted on task lifecycle transitions for the dashboard.
type TaskEvent struct {
	ID           string
	TaskType     string
	Status       string
	WorkerID     string
	StartedAt    int64
	CompletedAt  int64
	DurationMs   int64
	ErrorMessage string
}

// EventNotifier is called when task events occur.
type EventNotifier interface {
	NotifyTaskStarted(event *TaskEvent)
	NotifyTaskCompleted(event *TaskEvent)
}

// LLMHealthProvider abstracts the LLM fallback manager for the
// /api/llm/health endpoint, keeping this package free of an import
// cycle against internal/llm/fallback.
type LLMHealthProvider interface {
	Snapshot() any
}

// Server implements the orchestrator's HTTP API.
type Server struct {
	config        Config
	httpServer    *http.Server
	registry      registry.Registry
	queue         *queue.Queue
	store         *tasks.Store
	authMW        *auth.Middleware
	eventNotifier EventNotifier
	llmHealth     LLMHealthProvider
	startedAt     time.Time
	latency       *latency.LatencyTracker

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	totalTasks   int64
	successTasks int64
	failedTasks  int64
}

// New creates a new orchestrator HTTP server wired to reg/q/store.
func New(cfg Config, reg registry.Registry, q *queue.Queue, store *tasks.Store) *Server {
	authCfg := auth.DefaultConfig()
	authCfg.Enabled = cfg.AuthToken != ""
	authCfg.Token = cfg.AuthToken
	authCfg.SkipPaths = []string{"/health"}

	return &Server{
		config:    cfg,
		registry:  reg,
		queue:     q,
		store:     store,
		authMW:    auth.NewMiddleware(authCfg),
		startedAt: time.Now(),
		limiters:  make(map[string]*rate.Limiter),
		latency:   latency.NewLatencyTracker(),
	}
}

// SetEventNotifier wires a dashboard event sink.
func (s *Server) SetEventNotifier(n EventNotifier) { s.eventNotifier = n }

// SetLLMHealthProvider wires the /api/llm/health data source.
func (s *Server) SetLLMHealthProvider(p LLMHealthProvider) { s.llmHealth = p }

// Registry returns the worker registry, for wiring the sweeper/dashboard.
func (s *Server) Registry() registry.Registry { return s.registry }

// Queue returns the task queue, for wiring the sweeper/dashboard.
func (s *Server) Queue() *queue.Queue { return s.queue }

// Store returns the task store, for wiring the sweeper/dashboard.
func (s *Server) Store() *tasks.Store { return s.store }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/workers/register", s.handleRegisterWorker)
	mux.HandleFunc("/api/workers/list", s.handleListWorkers)
	mux.HandleFunc("/api/tasks/submit", s.handleSubmitTask)
	mux.HandleFunc("/api/llm/health", s.handleLLMHealth)
	// Path-parameterized routes are dispatched by prefix rather than
	// the 1.22 method+wildcard ServeMux syntax, to keep routing logic
	// in one place alongside the auth/rate-limit middleware wrapping.
	mux.HandleFunc("/api/workers/", s.handleWorkerSubroutes)
	mux.HandleFunc("/api/tasks/status/", s.handleTaskStatus)
	mux.HandleFunc("/api/tasks/", s.handleTaskSubroutes)

	return s.withMiddleware(mux)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return s.authMW.Wrap(s.rateLimit(next))
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.limiterFor(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.config.RateLimitPerSec), s.config.RateLimitBurst)
		s.limiters[key] = lim
	}
	return lim
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Start begins serving the orchestrator HTTP API. Blocks until Stop.
// When TLSCertFile/TLSKeyFile are set, the API is served over TLS 1.2+
// instead of plaintext (internal/security/tls's ambient loader, shared
// with the slave daemon's HTTP surface).
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.routes(),
	}

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		tlsCfg := tlsconfig.DefaultConfig()
		tlsCfg.Enabled = true
		tlsCfg.CertFile = s.config.TLSCertFile
		tlsCfg.KeyFile = s.config.TLSKeyFile
		loaded, err := tlsconfig.LoadServerTLS(tlsCfg)
		if err != nil {
			return fmt.Errorf("load orchestrator TLS config: %w", err)
		}
		s.httpServer.TLSConfig = loaded

		log.Info().Int("port", s.config.Port).Msg("orchestrator HTTP server starting (TLS)")
		if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	log.Info().Int("port", s.config.Port).Msg("orchestrator HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// --- handlers ---

type healthResponse struct {
	Status        string `json:"status"`
	WorkersOnline int    `json:"workers_online"`
	TasksPending  int    `json:"tasks_pending"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	online := 0
	for _, worker := range s.registry.List() {
		if worker.Status == domain.WorkerStatusOnline {
			online++
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		WorkersOnline: online,
		TasksPending:  s.queue.Len(),
	})
}

type registerWorkerRequest struct {
	WorkerType   string   `json:"worker_type"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint,omitempty"`
}

type registerWorkerResponse struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}
	if err := validation.ValidateWorkerRegistration(req.WorkerType, req.Capabilities); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	workerID := fmt.Sprintf("worker-%s-%d", req.WorkerType, time.Now().UnixNano())
	worker := &domain.Worker{
		ID:           workerID,
		Type:         req.WorkerType,
		Capabilities: req.Capabilities,
		Endpoint:     req.Endpoint,
	}
	if err := s.registry.Add(worker); err != nil {
		writeError(w, http.StatusInternalServerError, "registration_failed", err.Error())
		return
	}

	log.Info().
		Str("worker_id", workerID).
		Str("worker_type", req.WorkerType).
		Strs("capabilities", req.Capabilities).
		Msg("worker registered")

	writeJSON(w, http.StatusOK, registerWorkerResponse{WorkerID: workerID})
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": s.registry.List()})
}

// handleWorkerSubroutes dispatches /api/workers/{id}/heartbeat,
// /api/workers/{id}/tasks, /api/workers/{id}/result.
func (s *Server) handleWorkerSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/workers/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	workerID, action := parts[0], parts[1]
	switch action {
	case "heartbeat":
		s.handleHeartbeat(w, r, workerID)
	case "tasks":
		s.handlePollTask(w, r, workerID)
	case "result":
		s.handleSubmitResult(w, r, workerID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown worker route")
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, workerID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	if err := s.registry.Heartbeat(workerID); err != nil {
		writeError(w, http.StatusNotFound, "unknown_worker", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pollTaskResponse struct {
	Task *domain.Task `json:"task"`
}

func (s *Server) handlePollTask(w http.ResponseWriter, r *http.Request, workerID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	worker, ok := s.registry.Get(workerID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_worker", "worker not registered")
		return
	}
	if worker.Status != domain.WorkerStatusOnline {
		writeJSON(w, http.StatusOK, pollTaskResponse{Task: nil})
		return
	}

	task, err := s.queue.PollForWorker(worker.Capabilities, time.Now())
	if err != nil {
		writeJSON(w, http.StatusOK, pollTaskResponse{Task: nil})
		return
	}

	assigned, err := s.store.Assign(task.ID, workerID, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "assign_failed", err.Error())
		return
	}
	if err := s.registry.AssignTask(workerID, task.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "assign_failed", err.Error())
		return
	}

	atomic.AddInt64(&s.totalTasks, 1)

	if s.eventNotifier != nil {
		s.eventNotifier.NotifyTaskStarted(&TaskEvent{
			ID:        assigned.ID,
			TaskType:  string(assigned.Type),
			Status:    "assigned",
			WorkerID:  workerID,
			StartedAt: time.Now().Unix(),
		})
	}

	writeJSON(w, http.StatusOK, pollTaskResponse{Task: assigned})
}

type submitResultRequest struct {
	TaskID string `json:"task_id"`
	Result any    `json:"result"`
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request, workerID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "malformed_request", "task_id required")
		return
	}

	before, _ := s.store.Get(req.TaskID)

	err := s.store.Complete(req.TaskID, workerID, req.Result)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_task", err.Error())
		return
	case errors.Is(err, tasks.ErrWrongWorker):
		writeError(w, http.StatusConflict, "wrong_worker", err.Error())
		return
	case errors.Is(err, tasks.ErrNotAssigned):
		writeError(w, http.StatusConflict, "not_assigned", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "complete_failed", err.Error())
		return
	}

	_ = s.registry.CompleteTask(workerID, true)
	atomic.AddInt64(&s.successTasks, 1)

	now := time.Now()
	if before != nil && !before.AssignedAt.IsZero() {
		latencyMs := float64(now.Sub(before.AssignedAt).Milliseconds())
		s.latency.Record(workerID, latencyMs)
		metrics.Default().RecordWorkerLatency(workerID, latencyMs)
	}

	if s.eventNotifier != nil {
		s.eventNotifier.NotifyTaskCompleted(&TaskEvent{
			ID:          req.TaskID,
			Status:      "completed",
			WorkerID:    workerID,
			CompletedAt: now.Unix(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

type submitTaskRequest struct {
	Type                 domain.TaskType    `json:"type"`
	Data                 domain.TaskPayload `json:"data"`
	Priority             int                `json:"priority"`
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
	ExpiresAt            *time.Time         `json:"expires_at,omitempty"`
}

type submitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}
	if req.Priority == 0 {
		req.Priority = 1 // unset priority defaults to the lowest tier, matching domain.NewTask's clamp
	}
	sub := validation.TaskSubmission{
		Type:                 req.Type,
		Payload:              req.Data,
		Priority:             req.Priority,
		RequiredCapabilities: req.RequiredCapabilities,
	}
	if err := validation.ValidateTaskSubmission(sub); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	task := domain.NewTask(req.Type, req.Data, req.Priority, req.RequiredCapabilities)
	task.ExpiresAt = req.ExpiresAt

	s.store.Add(task)
	s.queue.Enqueue(task)

	writeJSON(w, http.StatusOK, submitTaskResponse{TaskID: task.ID, Status: string(task.Status)})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/status/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "malformed_request", "task_id required")
		return
	}

	task, ok := s.store.Get(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_task", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTaskSubroutes dispatches the DELETE /api/tasks/{task_id}
// cancellation endpoint.
func (s *Server) handleTaskSubroutes(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "DELETE only")
		return
	}

	if err := s.queue.Remove(taskID); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
		writeError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
		return
	}

	switch err := s.store.Cancel(taskID); {
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown_task", err.Error())
	case errors.Is(err, tasks.ErrNotCancellable):
		writeError(w, http.StatusConflict, "not_cancellable", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "cancel_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) handleLLMHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET only")
		return
	}
	if s.llmHealth == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unconfigured"})
		return
	}
	writeJSON(w, http.StatusOK, s.llmHealth.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type errorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, code int, reason, detail string) {
	writeJSON(w, code, errorResponse{Status: "error", Reason: reason, Detail: detail})
}
