// Package server implements the remote-execution daemon's HTTP surface
// (spec §4.4: GET /api/health, GET /api/version, POST /api/execute),
// grounded on the teacher's internal/worker/server/grpc.go Server shape
// (capability-backed handshake + task dispatch) with the transport
// swapped from gRPC to plain JSON-over-HTTP, matching the client
// contract internal/slave/manager/manager.go already dials.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/security/auth"
	tlsconfig "github.com/taskmesh/taskmesh/internal/security/tls"
	"github.com/taskmesh/taskmesh/internal/security/validation"
	"github.com/taskmesh/taskmesh/internal/slave/capability"
	"github.com/taskmesh/taskmesh/internal/slave/executor"
)

// Config holds the slave daemon's HTTP server configuration.
type Config struct {
	Port           int
	Token          string
	WorkDir        string
	ExecuteTimeout time.Duration
	MaxOutputBytes int
	TLSCertFile    string
	TLSKeyFile     string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           7700,
		ExecuteTimeout: 300 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// Server implements the slave daemon's HTTP API.
type Server struct {
	config     Config
	httpServer *http.Server
	executor   *executor.Manager
	caps       *capability.Capabilities
	version    domain.MasterVersion
	authMW     *auth.Middleware
	startedAt  time.Time
}

// New creates a slave HTTP server dispatching shell_exec work through
// execMgr, advertising caps, and reporting version as its own identity.
func New(cfg Config, execMgr *executor.Manager, caps *capability.Capabilities, version domain.MasterVersion) *Server {
	authCfg := auth.DefaultConfig()
	authCfg.Enabled = cfg.Token != ""
	authCfg.Token = cfg.Token
	authCfg.SkipPaths = []string{}

	return &Server{
		config:    cfg,
		executor:  execMgr,
		caps:      caps,
		version:   version,
		authMW:    auth.NewMiddleware(authCfg),
		startedAt: time.Now(),
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/execute", s.handleExecute)
	return s.authMW.Wrap(mux)
}

// Start begins serving the slave HTTP API. Blocks until Stop. When
// TLSCertFile/TLSKeyFile are configured, the daemon serves over TLS
// 1.2+ rather than plaintext, matching the orchestrator's own surface.
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
			return fmt.Errorf("load slave TLS config: %w", err)
		}
		s.httpServer.TLSConfig = loaded

		log.Info().Int("port", s.config.Port).Msg("slave HTTP daemon starting (TLS)")
		if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	log.Info().Int("port", s.config.Port).Msg("slave HTTP daemon starting")
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

// healthResponse mirrors internal/slave/manager.healthResponse — this
// is the wire contract the master's probe decodes.
type healthResponse struct {
	Status           string   `json:"status"`
	ExecutionMethods []string `json:"execution_methods"`
	Version          string   `json:"version"`
	Commit           string   `json:"commit"`
	Branch           string   `json:"branch"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ExecutionMethods: s.caps.ExecutionMethods,
		Version:          s.version.Version,
		Commit:           s.version.Commit,
		Branch:           s.version.Branch,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, s.version)
}

// executeRequest/executeResponse mirror
// internal/slave/manager.executeRequest/executeResponse.
type executeRequest struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
}

type executeResponse struct {
	Success   bool   `json:"success"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exit_code"`
	Method    string `json:"method"`
	Truncated bool   `json:"truncated"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}

	workDir := s.config.WorkDir
	if req.WorkingDir != "" {
		resolved := validation.SanitizePath(s.config.WorkDir, req.WorkingDir)
		if resolved == "" {
			writeError(w, http.StatusBadRequest, "working_dir escapes the configured work directory")
			return
		}
		workDir = resolved
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ExecuteTimeout)
	defer cancel()

	exec := s.executor.Select(s.caps.ExecutionMethods)
	result, err := exec.Execute(ctx, &executor.Request{
		Command:        req.Command,
		WorkingDir:     workDir,
		Timeout:        s.config.ExecuteTimeout,
		MaxOutputBytes: s.config.MaxOutputBytes,
	})
	if err != nil {
		log.Error().Err(err).Str("method", exec.Name()).Msg("remote execution failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Success:   result.Success,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		ExitCode:  result.ExitCode,
		Method:    result.Method,
		Truncated: result.Truncated,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
