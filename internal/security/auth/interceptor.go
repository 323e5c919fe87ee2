package auth

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Config holds authentication configuration.
type Config struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Token       string   `yaml:"token" json:"token"`
	SkipPaths   []string `yaml:"skip_paths" json:"skip_paths"`
}

// DefaultConfig returns default auth configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		SkipPaths: []string{"/health"},
	}
}

// Middleware provides bearer-token authentication for net/http handlers,
// adapted from a gRPC unary interceptor to the core's plain-HTTP
// transport: same enabled/token/skip-list shape, metadata lookup
// replaced by the Authorization header.
type Middleware struct {
	enabled   bool
	token     string
	skipPaths map[string]bool
}

// NewMiddleware creates a new authentication middleware.
func NewMiddleware(cfg Config) *Middleware {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return &Middleware{
		enabled:   cfg.Enabled,
		token:     cfg.Token,
		skipPaths: skip,
	}
}

// Wrap returns next guarded by bearer-token validation.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled || m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		if err := m.validate(r); err != nil {
			log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg(err.Error())
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) validate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return errMissingToken
	}

	token, ok := ParseBearerToken(header)
	if !ok {
		return errInvalidFormat
	}

	if !ValidateToken(token, m.token) {
		return errInvalidToken
	}

	return nil
}

var (
	errMissingToken  = authError("authorization token required")
	errInvalidFormat = authError("invalid authorization format")
	errInvalidToken  = authError("invalid token")
)

type authError string

func (e authError) Error() string { return string(e) }
