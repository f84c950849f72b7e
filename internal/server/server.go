package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/config"
	"github.com/jonathan/resume-builder/internal/metrics"
	"github.com/jonathan/resume-builder/internal/server/middleware"
	"github.com/jonathan/resume-builder/internal/server/ratelimit"
	"github.com/jonathan/resume-builder/internal/workflow"
)

// maxBodyBytes bounds request bodies; job descriptions and graphs stay well below it
const maxBodyBytes = 2 << 20

// Pinger reports whether the document store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayHealth reports the state of the model gateway's circuit breaker
type GatewayHealth interface {
	State() string
	IsHealthy() bool
}

// Config holds server configuration
type Config struct {
	Port         int
	CookieSecure bool
	CORSOrigins  []string
	// WriteTimeout must exceed the model call timeout
	WriteTimeout time.Duration
}

// Deps are the collaborators the server routes requests to
type Deps struct {
	Workflow  *workflow.Service
	Users     UserStore
	Pinger    Pinger
	Gateway   GatewayHealth
	JWT       *config.JWTConfig
	Password  *config.PasswordConfig
	RateLimit *ratelimit.Config
}

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	handler      http.Handler
	workflow     *workflow.Service
	pinger       Pinger
	gateway      GatewayHealth
	rateLimiter  *ratelimit.Limiter
	jwtService   *JWTService
	userService  *UserService
	authHandler  *AuthHandler
	validator    *validator.Validate
	corsOrigins  []string
	cookieSecure bool
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Workflow == nil || deps.Users == nil {
		return nil, fmt.Errorf("server requires a workflow service and a user store")
	}
	if deps.JWT == nil || deps.Password == nil {
		return nil, fmt.Errorf("server requires JWT and password configuration")
	}

	s := &Server{
		workflow:     deps.Workflow,
		pinger:       deps.Pinger,
		gateway:      deps.Gateway,
		validator:    newValidator(),
		corsOrigins:  cfg.CORSOrigins,
		cookieSecure: cfg.CookieSecure,
	}
	s.rateLimiter = ratelimit.NewLimiter(deps.RateLimit)
	s.jwtService = NewJWTService(deps.JWT)
	s.userService = NewUserService(deps.Users, deps.Password)
	s.authHandler = NewAuthHandler(s.userService, s.jwtService, cfg.CookieSecure)

	requireAuth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())
	authed := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Auth
	mux.HandleFunc("POST /api/v1/auth/signup", s.authHandler.Signup)
	mux.HandleFunc("POST /api/v1/auth/login", s.authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", s.authHandler.Logout)
	mux.Handle("GET /api/v1/auth/me", authed(s.authHandler.Me))

	// Knowledge graph
	mux.Handle("GET /api/v1/users/knowledge-graph", authed(s.handleGetKnowledgeGraph))
	mux.Handle("PUT /api/v1/users/knowledge-graph", authed(s.handleReplaceKnowledgeGraph))

	// Sessions
	mux.Handle("POST /api/v1/sessions", authed(s.handleCreateSession))
	mux.Handle("GET /api/v1/sessions", authed(s.handleListSessions))
	mux.Handle("GET /api/v1/sessions/{id}", authed(s.handleGetSession))
	mux.Handle("PUT /api/v1/sessions/{id}", authed(s.handleUpdateSession))
	mux.Handle("POST /api/v1/sessions/{id}/complete", authed(s.handleCompleteSession))

	// Model-backed operations
	mux.Handle("POST /api/v1/ai/custom", authed(s.handleCustomPrompt))
	mux.Handle("POST /api/v1/ai/analyze", authed(s.handleAnalyze))
	mux.Handle("POST /api/v1/ai/compare", authed(s.handleCompare))
	mux.Handle("POST /api/v1/ai/generate-questionnaire", authed(s.handleGenerateQuestionnaire))
	mux.Handle("POST /api/v1/ai/answer-question", authed(s.handleAnswerQuestion))
	mux.Handle("POST /api/v1/ai/optimize", authed(s.handleOptimize))
	mux.Handle("POST /api/v1/ai/parse-text", authed(s.handleParseText))
	mux.Handle("POST /api/v1/ai/company-summary", authed(s.handleCompanySummary))

	s.handler = s.withLogging(s.withCORS(s.withRateLimit(mux)))

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 120 * time.Second
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the fully wrapped request handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// Close stops background work owned by the server
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// withCORS adds CORS headers for configured origins. Credentials are allowed, so the
// origin is echoed rather than answered with a wildcard.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.corsOrigins, "*") || slices.Contains(s.corsOrigins, origin)
}

// withRateLimit rejects clients that exhausted their bucket
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientIP(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs and counts every request
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		// The mux fills in Pattern on the shared request
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequest(r.Method, route, rec.status, elapsed)

		event := log.Info()
		if rec.status >= http.StatusInternalServerError {
			event = log.Error()
		} else if rec.status >= http.StatusBadRequest {
			event = log.Warn()
		}
		event.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Str("client_ip", clientIP(r)).
			Msg("request completed")
	})
}

// handleHealth reports liveness and, when configured, store reachability and
// the model gateway breaker state. An open breaker degrades but does not fail the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.gateway != nil {
		body["llm"] = s.gateway.State()
		if !s.gateway.IsHealthy() {
			body["status"] = "degraded"
		}
	}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: store unreachable")
			body["status"] = "unavailable"
			s.jsonResponse(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, body)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps err to a status and writes it. Internal failures are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.errorResponse(w, status, "internal server error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// decodeJSON reads a JSON body into v and validates its struct tags
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := readJSON(w, r, v); err != nil {
		return err
	}
	if err := s.validator.Struct(v); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return validationError(err)
	}
	return nil
}

// userID returns the authenticated caller
func (s *Server) userID(r *http.Request) (string, error) {
	id, err := middleware.GetUserID(r)
	if err != nil {
		return "", &ErrUnauthenticated{}
	}
	return id.String(), nil
}

// clientIP extracts the client identifier from the request.
// Forwarding headers are not trusted; run behind a proxy that sets RemoteAddr.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":   "rate_limit_exceeded",
		"message": "Rate limit exceeded. Please try again later.",
		"limit":   info.Limit,
	}
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds() + 0.999)
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	log.Warn().
		Str("client_ip", clientIP(r)).
		Str("path", r.URL.Path).
		Int("limit", info.Limit).
		Msg("rate limit exceeded")

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// writeJSON encodes data before touching w, so an unencodable value becomes a 500
// instead of a truncated success.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// readJSON decodes a size-limited JSON body into v
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &ErrValidation{Message: "request body is required"}
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &ErrValidation{Message: "request body too large"}
		}
		return &ErrValidation{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// pathID returns a trimmed path parameter
func pathID(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
