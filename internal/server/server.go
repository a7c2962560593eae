package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/shishin/internal/auth"
	"github.com/ashita-ai/shishin/internal/model"
	"github.com/ashita-ai/shishin/internal/ratelimit"
	"github.com/ashita-ai/shishin/internal/service/guidelines"
	"github.com/ashita-ai/shishin/internal/storage"
)

// Server is the Shishin HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): EvaluateLimiter, MutationLimiter, AuthLimiter,
// Broker, MCPServer, OpenAPISpec, ExtraRoutes, Middleware.
type ServerConfig struct {
	// Required dependencies.
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	GuidelineSvc *guidelines.Service
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	EvaluateLimiter ratelimit.Limiter
	MutationLimiter ratelimit.Limiter
	AuthLimiter     ratelimit.Limiter
	Broker          *Broker
	MCPServer       *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	MaxImportItems      int

	// Optional embedded assets.
	OpenAPISpec []byte // Embedded OpenAPI YAML.

	// Embedding hooks for library consumers.
	ExtraRoutes func(mux *http.ServeMux, requireRole RoleMiddlewareFn)
	Middleware  func(http.Handler) http.Handler
}

// RoleMiddlewareFn builds middleware enforcing a minimum agent role.
// Passed to ExtraRoutes so embedded routes share the server's RBAC chain.
type RoleMiddlewareFn func(minimum model.AgentRole) func(http.Handler) http.Handler

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Svc:                 cfg.GuidelineSvc,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxImportItems:      cfg.MaxImportItems,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	evalRL := ratelimit.Middleware(cfg.EvaluateLimiter, agentKeyFunc, reqIDFunc)
	mutationRL := ratelimit.Middleware(cfg.MutationLimiter, agentKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.AuthLimiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Agent management (admin-only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/agents", adminOnly(http.HandlerFunc(h.HandleCreateAgent)))

	// Guideline mutations (agent+, rate limited). Delete is admin-only:
	// the audit snapshot is the only remaining record after a delete.
	writeRole := requireRole(model.RoleAgent)
	mux.Handle("POST /v1/guidelines", mutationRL(writeRole(http.HandlerFunc(h.HandleCreateGuideline))))
	mux.Handle("PUT /v1/guidelines/{id}", mutationRL(writeRole(http.HandlerFunc(h.HandleUpdateGuideline))))
	mux.Handle("POST /v1/guidelines/{id}/toggle", mutationRL(writeRole(http.HandlerFunc(h.HandleToggleGuideline))))
	mux.Handle("DELETE /v1/guidelines/{id}", mutationRL(adminOnly(http.HandlerFunc(h.HandleDeleteGuideline))))

	// Guideline reads (reader+, no rate limit).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/guidelines", readRole(http.HandlerFunc(h.HandleListGuidelines)))
	mux.Handle("GET /v1/guidelines/{id}", readRole(http.HandlerFunc(h.HandleGetGuideline)))

	// Evaluation (agent+, rate limited).
	mux.Handle("POST /v1/evaluate", evalRL(writeRole(http.HandlerFunc(h.HandleEvaluate))))

	// Audit trail (reader+).
	mux.Handle("GET /v1/audit", readRole(http.HandlerFunc(h.HandleListAudit)))
	mux.Handle("GET /v1/audit/verify", readRole(http.HandlerFunc(h.HandleVerifyAudit)))

	// Bulk transfer. Export is reader+; import creates guidelines in bulk
	// and is restricted to admins.
	mux.Handle("GET /v1/export/guidelines", readRole(http.HandlerFunc(h.HandleExportGuidelines)))
	mux.Handle("POST /v1/import/guidelines", adminOnly(http.HandlerFunc(h.HandleImportGuidelines)))

	// Subscription endpoint (reader+, no rate limit — long-lived connection).
	mux.Handle("GET /v1/subscribe", readRole(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	if cfg.ExtraRoutes != nil {
		cfg.ExtraRoutes(mux, requireRole)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	if cfg.Middleware != nil {
		handler = cfg.Middleware(handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// agentKeyFunc extracts the agent ID from the request context for rate limiting.
// Returns empty string for admin roles (exempt from rate limits).
func agentKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return claims.AgentID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
