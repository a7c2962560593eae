// Package shishin is the public API for embedding the Shishin guideline server.
//
// Enterprise and plugin consumers import this package to construct and extend
// the server without forking it:
//
//	app, err := shishin.New(
//	    shishin.WithVersion(version),
//	    shishin.WithLogger(logger),
//	    shishin.WithEventHook(myEnterpriseHook{}),
//	    shishin.WithExtraRoutes(myEnterpriseRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: shishin (root) imports
// internal/*, but internal/* never imports shishin (root). Public types
// (GuidelineEvent, Role) are standalone with no internal imports; adapters
// live here because this is the only file that sees both sides of the
// boundary.
package shishin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/shishin/api"
	"github.com/ashita-ai/shishin/internal/auth"
	"github.com/ashita-ai/shishin/internal/config"
	"github.com/ashita-ai/shishin/internal/mcp"
	"github.com/ashita-ai/shishin/internal/model"
	"github.com/ashita-ai/shishin/internal/ratelimit"
	"github.com/ashita-ai/shishin/internal/server"
	"github.com/ashita-ai/shishin/internal/service/guidelines"
	"github.com/ashita-ai/shishin/internal/storage"
	"github.com/ashita-ai/shishin/internal/telemetry"
	"github.com/ashita-ai/shishin/migrations"
)

// App is the Shishin server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	broker       *server.Broker // nil when no notify connection
	limiters     []ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Shishin server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("shishin starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()

	// Run embedded migrations, then extra (enterprise) migrations in order.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Adapt public event hooks to the internal service hook. All registered
	// hooks receive every committed event, synchronously and in order.
	var svcHook guidelines.EventHook
	if len(o.eventHooks) > 0 {
		hooks := o.eventHooks
		svcHook = func(ctx context.Context, event model.AuditEventType, guidelineID uuid.UUID) {
			ev := GuidelineEvent{Type: string(event), GuidelineID: guidelineID}
			for _, h := range hooks {
				if err := h.OnGuidelineEvent(ctx, ev); err != nil {
					logger.Warn("event hook failed", "error", err, "event_type", ev.Type)
				}
			}
		}
	}

	// Create guideline service (shared by HTTP and MCP handlers).
	svc := guidelines.New(db, logger, svcHook)

	// Create MCP server.
	mcpSrv := mcp.New(db, svc, logger, version)

	// Create SSE broker (requires LISTEN/NOTIFY connection).
	var broker *server.Broker
	if db.HasNotifyConn() {
		broker = server.NewBroker(db, logger)
	} else {
		logger.Info("SSE broker: disabled (no notify connection)")
	}

	// Rate limiters: per-minute config converted to refill-per-second buckets.
	evalRL := minuteLimiter(cfg.EvaluateRateLimit)
	mutationRL := minuteLimiter(cfg.MutationRateLimit)
	authRL := minuteLimiter(cfg.AuthRateLimit)

	// Adapt route registrars from public RouteRegistrar to internal format.
	var extraRoutes func(*http.ServeMux, server.RoleMiddlewareFn)
	if len(o.routeRegistrars) > 0 {
		registrars := o.routeRegistrars
		extraRoutes = func(mux *http.ServeMux, roleFn server.RoleMiddlewareFn) {
			helper := &authHelperImpl{roleFn: roleFn}
			for _, fn := range registrars {
				fn(mux, helper)
			}
		}
	}

	// Compose public middlewares into a single outermost wrapper.
	// First-registered is outermost (called first by every request).
	var outermost func(http.Handler) http.Handler
	if len(o.middlewares) > 0 {
		mws := o.middlewares
		outermost = func(h http.Handler) http.Handler {
			for i := len(mws) - 1; i >= 0; i-- {
				h = mws[i](h)
			}
			return h
		}
	}

	// Create HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		GuidelineSvc:        svc,
		Logger:              logger,
		EvaluateLimiter:     evalRL,
		MutationLimiter:     mutationRL,
		AuthLimiter:         authRL,
		Broker:              broker,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxImportItems:      cfg.MaxImportItems,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middleware:          outermost,
	})

	// Seed admin agent.
	if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminAPIKey); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		broker:       broker,
		limiters:     []ratelimit.Limiter{evalRL, mutationRL, authRL},
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.broker != nil {
		go a.broker.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, then closes
// the rate limiters, OTEL provider, and database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shishin shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	for _, l := range a.limiters {
		_ = l.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("shishin stopped")
	return nil
}

// minuteLimiter builds a token bucket from a requests-per-minute budget.
// The burst equals the full minute budget so short spikes are absorbed.
func minuteLimiter(perMinute int) ratelimit.Limiter {
	if perMinute <= 0 {
		return ratelimit.NoopLimiter{}
	}
	return ratelimit.NewMemoryLimiter(float64(perMinute)/60.0, perMinute)
}

// authHelperImpl implements AuthHelper using an internal server.RoleMiddlewareFn.
// Constructed in the route registrar adapter; bridges the public interface to
// the internal RBAC middleware without importing internal/server from
// enterprise code.
type authHelperImpl struct {
	roleFn server.RoleMiddlewareFn
}

func (a *authHelperImpl) RequireRole(role Role) func(http.Handler) http.Handler {
	return a.roleFn(model.AgentRole(role))
}
