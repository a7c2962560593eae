package shishin

import (
	"context"
	"net/http"
)

// EventHook receives notifications when guideline lifecycle or evaluation
// events commit. Multiple hooks may be registered via multiple WithEventHook
// calls. Hooks run synchronously on the mutating request path — a slow hook
// slows the request. Failures are logged but do not fail the originating
// request.
type EventHook interface {
	OnGuidelineEvent(ctx context.Context, event GuidelineEvent) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Registered routes share the mux, auth chain, and OTEL instrumentation with
// the built-in routes. The function is called once during New() after all
// built-in routes are registered.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides RBAC middleware for use in RouteRegistrar.
// It wraps the server's role enforcement so embedded routes use the same
// auth chain without depending on internal packages.
type AuthHelper interface {
	RequireRole(role Role) func(http.Handler) http.Handler
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including
// /health. Use for license enforcement, custom logging, or cross-cutting
// headers. Multiple middlewares are applied in registration order
// (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
