package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"property-portal/internal/audit"
	"property-portal/internal/observability"
	"property-portal/internal/ratelimit"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func (c *components) handler() http.Handler {
	limited := func(category ratelimit.Category, h http.HandlerFunc) http.Handler {
		return c.limiter.Middleware(category, c.auditRateLimited, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", limited(ratelimit.CategoryLogin, c.authHandler.Login))
	mux.HandleFunc("POST /api/auth/logout", c.authHandler.Logout)
	mux.HandleFunc("GET /api/auth/session", c.authHandler.Session)
	mux.Handle("POST /api/auth/refresh", limited(ratelimit.CategoryTokenRefresh, c.authHandler.Refresh))
	mux.Handle("GET /api/auth/verify-email", limited(ratelimit.CategoryEmailVerification, c.authHandler.VerifyEmail))
	mux.Handle("POST /api/auth/verify-email", limited(ratelimit.CategoryEmailVerification, c.authHandler.VerifyEmail))
	mux.Handle("POST /api/auth/verify-email/resend", limited(ratelimit.CategoryEmailVerification, c.authHandler.ResendVerification))
	mux.Handle("POST /api/auth/password-reset/request", limited(ratelimit.CategoryPasswordReset, c.authHandler.RequestPasswordReset))
	mux.Handle("POST /api/auth/password-reset/confirm", limited(ratelimit.CategoryPasswordReset, c.authHandler.ConfirmPasswordReset))
	mux.HandleFunc("GET /api/audit/me", c.auditHandler.Mine)
	mux.HandleFunc("GET /api/audit/security", c.auditHandler.Security)
	mux.HandleFunc("GET /internal/maintenance/cleanup", c.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", c.cleanup.Handle)
	mux.HandleFunc("GET /health", healthHandler(c.health))
	if c.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))
	}

	return observability.RecoverMiddleware(c.logger,
		observability.RequestLoggingMiddleware(c.logger, c.metrics,
			c.guard.Middleware(mux)))
}

func (c *components) auditRateLimited(r *http.Request, category ratelimit.Category, decision ratelimit.Decision) {
	c.auditService.Record(r.Context(), audit.Event{
		Action:   audit.ActionRateLimited,
		Resource: audit.ResourceAuth,
		Details: map[string]any{
			"category":   string(category),
			"path":       r.URL.Path,
			"retryAfter": decision.RetryAfterSeconds(),
		},
		IP:        observability.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}

func healthHandler(database pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if database == nil || database.Ping(ctx) != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
