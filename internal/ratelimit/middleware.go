package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"property-portal/internal/observability"
)

// DeniedFunc is called for every rejected request, before the 429 is written.
type DeniedFunc func(r *http.Request, category Category, decision Decision)

// Middleware limits requests per client IP in category.
func (l *Limiter) Middleware(category Category, onDenied DeniedFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := l.Check(r.Context(), observability.ClientIP(r), category)
		if err != nil {
			l.logger.Error("rate_limit_check_failed", map[string]any{
				"category": string(category),
				"error":    err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		WriteHeaders(w, decision)
		if !decision.Allowed {
			if onDenied != nil {
				onDenied(r, category, decision)
			}
			WriteDenied(w, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func WriteHeaders(w http.ResponseWriter, decision Decision) {
	if decision.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

func WriteDenied(w http.ResponseWriter, decision Decision) {
	retryAfter := decision.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":      "too many requests",
		"retryAfter": retryAfter,
	})
}
