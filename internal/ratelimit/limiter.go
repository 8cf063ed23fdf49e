// Package ratelimit implements fixed-window request counting keyed by
// (identifier, category).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"property-portal/internal/observability"
)

type Category string

const (
	CategoryLogin             Category = "login"
	CategoryEmailVerification Category = "email_verification"
	CategoryPasswordReset     Category = "password_reset"
	CategoryTokenRefresh      Category = "token_refresh"
)

// Rule allows Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Counter is the state of one bucket after an increment.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// Store increments the bucket for key and returns its state. The increment
// and the window reset must be a single atomic step.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RetryAfterSeconds rounds up and never reports less than one second for a
// denied request.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

var ErrUnknownCategory = errors.New("unknown rate limit category")

type Limiter struct {
	store   Store
	rules   map[Category]Rule
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = metrics
	}
}

func NewLimiter(store Store, rules map[Category]Rule, logger *observability.Logger, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	for category, rule := range rules {
		if rule.Limit <= 0 || rule.Window <= 0 {
			return nil, fmt.Errorf("rate limit rule for %s must have positive limit and window", category)
		}
	}

	l := &Limiter{
		store:  store,
		rules:  rules,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check counts one hit for identifier in category.
//
// A store failure fails open: the request is allowed and the error is
// logged. Account lockout still bounds password guessing in that case.
func (l *Limiter) Check(ctx context.Context, identifier string, category Category) (Decision, error) {
	rule, ok := l.rules[category]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if identifier == "" {
		identifier = "unknown"
	}

	now := l.now()
	counter, err := l.store.Increment(ctx, bucketKey(category, identifier), rule.Window, now)
	if err != nil {
		observability.CaptureError("rate_limit_increment", err)
		l.logger.Error("rate_limit_store_failed", map[string]any{
			"category": string(category),
			"error":    err.Error(),
		})
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit}, nil
	}

	resetAt := counter.WindowStart.Add(rule.Window)
	decision := Decision{
		Allowed:   counter.Count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-counter.Count, 0),
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = max(resetAt.Sub(now), time.Second)
		l.metrics.RateLimited(string(category))
	}

	return decision, nil
}

func bucketKey(category Category, identifier string) string {
	return string(category) + ":" + identifier
}
