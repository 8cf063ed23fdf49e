package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the auth core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	LoginAttempts      *prometheus.CounterVec
	RateLimitDenied    *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	loginAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"})

	rateLimitDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "ratelimit",
		Name:      "denied_total",
		Help:      "Requests rejected by the rate limiter partitioned by category.",
	}, []string{"category"})

	auditWriteFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "audit",
		Name:      "write_failures_total",
		Help:      "Audit entries that could not be persisted.",
	})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests partitioned by method and status code.",
	}, []string{"method", "status"})

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latencies in seconds partitioned by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	m := &Metrics{}

	var err error
	if m.LoginAttempts, err = registerCollector(reg, loginAttempts); err != nil {
		return nil, err
	}
	if m.RateLimitDenied, err = registerCollector(reg, rateLimitDenied); err != nil {
		return nil, err
	}
	if m.AuditWriteFailures, err = registerCollector[prometheus.Counter](reg, auditWriteFailures); err != nil {
		return nil, err
	}
	if m.HTTPRequests, err = registerCollector(reg, httpRequests); err != nil {
		return nil, err
	}
	if m.HTTPDuration, err = registerCollector(reg, httpDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// registerCollector reuses an already registered collector of the same type,
// which happens when the serverless entry point rebuilds the runtime.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil || m.LoginAttempts == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited(category string) {
	if m == nil || m.RateLimitDenied == nil {
		return
	}
	m.RateLimitDenied.WithLabelValues(category).Inc()
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil || m.AuditWriteFailures == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}
