package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"property-portal/internal/observability"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100

	defaultSecurityWindow = 24 * time.Hour
)

// Recorder is the write side used by the auth service and the route guard.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type Service struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(store Store, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record persists event. It never fails from the caller's point of view: a
// store error is written to the fallback channel and the entry is dropped.
func (s *Service) Record(ctx context.Context, event Event) {
	if s == nil {
		return
	}

	entry, err := s.buildEntry(event)
	if err != nil {
		s.reportFailure(event, err)
		return
	}

	// The caller's request may already be cancelled (client hung up after a
	// failed login); the audit write must still happen.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.Insert(writeCtx, entry); err != nil {
		s.reportFailure(event, fmt.Errorf("insert audit entry: %w", err))
	}
}

func (s *Service) buildEntry(event Event) (Entry, error) {
	if !event.Action.Valid() {
		return Entry{}, fmt.Errorf("unknown audit action %q", event.Action)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("generate audit id: %w", err)
	}

	resource := strings.TrimSpace(event.Resource)
	if resource == "" {
		resource = ResourceAuth
	}

	var resourceID *string
	if value := strings.TrimSpace(event.ResourceID); value != "" {
		value = truncate(value, 255)
		resourceID = &value
	}

	var actorID *int64
	if event.ActorID != nil && *event.ActorID > 0 {
		value := *event.ActorID
		actorID = &value
	}

	return Entry{
		ID:         id.String(),
		ActorID:    actorID,
		Action:     event.Action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    Sanitize(event.Details),
		IPAddress:  truncate(strings.TrimSpace(event.IP), maxIPLength),
		UserAgent:  truncate(strings.TrimSpace(event.UserAgent), maxUserAgentLength),
		CreatedAt:  s.now(),
	}, nil
}

func (s *Service) reportFailure(event Event, err error) {
	s.metrics.AuditWriteFailed()
	observability.CaptureError("audit_record", err)
	s.logger.Error("audit_write_failed", map[string]any{
		"action":   string(event.Action),
		"resource": event.Resource,
		"error":    err.Error(),
	})
}

// ForActor returns the most recent entries for actorID, newest first.
func (s *Service) ForActor(ctx context.Context, actorID int64, limit int) ([]Entry, error) {
	if actorID <= 0 {
		return []Entry{}, nil
	}

	entries, err := s.store.ListByActor(ctx, actorID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit entries for actor: %w", err)
	}
	return entries, nil
}

// RecentSecurityEvents returns security-relevant entries created within window.
func (s *Service) RecentSecurityEvents(ctx context.Context, window time.Duration, limit int) ([]Entry, error) {
	if window <= 0 {
		window = defaultSecurityWindow
	}

	entries, err := s.store.ListByActions(ctx, SecurityActions, s.now().Add(-window), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
