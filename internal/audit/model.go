// Package audit records security-relevant events in an append-only log.
//
// Every event passes through Sanitize before it reaches a Store, so details
// never carry secrets, hashes or tokens. Write failures are reported on the
// fallback channel (structured log, sentry, metrics) and never propagate to
// the caller.
package audit

import (
	"context"
	"time"
)

type Action string

const (
	ActionLoginSuccess           Action = "LOGIN_SUCCESS"
	ActionLoginFailed            Action = "LOGIN_FAILED"
	ActionLogout                 Action = "LOGOUT"
	ActionAccountLocked          Action = "ACCOUNT_LOCKED"
	ActionTokenRefreshed         Action = "TOKEN_REFRESHED"
	ActionTokenInvalid           Action = "TOKEN_INVALID"
	ActionEmailVerified          Action = "EMAIL_VERIFIED"
	ActionPasswordResetRequested Action = "PASSWORD_RESET_REQUESTED"
	ActionPasswordResetCompleted Action = "PASSWORD_RESET_COMPLETED"
	ActionPermissionDenied       Action = "PERMISSION_DENIED"
	ActionRateLimited            Action = "RATE_LIMITED"
	ActionSuspiciousActivity     Action = "SUSPICIOUS_ACTIVITY"
)

var knownActions = map[Action]struct{}{
	ActionLoginSuccess:           {},
	ActionLoginFailed:            {},
	ActionLogout:                 {},
	ActionAccountLocked:          {},
	ActionTokenRefreshed:         {},
	ActionTokenInvalid:           {},
	ActionEmailVerified:          {},
	ActionPasswordResetRequested: {},
	ActionPasswordResetCompleted: {},
	ActionPermissionDenied:       {},
	ActionRateLimited:            {},
	ActionSuspiciousActivity:     {},
}

func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// SecurityActions are the action kinds surfaced by RecentSecurityEvents.
var SecurityActions = []Action{
	ActionLoginFailed,
	ActionAccountLocked,
	ActionPermissionDenied,
	ActionSuspiciousActivity,
	ActionRateLimited,
	ActionTokenInvalid,
}

const (
	ResourceAuth    = "auth"
	ResourceUser    = "user"
	ResourceSession = "session"
	ResourceAudit   = "audit"
)

// Event is what callers hand to Record.
type Event struct {
	ActorID    *int64
	Action     Action
	Resource   string
	ResourceID string
	Details    map[string]any
	IP         string
	UserAgent  string
}

// Entry is a persisted, immutable audit record.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    *int64         `json:"actorId,omitempty"`
	Action     Action         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID *string        `json:"resourceId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ipAddress"`
	UserAgent  string         `json:"userAgent"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type Store interface {
	Insert(ctx context.Context, entry Entry) error
	ListByActor(ctx context.Context, actorID int64, limit int) ([]Entry, error)
	ListByActions(ctx context.Context, actions []Action, since time.Time, limit int) ([]Entry, error)
}

// Actor is a convenience for building Event.ActorID.
func Actor(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
