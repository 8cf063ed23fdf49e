package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LockoutState is the failure counter and lock expiry of one credential.
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockoutStore persists lockout counters. IncrementFailure must read and
// update the counter as a single atomic step:
//
//   - while locked (lockedUntil > now) nothing changes
//   - after an expired lock the series restarts at 1
//   - reaching threshold sets lockedUntil = now + lockFor
type LockoutStore interface {
	IncrementFailure(ctx context.Context, credentialID int64, threshold int, lockFor time.Duration, now time.Time) (LockoutState, error)
	Reset(ctx context.Context, credentialID int64) error
}

type LockoutPolicy struct {
	store     LockoutStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

type LockoutOption func(*LockoutPolicy)

func WithLockoutClock(now func() time.Time) LockoutOption {
	return func(p *LockoutPolicy) {
		p.now = now
	}
}

func NewLockoutPolicy(store LockoutStore, threshold int, duration time.Duration, opts ...LockoutOption) (*LockoutPolicy, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("lockout threshold must be positive, got %d", threshold)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("lockout duration must be positive, got %s", duration)
	}

	p := &LockoutPolicy{
		store:     store,
		threshold: threshold,
		duration:  duration,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *LockoutPolicy) RecordFailure(ctx context.Context, credentialID int64) (LockoutState, error) {
	state, err := p.store.IncrementFailure(ctx, credentialID, p.threshold, p.duration, p.now())
	if err != nil {
		return LockoutState{}, fmt.Errorf("record login failure: %w", err)
	}
	return state, nil
}

func (p *LockoutPolicy) RecordSuccess(ctx context.Context, credentialID int64) error {
	if err := p.store.Reset(ctx, credentialID); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

func (p *LockoutPolicy) IsLocked(state LockoutState) bool {
	return state.LockedUntil != nil && p.now().Before(*state.LockedUntil)
}

// RetryAfter is the time left on the lock, zero when not locked.
func (p *LockoutPolicy) RetryAfter(state LockoutState) time.Duration {
	if !p.IsLocked(state) {
		return 0
	}
	return state.LockedUntil.Sub(p.now())
}

// Check returns an AccountLocked error when record is currently locked.
func (p *LockoutPolicy) Check(record CredentialRecord) error {
	state := StateOf(record)
	if p.IsLocked(state) {
		return accountLocked(p.RetryAfter(state))
	}
	return nil
}

func StateOf(record CredentialRecord) LockoutState {
	return LockoutState{FailedAttempts: record.FailedLoginAttempts, LockedUntil: record.LockedUntil}
}
