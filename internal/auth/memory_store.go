package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"property-portal/internal/identity"
)

const memoryLockShards = 32

// MemoryStore is an in-process CredentialStore and LockoutStore. It backs
// tests and the memory deployment mode.
//
// mu guards the index maps only. Record fields are guarded by the shard
// lock of the record id, so updates to different accounts do not contend.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*CredentialRecord
	byEmail map[string]int64

	shards [memoryLockShards]sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[int64]*CredentialRecord),
		byEmail: make(map[string]int64),
	}
}

// Add inserts record and returns the assigned id.
func (m *MemoryStore) Add(record CredentialRecord) (int64, error) {
	email := normalizeEmail(record.Email)
	if email == "" {
		return 0, fmt.Errorf("email is required")
	}
	if record.Role == "" {
		record.Role = identity.RoleUser
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[email]; exists {
		return 0, fmt.Errorf("email %s already registered", email)
	}

	m.nextID++
	record.ID = m.nextID
	record.Email = email
	m.byID[record.ID] = &record
	m.byEmail[email] = record.ID
	return record.ID, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (CredentialRecord, error) {
	m.mu.RLock()
	id, ok := m.byEmail[normalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return CredentialRecord{}, ErrCredentialNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryStore) GetByID(_ context.Context, id int64) (CredentialRecord, error) {
	var out CredentialRecord
	err := m.update(id, func(r *CredentialRecord) {
		out = cloneRecord(r)
	})
	return out, err
}

func (m *MemoryStore) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(r *CredentialRecord) {
		at := at.UTC()
		r.LastLoginAt = &at
	})
}

func (m *MemoryStore) MarkEmailVerified(_ context.Context, id int64) error {
	return m.update(id, func(r *CredentialRecord) {
		r.EmailVerified = true
	})
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	return m.update(id, func(r *CredentialRecord) {
		r.PasswordHash = hash
	})
}

func (m *MemoryStore) UpsertAdmin(_ context.Context, email, hash string) (int64, error) {
	email = normalizeEmail(email)

	m.mu.Lock()
	id, exists := m.byEmail[email]
	if !exists {
		m.nextID++
		id = m.nextID
		m.byID[id] = &CredentialRecord{ID: id, Email: email}
		m.byEmail[email] = id
	}
	m.mu.Unlock()

	err := m.update(id, func(r *CredentialRecord) {
		r.PasswordHash = hash
		r.Role = identity.RoleAdmin
		r.EmailVerified = true
		r.FailedLoginAttempts = 0
		r.LockedUntil = nil
	})
	return id, err
}

func (m *MemoryStore) IncrementFailure(_ context.Context, id int64, threshold int, lockFor time.Duration, now time.Time) (LockoutState, error) {
	var state LockoutState
	err := m.update(id, func(r *CredentialRecord) {
		switch {
		case r.LockedUntil != nil && now.Before(*r.LockedUntil):
			// Locked: counter frozen.
		case r.LockedUntil != nil:
			r.FailedLoginAttempts = 1
			r.LockedUntil = nil
		default:
			r.FailedLoginAttempts++
		}

		if r.LockedUntil == nil && r.FailedLoginAttempts >= threshold {
			until := now.Add(lockFor).UTC()
			r.LockedUntil = &until
		}

		state = LockoutState{FailedAttempts: r.FailedLoginAttempts, LockedUntil: copyTime(r.LockedUntil)}
	})
	return state, err
}

func (m *MemoryStore) Reset(_ context.Context, id int64) error {
	return m.update(id, func(r *CredentialRecord) {
		r.FailedLoginAttempts = 0
		r.LockedUntil = nil
	})
}

// ClearExpiredLockouts resets up to batchSize accounts whose lock has run out.
func (m *MemoryStore) ClearExpiredLockouts(_ context.Context, now time.Time, batchSize int) (int64, error) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var cleared int64
	for _, id := range ids {
		if batchSize > 0 && cleared >= int64(batchSize) {
			break
		}
		_ = m.update(id, func(r *CredentialRecord) {
			if r.LockedUntil != nil && !now.Before(*r.LockedUntil) {
				r.LockedUntil = nil
				r.FailedLoginAttempts = 0
				cleared++
			}
		})
	}
	return cleared, nil
}

func (m *MemoryStore) update(id int64, fn func(*CredentialRecord)) error {
	m.mu.RLock()
	record, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return ErrCredentialNotFound
	}

	shard := &m.shards[uint64(id)%memoryLockShards]
	shard.Lock()
	defer shard.Unlock()
	fn(record)
	return nil
}

func cloneRecord(r *CredentialRecord) CredentialRecord {
	out := *r
	out.LockedUntil = copyTime(r.LockedUntil)
	out.LastLoginAt = copyTime(r.LastLoginAt)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
