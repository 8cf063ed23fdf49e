package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-portal/internal/identity"
)

func TestRepositoryGetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	lastLogin := time.Date(2026, 5, 30, 8, 0, 0, 0, time.UTC)
	rows := mock.NewRows(credentialColumns).
		AddRow(int64(7), "owner@example.com", "$argon2id$hash", "admin", "Dana Owner", "Harbor Estates", true, 2, (*time.Time)(nil), &lastLogin)

	mock.ExpectQuery(`SELECT id,email,password_hash,role,name,company_name,email_verified,failed_login_attempts,locked_until,last_login_at FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("owner@example.com").
		WillReturnRows(rows)

	record, err := NewRepository(mock).GetByEmail(context.Background(), "  Owner@Example.com ")
	require.NoError(t, err)

	assert.Equal(t, int64(7), record.ID)
	assert.Equal(t, identity.RoleAdmin, record.Role)
	assert.Equal(t, "Harbor Estates", record.CompanyName)
	assert.True(t, record.EmailVerified)
	assert.Equal(t, 2, record.FailedLoginAttempts)
	assert.Nil(t, record.LockedUntil)
	require.NotNil(t, record.LastLoginAt)
	assert.Equal(t, lastLogin, *record.LastLoginAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRepository(mock).GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryIncrementFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	lockedUntil := now.Add(15 * time.Minute)

	mock.ExpectQuery(`UPDATE users\s+SET\s+failed_login_attempts = CASE`).
		WithArgs(int64(7), now, 5, lockedUntil).
		WillReturnRows(mock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(5, &lockedUntil))

	state, err := NewRepository(mock).IncrementFailure(context.Background(), 7, 5, 15*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 5, state.FailedAttempts)
	require.NotNil(t, state.LockedUntil)
	assert.Equal(t, lockedUntil, *state.LockedUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryIncrementFailureUnknownUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`UPDATE users`).
		WithArgs(int64(3), pgxmock.AnyArg(), 5, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRepository(mock).IncrementFailure(context.Background(), 3, 5, time.Minute, time.Now())
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryExecOneReportsMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE users\s+SET failed_login_attempts = 0, locked_until = NULL`).
		WithArgs(int64(11)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`UPDATE users\s+SET email_verified = TRUE`).
		WithArgs(int64(12)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewRepository(mock)
	assert.ErrorIs(t, repo.Reset(context.Background(), 11), ErrCredentialNotFound)
	assert.NoError(t, repo.MarkEmailVerified(context.Background(), 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryClearExpiredLockouts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`WITH expired AS`).
		WithArgs(now, 500).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	cleared, err := NewRepository(mock).ClearExpiredLockouts(context.Background(), now, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cleared)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryUpsertAdmin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO users \(email, password_hash, role, email_verified\)`).
		WithArgs("admin@example.com", "$argon2id$hash").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))

	id, err := NewRepository(mock).UpsertAdmin(context.Background(), "Admin@Example.com", "$argon2id$hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.NoError(t, mock.ExpectationsWereMet())
}
