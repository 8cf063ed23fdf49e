package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"property-portal/internal/identity"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var credentialColumns = []string{
	"id",
	"email",
	"password_hash",
	"role",
	"name",
	"company_name",
	"email_verified",
	"failed_login_attempts",
	"locked_until",
	"last_login_at",
}

// Repository is the PostgreSQL CredentialStore and LockoutStore.
type Repository struct {
	db pgExecutor
}

func NewRepository(db pgExecutor) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (CredentialRecord, error) {
	query, args, err := psql.Select(credentialColumns...).
		From("users").
		Where("LOWER(email) = LOWER(?)", normalizeEmail(email)).
		ToSql()
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("build user by email query: %w", err)
	}

	record, err := scanCredential(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CredentialRecord{}, ErrCredentialNotFound
		}
		return CredentialRecord{}, fmt.Errorf("query user by email: %w", err)
	}
	return record, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (CredentialRecord, error) {
	query, args, err := psql.Select(credentialColumns...).
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("build user by id query: %w", err)
	}

	record, err := scanCredential(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CredentialRecord{}, ErrCredentialNotFound
		}
		return CredentialRecord{}, fmt.Errorf("query user by id: %w", err)
	}
	return record, nil
}

func scanCredential(row pgx.Row) (CredentialRecord, error) {
	var (
		record CredentialRecord
		role   string
	)
	if err := row.Scan(
		&record.ID,
		&record.Email,
		&record.PasswordHash,
		&role,
		&record.Name,
		&record.CompanyName,
		&record.EmailVerified,
		&record.FailedLoginAttempts,
		&record.LockedUntil,
		&record.LastLoginAt,
	); err != nil {
		return CredentialRecord{}, err
	}
	record.Role = identity.Role(role)
	return record, nil
}

func (r *Repository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return r.execOne(ctx, "touch last login", `
		UPDATE users
		SET last_login_at = $2, updated_at = $2
		WHERE id = $1
	`, id, at.UTC())
}

func (r *Repository) MarkEmailVerified(ctx context.Context, id int64) error {
	return r.execOne(ctx, "mark email verified", `
		UPDATE users
		SET email_verified = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (r *Repository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return r.execOne(ctx, "update password hash", `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
	`, id, hash)
}

// UpsertAdmin creates or promotes the bootstrap administrator.
func (r *Repository) UpsertAdmin(ctx context.Context, email, hash string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, email_verified)
		VALUES ($1, $2, 'admin', TRUE)
		ON CONFLICT ((LOWER(email))) DO UPDATE
		SET
			password_hash = EXCLUDED.password_hash,
			role = 'admin',
			email_verified = TRUE,
			failed_login_attempts = 0,
			locked_until = NULL,
			updated_at = NOW()
		RETURNING id
	`, normalizeEmail(email), hash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert admin user: %w", err)
	}
	return id, nil
}

// IncrementFailure updates the counter and lock in one statement so
// concurrent failures cannot lose increments.
func (r *Repository) IncrementFailure(ctx context.Context, id int64, threshold int, lockFor time.Duration, now time.Time) (LockoutState, error) {
	now = now.UTC()

	var state LockoutState
	err := r.db.QueryRow(ctx, `
		UPDATE users
		SET
			failed_login_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until > $2::timestamptz THEN failed_login_attempts
				WHEN locked_until IS NOT NULL THEN 1
				ELSE failed_login_attempts + 1
			END,
			locked_until = CASE
				WHEN locked_until IS NOT NULL AND locked_until > $2::timestamptz THEN locked_until
				WHEN locked_until IS NOT NULL AND 1 >= $3::int THEN $4::timestamptz
				WHEN locked_until IS NULL AND failed_login_attempts + 1 >= $3::int THEN $4::timestamptz
				ELSE NULL
			END,
			updated_at = $2::timestamptz
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`, id, now, threshold, now.Add(lockFor)).Scan(&state.FailedAttempts, &state.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LockoutState{}, ErrCredentialNotFound
		}
		return LockoutState{}, fmt.Errorf("increment failed login attempts: %w", err)
	}

	if state.LockedUntil != nil {
		until := state.LockedUntil.UTC()
		state.LockedUntil = &until
	}
	return state, nil
}

func (r *Repository) Reset(ctx context.Context, id int64) error {
	return r.execOne(ctx, "reset failed login attempts", `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
}

// ClearExpiredLockouts resets up to batchSize accounts whose lock has run out.
func (r *Repository) ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	tag, err := r.db.Exec(ctx, `
		WITH expired AS (
			SELECT id
			FROM users
			WHERE locked_until IS NOT NULL AND locked_until <= $1
			ORDER BY locked_until ASC
			LIMIT $2
		)
		UPDATE users u
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = $1
		FROM expired
		WHERE u.id = expired.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired lockouts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) execOne(ctx context.Context, operation, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
