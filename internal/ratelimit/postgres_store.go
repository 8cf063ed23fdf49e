package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db pgExecutor
}

func NewPostgresStore(db pgExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	now = now.UTC()
	threshold := now.Add(-window)

	var counter Counter
	err := s.db.QueryRow(ctx, `
		INSERT INTO rate_limit_buckets (bucket_key, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (bucket_key) DO UPDATE
		SET
			hits = CASE
				WHEN rate_limit_buckets.window_started_at <= $3 THEN 1
				ELSE rate_limit_buckets.hits + 1
			END,
			window_started_at = CASE
				WHEN rate_limit_buckets.window_started_at <= $3 THEN $2
				ELSE rate_limit_buckets.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, key, now, threshold).Scan(&counter.Count, &counter.WindowStart)
	if err != nil {
		return Counter{}, fmt.Errorf("upsert rate limit bucket: %w", err)
	}

	counter.WindowStart = counter.WindowStart.UTC()
	return counter, nil
}

// DeleteStale removes up to batchSize buckets untouched since cutoff.
func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	tag, err := s.db.Exec(ctx, `
		WITH stale AS (
			SELECT bucket_key
			FROM rate_limit_buckets
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM rate_limit_buckets b
		USING stale
		WHERE b.bucket_key = stale.bucket_key
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limit buckets: %w", err)
	}

	return tag.RowsAffected(), nil
}
