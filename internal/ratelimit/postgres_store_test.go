package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreIncrement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 5, 1, 9, 0, 30, 0, time.UTC)
	windowStart := now.Add(-20 * time.Second)

	mock.ExpectQuery(`INSERT INTO rate_limit_buckets`).
		WithArgs("login:198.51.100.9", now, now.Add(-time.Minute)).
		WillReturnRows(mock.NewRows([]string{"hits", "window_started_at"}).AddRow(4, windowStart))

	store := NewPostgresStore(mock)
	counter, err := store.Increment(context.Background(), "login:198.51.100.9", time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 4, counter.Count)
	assert.Equal(t, windowStart, counter.WindowStart)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreIncrementError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO rate_limit_buckets`).
		WillReturnError(errors.New("connection reset"))

	store := NewPostgresStore(mock)
	_, err = store.Increment(context.Background(), "login:x", time.Minute, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert rate limit bucket")
}

func TestPostgresStoreDeleteStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM rate_limit_buckets`).
		WithArgs(cutoff, 100).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	store := NewPostgresStore(mock)
	deleted, err := store.DeleteStale(context.Background(), cutoff, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
