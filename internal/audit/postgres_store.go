package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var entryColumns = []string{
	"id", "actor_id", "action", "resource", "resource_id", "details", "ip_address", "user_agent", "created_at",
}

type PostgresStore struct {
	db pgExecutor
}

func NewPostgresStore(db pgExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, entry Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	query, args, err := psql.Insert("audit_logs").
		Columns(entryColumns...).
		Values(
			entry.ID,
			entry.ActorID,
			string(entry.Action),
			entry.Resource,
			entry.ResourceID,
			details,
			entry.IPAddress,
			entry.UserAgent,
			entry.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByActor(ctx context.Context, actorID int64, limit int) ([]Entry, error) {
	builder := psql.Select(entryColumns...).
		From("audit_logs").
		Where(sq.Eq{"actor_id": actorID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	return s.list(ctx, builder)
}

func (s *PostgresStore) ListByActions(ctx context.Context, actions []Action, since time.Time, limit int) ([]Entry, error) {
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, string(action))
	}

	builder := psql.Select(entryColumns...).
		From("audit_logs").
		Where(sq.Eq{"action": names}).
		Where(sq.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	return s.list(ctx, builder)
}

func (s *PostgresStore) list(ctx context.Context, builder sq.SelectBuilder) ([]Entry, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry   Entry
			action  string
			details []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&action,
			&entry.Resource,
			&entry.ResourceID,
			&details,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		entry.Action = Action(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}

	return entries, nil
}
