package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

// RepositoryStore upserts repository pages, one transaction per page.
type RepositoryStore struct {
	pool   Pool
	table  string
	now    func() time.Time
	query  string
	tracer trace.Tracer
}

// NewRepositoryStore builds a store over pool. now stamps crawled_at and
// defaults to UTC wall time.
func NewRepositoryStore(pool Pool, table string, now func() time.Time) (*RepositoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTables().Repositories
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, full_name, owner_login, star_count, created_at, updated_at, crawled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	star_count = EXCLUDED.star_count,
	updated_at = EXCLUDED.updated_at,
	crawled_at = EXCLUDED.crawled_at`, table)
	return &RepositoryStore{
		pool:   pool,
		table:  table,
		now:    now,
		query:  query,
		tracer: otel.Tracer("github.com/JakeFAU/repo-harvester/internal/storage/postgres"),
	}, nil
}

// Upsert writes the whole page or nothing. Name, full name, owner and
// creation time are kept from the first insert.
func (s *RepositoryStore) Upsert(ctx context.Context, repos []harvest.Repository) (written int, err error) {
	if len(repos) == 0 {
		return 0, nil
	}
	for _, repo := range repos {
		if repo.ID == 0 {
			return 0, &harvest.PersistenceError{Op: "upsert", Cause: errors.New("repository id is required")}
		}
	}

	ctx, span := s.tracer.Start(ctx, "postgres.Upsert", trace.WithAttributes(
		attribute.String("db.table", s.table),
		attribute.Int("harvest.rows", len(repos)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &harvest.PersistenceError{Op: "begin", Cause: err}
	}
	finished := false
	defer func() {
		if finished {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	crawledAt := s.now()
	for _, repo := range repos {
		if _, err := tx.Exec(ctx, s.query,
			repo.ID,
			repo.Name,
			repo.FullName,
			repo.OwnerLogin,
			repo.StarCount,
			repo.CreatedAt,
			repo.UpdatedAt,
			crawledAt,
		); err != nil {
			return 0, &harvest.PersistenceError{Op: fmt.Sprintf("upsert repository %d", repo.ID), Cause: err}
		}
	}

	finished = true
	if err := tx.Commit(ctx); err != nil {
		return 0, &harvest.PersistenceError{Op: "commit", Cause: err}
	}
	return len(repos), nil
}
