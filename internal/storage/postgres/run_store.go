package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

// RunStore records crawl run history.
type RunStore struct {
	pool  Pool
	table string
}

// NewRunStore builds a RunStore over pool.
func NewRunStore(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTables().Runs
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// StartRun inserts a new run row.
func (s *RunStore) StartRun(ctx context.Context, run harvest.Run) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, query, target, started_at, status)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Query, run.Target, run.StartedAt, string(run.Status)); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run.
func (s *RunStore) FinishRun(ctx context.Context, run harvest.Run) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $2, status = $3, reason = $4, total = $5, pages = $6, error_message = $7
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		run.ID,
		run.FinishedAt,
		string(run.Status),
		string(run.Reason),
		run.Total,
		run.Pages,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]harvest.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id, query, target, started_at, finished_at, status, reason, total, pages, error_message
FROM %s
ORDER BY started_at DESC
LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []harvest.Run
	for rows.Next() {
		var (
			run        harvest.Run
			id         uuid.UUID
			finishedAt *time.Time
			status     string
			reason     string
		)
		if err := rows.Scan(
			&id,
			&run.Query,
			&run.Target,
			&run.StartedAt,
			&finishedAt,
			&status,
			&reason,
			&run.Total,
			&run.Pages,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.ID = id
		run.FinishedAt = finishedAt
		run.Status = harvest.RunStatus(status)
		run.Reason = harvest.Reason(reason)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
