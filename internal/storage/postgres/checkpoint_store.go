package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/repo-harvester/internal/harvest"
)

// CheckpointStore keeps the last persisted cursor per query.
type CheckpointStore struct {
	pool  Pool
	table string
}

// NewCheckpointStore builds a CheckpointStore over pool.
func NewCheckpointStore(pool Pool, table string) (*CheckpointStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTables().Checkpoints
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CheckpointStore{pool: pool, table: table}, nil
}

// Load returns the checkpoint for key. ok is false when none exists.
func (s *CheckpointStore) Load(ctx context.Context, key string) (harvest.Checkpoint, bool, error) {
	cp := harvest.Checkpoint{Key: key}
	query := fmt.Sprintf(`SELECT cursor, updated_at FROM %s WHERE query_key = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, key).Scan(&cp.Cursor, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return harvest.Checkpoint{}, false, nil
	}
	if err != nil {
		return harvest.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, true, nil
}

// Save inserts or replaces the checkpoint for cp.Key.
func (s *CheckpointStore) Save(ctx context.Context, cp harvest.Checkpoint) error {
	if cp.Key == "" {
		return fmt.Errorf("checkpoint key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (query_key, cursor, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (query_key) DO UPDATE SET
	cursor = EXCLUDED.cursor,
	updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, cp.Key, cp.Cursor, cp.UpdatedAt); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint for key.
func (s *CheckpointStore) Clear(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE query_key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
