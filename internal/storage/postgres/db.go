package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Tables names the tables the stores write to.
type Tables struct {
	Repositories string
	Checkpoints  string
	Runs         string
}

// DefaultTables returns the stock table names.
func DefaultTables() Tables {
	return Tables{
		Repositories: "repositories",
		Checkpoints:  "crawl_checkpoints",
		Runs:         "crawl_runs",
	}
}

// Validate rejects table names that are unsafe to interpolate into SQL.
func (t Tables) Validate() error {
	for _, name := range []string{t.Repositories, t.Checkpoints, t.Runs} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Pool is the subset of *pgxpool.Pool the stores need. pgxmock pools
// satisfy it as well.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database.url is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// VerifySchema checks that every table exists. The schema itself is
// managed outside the harvester; see the package documentation.
func VerifySchema(ctx context.Context, pool Pool, tables Tables) error {
	if err := tables.Validate(); err != nil {
		return err
	}
	for _, name := range []string{tables.Repositories, tables.Checkpoints, tables.Runs} {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", name, err)
		}
		if !exists {
			return fmt.Errorf("table %s does not exist", name)
		}
	}
	return nil
}
