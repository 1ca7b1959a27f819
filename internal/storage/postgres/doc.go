// Package postgres provides Postgres-backed persistence implementations.
//
// The stores expect the following tables (names are configurable):
//
//	CREATE TABLE repositories (
//		id          BIGINT PRIMARY KEY,
//		name        TEXT NOT NULL,
//		full_name   TEXT NOT NULL,
//		owner_login TEXT NOT NULL,
//		star_count  INTEGER NOT NULL,
//		created_at  TIMESTAMPTZ NOT NULL,
//		updated_at  TIMESTAMPTZ NOT NULL,
//		crawled_at  TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE crawl_checkpoints (
//		query_key  TEXT PRIMARY KEY,
//		cursor     TEXT NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE crawl_runs (
//		id            UUID PRIMARY KEY,
//		query         TEXT NOT NULL,
//		target        INTEGER NOT NULL,
//		started_at    TIMESTAMPTZ NOT NULL,
//		finished_at   TIMESTAMPTZ,
//		status        TEXT NOT NULL,
//		reason        TEXT NOT NULL DEFAULT '',
//		total         INTEGER NOT NULL DEFAULT 0,
//		pages         INTEGER NOT NULL DEFAULT 0,
//		error_message TEXT NOT NULL DEFAULT ''
//	);
package postgres
