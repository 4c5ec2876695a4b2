// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/recall/internal/store"
)

// BackendSQLite is the name registered with the store factory.
const BackendSQLite = "sqlite"

func init() {
	sqlite_vec.Auto()
	store.RegisterBackend(BackendSQLite, func(ctx context.Context, cfg *store.StorageConfig, opts store.Options) (store.Backend, error) {
		return New(ctx, Config{Path: cfg.SQLitePath}, opts)
	})
}

// openDB opens path, or a private in-memory database when path is empty.
// An in-memory database lives on one connection, so the pool is pinned to it.
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == "" {
		dsn = ":memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(embedding float[%d])`,
		dimensions,
	)
	if _, err := db.ExecContext(ctx, vecDDL); err != nil {
		return fmt.Errorf("creating embeddings virtual table: %w", err)
	}

	const recordsDDL = `
CREATE TABLE IF NOT EXISTS records (
	key          TEXT PRIMARY KEY ON CONFLICT REPLACE,
	text         TEXT NOT NULL DEFAULT '',
	norm         REAL NOT NULL DEFAULT 0,
	source       TEXT,
	tags         TEXT NOT NULL DEFAULT '[]',
	embedding_id INTEGER NOT NULL
)`
	if _, err := db.ExecContext(ctx, recordsDDL); err != nil {
		return fmt.Errorf("creating records table: %w", err)
	}

	const idxDDL = `CREATE INDEX IF NOT EXISTS idx_records_embedding_id ON records(embedding_id)`
	if _, err := db.ExecContext(ctx, idxDDL); err != nil {
		return fmt.Errorf("creating records index: %w", err)
	}

	return nil
}
