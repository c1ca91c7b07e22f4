package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_records (
	namespace  TEXT NOT NULL,
	name       TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (namespace, name)
);`

// SQLiteBackend keeps records in a local SQLite database.
type SQLiteBackend struct {
	db        *sql.DB
	namespace string
	logger    *slog.Logger
}

// OpenSQLiteBackend opens (or creates) the database at path and migrates it.
// Use ":memory:" for an in-memory database.
func OpenSQLiteBackend(ctx context.Context, path, namespace string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if namespace == "" {
		namespace = "default"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	b := &SQLiteBackend{
		db:        db,
		namespace: namespace,
		logger:    logger.With("component", "session-sqlite"),
	}
	if err := b.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Migrate creates the records table. It is idempotent.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	b.logger.Debug("sql", "op", "migrate")
	if _, err := b.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate session_records: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Get(ctx context.Context, name string) ([]byte, error) {
	b.logger.Debug("sql", "op", "select", "name", name)
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM session_records WHERE namespace = ? AND name = ?`,
		b.namespace, name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return data, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, name string, data []byte) error {
	b.logger.Debug("sql", "op", "upsert", "name", name)
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO session_records (namespace, name, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		b.namespace, name, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, names ...string) error {
	for _, name := range names {
		b.logger.Debug("sql", "op", "delete", "name", name)
		if _, err := b.db.ExecContext(ctx,
			`DELETE FROM session_records WHERE namespace = ? AND name = ?`,
			b.namespace, name,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return nil
}
