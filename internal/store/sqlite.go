package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend using SQLite.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) a SQLite database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db}
	if err := b.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Get returns the stored value or ErrNotFound.
func (b *SQLiteBackend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM records WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return value, nil
}

// Apply upserts all writes in one SQL transaction.
func (b *SQLiteBackend) Apply(ctx context.Context, writes []Write) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().Unix()
	for _, w := range writes {
		if _, err := stmt.ExecContext(ctx, w.Namespace, w.Key, w.Value, now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", w.Namespace, w.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
