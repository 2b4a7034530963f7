package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

// SQLiteSnapshotRepository keeps snapshots in the local snapshots table.
type SQLiteSnapshotRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteSnapshotRepository constructs the repository over an open database.
func NewSQLiteSnapshotRepository(db *sqlx.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db, now: time.Now}
}

// Get returns the raw snapshot stored for key.
func (r *SQLiteSnapshotRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.GetContext(ctx, &value, `SELECT value FROM snapshots WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return value, nil
}

// Set replaces the snapshot stored for key.
func (r *SQLiteSnapshotRepository) Set(ctx context.Context, key string, value []byte) error {
	const query = `INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, key, value, r.now().UnixMilli()); err != nil {
		return fmt.Errorf("set snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *SQLiteSnapshotRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// List returns the keys starting with prefix, sorted.
func (r *SQLiteSnapshotRepository) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.db.SelectContext(ctx, &keys,
		`SELECT key FROM snapshots WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", prefix, err)
	}
	return keys, nil
}
