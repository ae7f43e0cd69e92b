package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const metaOwner = "owner_uid"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Owner returns the account whose tasks the store holds, or "" if no
// account has claimed it yet.
func (db *DB) Owner(ctx context.Context) (string, error) {
	var uid string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaOwner).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read store owner: %w", err)
	}
	return uid, nil
}

// SetOwner records uid as the owner without touching the tasks.
func (db *DB) SetOwner(ctx context.Context, uid string) error {
	return setMeta(ctx, db.conn, metaOwner, uid)
}

func setMeta(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
