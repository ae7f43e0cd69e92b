package localdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PendingQueue is the durable pending-publish set. Ids are deduplicated, so
// saving the same task twice before a sync publishes it once.
//
// Every Add stamps the entry with a fresh version. A publisher reads the
// version before it reads the task and removes the entry with
// RemoveVersion, so a save that lands while the task is being published
// keeps it queued for the next attempt.
type PendingQueue struct {
	db      *DB
	now     func() time.Time
	version func() string
}

// Pending returns the pending-publish queue stored alongside the tasks.
func (db *DB) Pending() *PendingQueue {
	return &PendingQueue{db: db, now: time.Now, version: uuid.NewString}
}

// Add marks id as needing publication. Adding an id already queued keeps its
// original position and gives it a new version.
func (q *PendingQueue) Add(ctx context.Context, id int64) error {
	_, err := q.db.conn.ExecContext(ctx, `
	INSERT INTO pending_publish (task_id, enqueued_at, version) VALUES (?, ?, ?)
	ON CONFLICT(task_id) DO UPDATE SET version = excluded.version`,
		id, q.now().UnixMilli(), q.version())
	if err != nil {
		return fmt.Errorf("failed to enqueue task %d: %w", id, err)
	}
	return nil
}

// List returns queued ids, oldest first.
func (q *PendingQueue) List(ctx context.Context) ([]int64, error) {
	rows, err := q.db.conn.QueryContext(ctx,
		`SELECT task_id FROM pending_publish ORDER BY enqueued_at, task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending task: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending tasks: %w", err)
	}
	return ids, nil
}

// Version returns the current version of id's entry. ok is false when id is
// not queued.
func (q *PendingQueue) Version(ctx context.Context, id int64) (version string, ok bool, err error) {
	err = q.db.conn.QueryRowContext(ctx,
		`SELECT version FROM pending_publish WHERE task_id = ?`, id).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read pending version of task %d: %w", id, err)
	}
	return version, true, nil
}

// Remove drops id from the queue. Idempotent.
func (q *PendingQueue) Remove(ctx context.Context, id int64) error {
	if _, err := q.db.conn.ExecContext(ctx, `DELETE FROM pending_publish WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("failed to dequeue task %d: %w", id, err)
	}
	return nil
}

// RemoveVersion drops id only if its entry still has version. It reports
// whether the entry was removed; false means it was re-queued meanwhile.
func (q *PendingQueue) RemoveVersion(ctx context.Context, id int64, version string) (bool, error) {
	res, err := q.db.conn.ExecContext(ctx,
		`DELETE FROM pending_publish WHERE task_id = ? AND version = ?`, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to dequeue task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to dequeue task %d: %w", id, err)
	}
	return n > 0, nil
}
