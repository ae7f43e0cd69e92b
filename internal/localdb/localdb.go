// Package localdb is the embedded task store that backs taskflow.
//
// The store is the user's working copy: every mutation lands here first and
// the sync engine publishes it to the remote store later. It runs on SQLite
// (ncruces/go-sqlite3, pure Go via wazero) in WAL mode, so a CLI process and
// the background daemon can use the same file concurrently.
//
// Layout:
//   - tasks: one row per task, id is an AUTOINCREMENT integer so ids are
//     never reused, not even after DeleteAll.
//   - pending_publish: ids saved locally that still need to be published,
//     each with the version stamped by its latest enqueue.
//   - meta: key/value pairs; "owner_uid" names the account whose tasks the
//     store holds.
//
// Build with -tags libsql to open the file through go-libsql instead.
package localdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/task"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	// DriverSQLite is the pure Go driver compiled into every build.
	DriverSQLite = "sqlite3"
	// DriverLibSQL is available only in builds with the libsql tag.
	DriverLibSQL = "libsql"
)

// ErrNotFound is returned when no task has the requested id.
var ErrNotFound = task.ErrNotFound

// drivers lists the database/sql drivers compiled into this binary.
var drivers = map[string]bool{DriverSQLite: true}

// Options configures Open.
type Options struct {
	// Driver is DriverSQLite (default) or DriverLibSQL.
	Driver string
	Logger logrus.FieldLogger
}

// DB is the local task store.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	logger logrus.FieldLogger

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	subID  int
	closed chan struct{}
}

// Open opens (creating if needed) the store at path with the default driver
// and initializes the schema.
func Open(path string) (*DB, error) {
	return OpenWithOptions(context.Background(), path, Options{})
}

// OpenWithOptions opens the store at path.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func OpenWithOptions(ctx context.Context, path string, opts Options) (*DB, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if !drivers[driver] {
		return nil, fmt.Errorf("database driver %q is not compiled into this build", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		driver: driver,
		logger: logging.ForComponent(opts.Logger, "localdb"),
		subs:   make(map[int]chan struct{}),
		closed: make(chan struct{}),
	}

	if err := db.pragma(ctx, "journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.pragma(ctx, "busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// dsn applies per-connection pragmas through the connection string where the
// driver supports it, so every pooled connection gets them.
func dsn(driver, path string) string {
	if driver == DriverSQLite {
		return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	return "file:" + path
}

// pragma runs a PRAGMA that may or may not return a row.
func (db *DB) pragma(ctx context.Context, stmt string) error {
	rows, err := db.conn.QueryContext(ctx, "PRAGMA "+stmt)
	if err != nil {
		return err
	}
	return rows.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if err := db.pragma(context.Background(), "wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.WithError(err).Warn("failed to checkpoint WAL")
	}

	db.closeSubscribers()

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the tables with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		due_date TEXT NOT NULL,  -- DD-MM-YYYY
		due_time TEXT NOT NULL,  -- HH:mm
		priority TEXT NOT NULL DEFAULT 'medium',
		is_completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,  -- ms since epoch
		reminder_time INTEGER NOT NULL DEFAULT 0,
		reminder_set INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS pending_publish (
		task_id INTEGER PRIMARY KEY,
		enqueued_at INTEGER NOT NULL,
		version TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(is_completed);
	CREATE INDEX IF NOT EXISTS idx_pending_enqueued ON pending_publish(enqueued_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db.migrate(ctx)
}

// migrate brings tables created by older builds up to date.
func (db *DB) migrate(ctx context.Context) error {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('pending_publish') WHERE name = 'version'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect pending_publish: %w", err)
	}
	if n == 0 {
		if _, err := db.conn.ExecContext(ctx,
			`ALTER TABLE pending_publish ADD COLUMN version TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add pending_publish.version: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, title, description, location, due_date, due_time,
	priority, is_completed, created_at, reminder_time, reminder_set`

// dueOrder sorts DD-MM-YYYY dates chronologically.
const dueOrder = `ORDER BY substr(due_date, 7, 4), substr(due_date, 4, 2),
	substr(due_date, 1, 2), due_time, id`

// Insert stores t and returns its id. A zero t.ID gets the next
// auto-increment id; a non-zero id (a task pulled from the remote) is kept.
// t.ID is updated in place.
func (db *DB) Insert(ctx context.Context, t *task.Task) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, fmt.Errorf("invalid task: %w", err)
	}

	var id any
	if t.ID != 0 {
		id = t.ID
	}

	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO tasks (`+taskColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.Title, t.Description, t.Location, t.DueDate, t.DueTime,
		string(t.Priority), t.IsCompleted, t.CreatedAt, t.ReminderTime, t.ReminderSet,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}

	newID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	t.ID = newID

	db.notify()
	return newID, nil
}

// Update overwrites every column of the row with t.ID.
// Returns ErrNotFound if no such row exists.
func (db *DB) Update(ctx context.Context, t *task.Task) error {
	if t.ID <= 0 {
		return fmt.Errorf("invalid task: id is required")
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
	UPDATE tasks SET
		title = ?, description = ?, location = ?, due_date = ?, due_time = ?,
		priority = ?, is_completed = ?, created_at = ?, reminder_time = ?, reminder_set = ?
	WHERE id = ?`,
		t.Title, t.Description, t.Location, t.DueDate, t.DueTime,
		string(t.Priority), t.IsCompleted, t.CreatedAt, t.ReminderTime, t.ReminderSet,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update task %d: %w", t.ID, ErrNotFound)
	}

	db.notify()
	return nil
}

// Upsert inserts t or replaces the row with the same id.
func (db *DB) Upsert(ctx context.Context, t *task.Task) error {
	if t.ID <= 0 {
		return fmt.Errorf("invalid task: id is required")
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO tasks (`+taskColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		location = excluded.location,
		due_date = excluded.due_date,
		due_time = excluded.due_time,
		priority = excluded.priority,
		is_completed = excluded.is_completed,
		created_at = excluded.created_at,
		reminder_time = excluded.reminder_time,
		reminder_set = excluded.reminder_set`,
		t.ID, t.Title, t.Description, t.Location, t.DueDate, t.DueTime,
		string(t.Priority), t.IsCompleted, t.CreatedAt, t.ReminderTime, t.ReminderSet,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %d: %w", t.ID, err)
	}

	db.notify()
	return nil
}

// SetCompleted flips the completion flag of one task.
func (db *DB) SetCompleted(ctx context.Context, id int64, completed bool) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE tasks SET is_completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update task %d: %w", id, ErrNotFound)
	}
	db.notify()
	return nil
}

// Delete removes the task and its pending-publish entry.
// Returns nil if the task doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_publish WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending entry %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify()
	return nil
}

// DeleteAll wipes every task and pending entry. The owner is kept.
func (db *DB) DeleteAll(ctx context.Context) error {
	return db.wipe(ctx, nil)
}

// Reassign wipes every task and pending entry and records uid as the owner,
// in one transaction. Used when a different account signs in.
func (db *DB) Reassign(ctx context.Context, uid string) error {
	return db.wipe(ctx, &uid)
}

func (db *DB) wipe(ctx context.Context, owner *string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_publish`); err != nil {
		return fmt.Errorf("failed to delete pending entries: %w", err)
	}
	if owner != nil {
		if err := setMeta(ctx, tx, metaOwner, *owner); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.notify()
	return nil
}

// GetByID returns one task, or an error wrapping ErrNotFound.
func (db *DB) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task %d: %w", id, err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return tasks[0], nil
}

// GetAll returns every task ordered by due date and time.
func (db *DB) GetAll(ctx context.Context) ([]*task.Task, error) {
	return db.list(ctx, `SELECT `+taskColumns+` FROM tasks `+dueOrder)
}

// GetIncomplete returns open tasks ordered by due date and time.
func (db *DB) GetIncomplete(ctx context.Context) ([]*task.Task, error) {
	return db.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE is_completed = 0 `+dueOrder)
}

// Count returns the number of stored tasks.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func (db *DB) list(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// scanTasks reads rows selected with taskColumns.
func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	tasks := []*task.Task{}

	for rows.Next() {
		var t task.Task
		var priority string
		err := rows.Scan(
			&t.ID,
			&t.Title,
			&t.Description,
			&t.Location,
			&t.DueDate,
			&t.DueTime,
			&priority,
			&t.IsCompleted,
			&t.CreatedAt,
			&t.ReminderTime,
			&t.ReminderSet,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Priority = task.Priority(priority)
		tasks = append(tasks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}
