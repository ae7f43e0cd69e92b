package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskflow/taskflow/internal/task"
)

// PostgresConfig points the self-hosted backend at a database.
type PostgresConfig struct {
	DSN            string        `mapstructure:"dsn"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Postgres keeps the same document layout as Firestore in a single JSONB
// table keyed by (uid, doc_key).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and creates the documents table.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS task_documents (
    uid        TEXT        NOT NULL,
    doc_key    TEXT        NOT NULL,
    task_id    BIGINT      NOT NULL,
    data       JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (uid, doc_key)
)
`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize task_documents: %w", err)
	}
	return nil
}

// Upsert implements Backend.
func (p *Postgres) Upsert(ctx context.Context, uid string, t *task.Task) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", t.DocKey(), err)
	}

	const upsertQuery = `
INSERT INTO task_documents (uid, doc_key, task_id, data, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (uid, doc_key) DO UPDATE
SET data = EXCLUDED.data,
    task_id = EXCLUDED.task_id,
    updated_at = now()
`
	if _, err := p.pool.Exec(ctx, upsertQuery, uid, t.DocKey(), t.ID, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.DocKey(), err)
	}
	return nil
}

// FetchAll implements Backend.
func (p *Postgres) FetchAll(ctx context.Context, uid string) ([]*task.Task, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}

	const selectQuery = `
SELECT data
FROM task_documents
WHERE uid = $1
ORDER BY task_id
`
	rows, err := p.pool.Query(ctx, selectQuery, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	out := []*task.Task{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan task document: %w", err)
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode task document: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task documents: %w", err)
	}
	return out, nil
}

// Delete implements Backend.
func (p *Postgres) Delete(ctx context.Context, uid string, id int64) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	const deleteQuery = `DELETE FROM task_documents WHERE uid = $1 AND doc_key = $2`
	if _, err := p.pool.Exec(ctx, deleteQuery, uid, task.DocKey(id)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", task.DocKey(id), err)
	}
	return nil
}

// Close implements Backend.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
