package sync

import (
	"context"

	"github.com/taskflow/taskflow/internal/task"
)

// Engine runs sync attempts between the local store and the remote store.
//
// Every entry point goes through the Scheduler, so at most one attempt runs
// at a time no matter how many triggers fire (user command, network restored,
// periodic resume, local change). Callers that lose the race get a skip
// report immediately instead of waiting.
type Engine interface {
	// RunSync executes one sync attempt end to end.
	//
	// A refused attempt returns a report with Outcome == OutcomeSkipped and
	// performs no I/O. An admitted attempt publishes the pending set, pulls
	// both snapshots, reconciles them and applies the result. Per-task
	// failures are counted in the report. A failed snapshot fetch, or a
	// local store owned by another account (ErrOwnerMismatch), makes the
	// attempt itself fail (OutcomeFailed).
	//
	// The attempt is detached from ctx cancellation once admitted: it always
	// runs to completion, bounded by the per-call timeout.
	//
	// Example:
	//   report := engine.RunSync(ctx, true)
	//   fmt.Println(report.Message())
	RunSync(ctx context.Context, forced bool) Report

	// EnqueueAndMaybeSync records t as needing publication and, when the
	// network is available, runs a non-forced attempt.
	//
	// It is called after every local create or update. Saving the same task
	// several times before a sync publishes only its newest version once.
	//
	// Returns an error only if the pending set cannot be updated.
	EnqueueAndMaybeSync(ctx context.Context, t *task.Task) (Report, error)

	// DeleteTask removes a task everywhere right away.
	//
	// The local row and its pending entry are removed first. The remote
	// document is removed when the network is available; a remote failure is
	// logged and not returned. Reconciliation never deletes, so this is the
	// only path by which a task disappears from the remote store.
	DeleteTask(ctx context.Context, id int64) error

	// OnStatus registers the status callback, replacing any previous one.
	// It receives (true, "Syncing...") when an attempt starts and
	// (false, summary) when it ends.
	OnStatus(fn StatusFunc)

	// Pending lists task ids saved locally and not yet published.
	Pending(ctx context.Context) ([]int64, error)
}

// StatusFunc receives sync state transitions for display.
type StatusFunc func(isSyncing bool, message string)

// LocalStore is the device-local task store.
type LocalStore interface {
	GetAll(ctx context.Context) ([]*task.Task, error)
	// GetByID returns an error wrapping task.ErrNotFound for a missing id.
	GetByID(ctx context.Context, id int64) (*task.Task, error)
	// Insert keeps a non-zero t.ID.
	Insert(ctx context.Context, t *task.Task) (int64, error)
	Update(ctx context.Context, t *task.Task) error
	Delete(ctx context.Context, id int64) error
}

// RemoteStore is the remote task collection of the signed-in account. Every
// call is a silent no-op while signed out.
type RemoteStore interface {
	Upsert(ctx context.Context, t *task.Task) error
	FetchAll(ctx context.Context) ([]*task.Task, error)
	Delete(ctx context.Context, id int64) error
}

// OwnedStore is a LocalStore that records which account its tasks belong
// to. An empty owner means no account has claimed the store yet.
type OwnedStore interface {
	LocalStore
	Owner(ctx context.Context) (string, error)
}

// PendingQueue is the set of task ids awaiting publication. Every Add gives
// the entry a new version.
type PendingQueue interface {
	Add(ctx context.Context, id int64) error
	List(ctx context.Context) ([]int64, error)
	// Version reports the entry's current version; ok is false if id is not
	// queued.
	Version(ctx context.Context, id int64) (version string, ok bool, err error)
	Remove(ctx context.Context, id int64) error
	// RemoveVersion removes id only while its version is unchanged.
	RemoveVersion(ctx context.Context, id int64, version string) (bool, error)
}

// Network reports connectivity.
type Network interface {
	IsAvailable() bool
}

// Identity reports the signed-in account; "" means signed out.
type Identity interface {
	UID() string
}
