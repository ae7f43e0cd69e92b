// Package sync keeps the local task store and the account's remote task
// collection in agreement.
//
// # Overview
//
// The package has three parts:
//
//	Scheduler     admission gate: one attempt at a time, minimum interval
//	              between automatic attempts, offline and signed-out skips
//	Reconcile     pure merge of a local and a remote snapshot into a Plan
//	Orchestrator  runs an admitted attempt and reports the outcome
//
// One attempt looks like this:
//
//	pending set ──publish──▶ remote        (saves made since last attempt)
//	        wait post-publish delay
//	local snapshot ┐
//	               ├─▶ Reconcile ─▶ Plan
//	remote snapshot┘
//	Plan.RemoteUpserts ──publish──▶ remote (bounded concurrency)
//	Plan.LocalUpserts  ──pull────▶ local   (sequential)
//
// # Conflict rule
//
// When both stores hold the same id, the copy with the later CreatedAt wins
// and ties keep the local copy. Edits do not change CreatedAt, so an edit to
// an older task can lose to a stale copy of a newer one. Reconciliation never
// deletes: a task missing from one side is treated as not yet synced.
//
// # Account ownership
//
// A local store that records its owning account (OwnedStore) is checked
// before the attempt starts and again before anything is applied. An attempt
// for another account fails with ErrOwnerMismatch, which keeps a process
// with a stale session from mixing two accounts' tasks.
//
// # Usage
//
//	sched := sync.NewScheduler(network, identity, sync.SchedulerConfig{})
//	engine := sync.New(sync.Deps{
//	    Scheduler: sched,
//	    Local:     db,
//	    Remote:    remote.NewScoped(backend, session),
//	    Pending:   db.Pending(),
//	    Network:   network,
//	}, sync.DefaultConfig())
//
//	engine.OnStatus(func(syncing bool, msg string) { fmt.Println(msg) })
//	report := engine.RunSync(ctx, true)
package sync
