package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/metrics"
	"github.com/taskflow/taskflow/internal/remote"
	"github.com/taskflow/taskflow/internal/task"
)

// ErrOwnerMismatch fails an attempt whose account differs from the one the
// local store belongs to, for example after another process switched
// accounts.
var ErrOwnerMismatch = errors.New("local store belongs to another account")

// Config tunes an Orchestrator. Zero values take the defaults.
type Config struct {
	// PostPublishDelay is waited after publishing the pending set and before
	// pulling the remote snapshot, so the pull sees what was just written.
	PostPublishDelay time.Duration
	// CallTimeout bounds every single remote call.
	CallTimeout time.Duration
	// Concurrency bounds parallel remote upserts.
	Concurrency int

	Logger  logrus.FieldLogger
	Metrics *metrics.Sync
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		PostPublishDelay: 500 * time.Millisecond,
		CallTimeout:      10 * time.Second,
		Concurrency:      4,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Scheduler *Scheduler
	Local     LocalStore
	Remote    RemoteStore
	Pending   PendingQueue
	Network   Network
}

// Orchestrator implements Engine.
type Orchestrator struct {
	sched   *Scheduler
	local   LocalStore
	remote  RemoteStore
	pending PendingQueue
	network Network

	cfg     Config
	logger  logrus.FieldLogger
	metrics *metrics.Sync
	now     func() time.Time

	statusMu gosync.RWMutex
	status   StatusFunc
}

var _ Engine = (*Orchestrator)(nil)

// New creates an Orchestrator. A nil cfg.Logger logs to stderr.
func New(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.PostPublishDelay < 0 {
		cfg.PostPublishDelay = 0
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Orchestrator{
		sched:   deps.Scheduler,
		local:   deps.Local,
		remote:  deps.Remote,
		pending: deps.Pending,
		network: deps.Network,
		cfg:     cfg,
		logger:  logging.ForComponent(cfg.Logger, "sync"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// OnStatus implements Engine.
func (o *Orchestrator) OnStatus(fn StatusFunc) {
	o.statusMu.Lock()
	o.status = fn
	o.statusMu.Unlock()
}

func (o *Orchestrator) emit(isSyncing bool, message string) {
	o.statusMu.RLock()
	fn := o.status
	o.statusMu.RUnlock()
	if fn != nil {
		fn(isSyncing, message)
	}
}

// Pending implements Engine.
func (o *Orchestrator) Pending(ctx context.Context) ([]int64, error) {
	ids, err := o.pending.List(ctx)
	if err != nil {
		return nil, err
	}
	o.metrics.SetPending(len(ids))
	return ids, nil
}

// EnqueueAndMaybeSync implements Engine.
func (o *Orchestrator) EnqueueAndMaybeSync(ctx context.Context, t *task.Task) (Report, error) {
	if err := o.pending.Add(ctx, t.ID); err != nil {
		return Report{}, fmt.Errorf("failed to queue task %d for publishing: %w", t.ID, err)
	}
	o.refreshPendingGauge(ctx)

	if !o.network.IsAvailable() {
		o.logger.WithField("task_id", t.ID).Debug("offline, task queued for later")
		return Report{Outcome: OutcomeSkipped, Skip: SkipOffline}, nil
	}
	return o.RunSync(ctx, false), nil
}

// DeleteTask implements Engine.
func (o *Orchestrator) DeleteTask(ctx context.Context, id int64) error {
	if err := o.local.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	if err := o.pending.Remove(ctx, id); err != nil {
		o.logger.WithError(err).WithField("task_id", id).Warn("failed to drop pending entry")
	}
	o.refreshPendingGauge(ctx)

	if !o.network.IsAvailable() {
		o.logger.WithField("task_id", id).Info("offline, remote copy not deleted")
		return nil
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()
	if err := o.remote.Delete(callCtx, id); err != nil {
		o.logger.WithError(err).WithField("task_id", id).Warn("failed to delete remote copy")
	}
	return nil
}

// RunSync implements Engine.
func (o *Orchestrator) RunSync(ctx context.Context, forced bool) (report Report) {
	admission := o.sched.RequestSync(forced)
	if !admission.Proceed {
		report = skipReport(admission)
		o.metrics.Skipped(string(admission.Reason))
		o.logger.WithFields(logrus.Fields{
			"forced": forced,
			"reason": admission.Reason,
		}).Debug("sync skipped")
		if admission.Reason == SkipOffline || admission.Reason == SkipUnauthenticated {
			o.emit(false, report.Message())
		}
		return report
	}
	defer o.sched.Complete()

	ctx = context.WithoutCancel(ctx)
	report = Report{AttemptID: uuid.NewString()}
	log := o.logger.WithFields(logrus.Fields{
		"attempt_id": report.AttemptID,
		"forced":     forced,
		"uid":        admission.UID,
	})
	start := o.now()

	o.metrics.AttemptStarted()
	o.emit(true, MessageSyncing)
	log.Info("sync started")

	defer func() {
		report.Duration = o.now().Sub(start)
		o.metrics.AttemptFinished(string(report.Outcome), report.Duration)
		o.emit(false, report.Message())
	}()

	o.attempt(ctx, log, admission.UID, &report)
	return report
}

// attempt runs the admitted steps and fills report.
func (o *Orchestrator) attempt(ctx context.Context, log logrus.FieldLogger, uid string, report *Report) {
	var published, failed atomic.Int64
	defer func() {
		report.Published += int(published.Load())
		report.Failed += int(failed.Load())
	}()

	if err := o.checkOwner(ctx, uid); err != nil {
		o.fail(log, report, err)
		return
	}

	// Publish-before-pull: saves made since the last attempt go out first.
	skip := o.publishPending(ctx, log, &published, &failed)
	if published.Load() > 0 && o.cfg.PostPublishDelay > 0 {
		time.Sleep(o.cfg.PostPublishDelay)
	}

	var localSnap, remoteSnap []*task.Task
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localSnap, err = o.local.GetAll(gctx)
		if err != nil {
			return fmt.Errorf("failed to read local snapshot: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, o.cfg.CallTimeout)
		defer cancel()
		var err error
		remoteSnap, err = o.remote.FetchAll(callCtx)
		if err != nil {
			return fmt.Errorf("failed to read remote snapshot: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		o.fail(log, report, err)
		return
	}
	// The store may have been handed to another account while the
	// snapshots were read.
	if err := o.checkOwner(ctx, uid); err != nil {
		o.fail(log, report, err)
		return
	}

	plan := Reconcile(localSnap, remoteSnap)
	log.WithFields(logrus.Fields{
		"local":          len(localSnap),
		"remote":         len(remoteSnap),
		"remote_upserts": len(plan.RemoteUpserts),
		"local_upserts":  len(plan.LocalUpserts),
	}).Debug("reconciled snapshots")

	g = &errgroup.Group{}
	g.SetLimit(o.cfg.Concurrency)
	for _, t := range plan.RemoteUpserts {
		if skip[t.ID] {
			continue
		}
		g.Go(func() error {
			if o.publish(ctx, log, t) {
				published.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	existing := make(map[int64]bool, len(localSnap))
	for _, t := range localSnap {
		existing[t.ID] = true
	}
	for _, t := range plan.LocalUpserts {
		err := o.pull(ctx, t, existing[t.ID])
		o.metrics.Transfer(metrics.DirectionPull, transferResult(err))
		if err != nil {
			failed.Add(1)
			log.WithError(err).WithFields(logrus.Fields{
				"task_id":   t.ID,
				"direction": metrics.DirectionPull,
				"transient": remote.IsTransient(err),
			}).Warn("failed to pull task")
			continue
		}
		report.Pulled++
	}

	report.Outcome = OutcomeSynced
	log.WithFields(logrus.Fields{
		"published": published.Load(),
		"pulled":    report.Pulled,
		"failed":    failed.Load(),
	}).Info("sync finished")
}

// publishPending publishes the newest local copy of every queued id. It
// returns the ids that failed so the reconciliation pass does not retry them
// in the same attempt.
//
// An entry is removed only if it was not re-queued while its task was being
// published; otherwise it stays for the next attempt.
func (o *Orchestrator) publishPending(ctx context.Context, log logrus.FieldLogger, published, failed *atomic.Int64) map[int64]bool {
	ids, err := o.pending.List(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read pending set")
		return nil
	}

	var mu gosync.Mutex
	skip := make(map[int64]bool)
	fail := func(id int64) {
		failed.Add(1)
		mu.Lock()
		skip[id] = true
		mu.Unlock()
	}

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			plog := log.WithField("task_id", id)
			version, queued, err := o.pending.Version(ctx, id)
			if err != nil {
				plog.WithError(err).Warn("failed to read pending entry")
				fail(id)
				return nil
			}
			if !queued {
				// Published by another process since List.
				return nil
			}

			t, err := o.local.GetByID(ctx, id)
			if errors.Is(err, task.ErrNotFound) {
				// Deleted after it was queued.
				_, _ = o.pending.RemoveVersion(ctx, id, version)
				return nil
			}
			if err != nil {
				plog.WithError(err).Warn("failed to read pending task")
				fail(id)
				return nil
			}

			if !o.publish(ctx, log, t) {
				fail(id)
				return nil
			}
			published.Add(1)

			removed, err := o.pending.RemoveVersion(ctx, id, version)
			if err != nil {
				plog.WithError(err).Warn("failed to dequeue published task")
			} else if !removed {
				plog.Debug("task saved again while publishing, left pending")
			}
			return nil
		})
	}
	_ = g.Wait()

	o.refreshPendingGauge(ctx)
	return skip
}

// publish upserts one task remotely and reports success. Failures and panics
// are logged, never returned.
func (o *Orchestrator) publish(ctx context.Context, log logrus.FieldLogger, t *task.Task) bool {
	err := o.guard(func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		return o.remote.Upsert(callCtx, t)
	})
	o.metrics.Transfer(metrics.DirectionPublish, transferResult(err))
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"task_id":   t.ID,
			"direction": metrics.DirectionPublish,
			"transient": remote.IsTransient(err),
		}).Warn("failed to publish task")
		return false
	}
	return true
}

// pull writes a remote task into the local store.
func (o *Orchestrator) pull(ctx context.Context, t *task.Task, exists bool) error {
	return o.guard(func() error {
		if exists {
			return o.local.Update(ctx, t)
		}
		_, err := o.local.Insert(ctx, t)
		return err
	})
}

// checkOwner refuses an attempt for uid when the local store belongs to
// another account.
func (o *Orchestrator) checkOwner(ctx context.Context, uid string) error {
	owned, ok := o.local.(OwnedStore)
	if !ok {
		return nil
	}
	owner, err := owned.Owner(ctx)
	if err != nil {
		return fmt.Errorf("failed to read local store owner: %w", err)
	}
	if owner != "" && owner != uid {
		return fmt.Errorf("%w: store belongs to %q, attempt runs for %q", ErrOwnerMismatch, owner, uid)
	}
	return nil
}

func (o *Orchestrator) fail(log logrus.FieldLogger, report *Report, err error) {
	report.Outcome = OutcomeFailed
	report.Err = err
	log.WithError(err).Error("sync attempt failed")
}

// transferResult maps a per-task error to its metrics label.
func transferResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case remote.IsTransient(err):
		return metrics.ResultTransient
	}
	return metrics.ResultPermanent
}

// guard turns a panic in fn into an error.
func (o *Orchestrator) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (o *Orchestrator) refreshPendingGauge(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	if ids, err := o.pending.List(ctx); err == nil {
		o.metrics.SetPending(len(ids))
	}
}
