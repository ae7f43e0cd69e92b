// Package app wires the local store, the remote store, the account guard and
// the sync engine into the operations the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/account"
	"github.com/taskflow/taskflow/internal/config"
	"github.com/taskflow/taskflow/internal/localdb"
	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/metrics"
	"github.com/taskflow/taskflow/internal/netwatch"
	"github.com/taskflow/taskflow/internal/remote"
	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/task"
	"github.com/taskflow/taskflow/internal/transfer"
)

// Options override parts of the configured wiring.
type Options struct {
	// Backend replaces the remote backend named in the config. App.Close
	// closes it.
	Backend remote.Backend
	// Network replaces the oracle built from network.mode.
	Network netwatch.Oracle
	Logger  logrus.FieldLogger
}

// App is one opened taskflow data directory.
type App struct {
	cfg     *config.Config
	logger  logrus.FieldLogger
	local   *localdb.DB
	backend remote.Backend
	network netwatch.Oracle
	prober  *netwatch.Prober
	guard   *account.Guard
	sched   *tfsync.Scheduler
	engine  *tfsync.Orchestrator

	registry *prometheus.Registry
	metrics  *metrics.Sync
	now      func() time.Time

	probeOnce sync.Once
	probeCtx  context.Context
	probeStop context.CancelFunc
}

// Open builds an App from cfg. The caller MUST call Close.
func Open(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	a := &App{
		cfg:      cfg,
		logger:   logging.ForComponent(logger, "app"),
		registry: prometheus.NewRegistry(),
		now:      time.Now,
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewSync(a.registry)
	a.probeCtx, a.probeStop = context.WithCancel(context.WithoutCancel(ctx))

	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.local, err = localdb.OpenWithOptions(ctx, cfg.Local.Path, localdb.Options{
		Driver: cfg.Local.Driver,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	a.backend = opts.Backend
	if a.backend == nil {
		a.backend, err = remote.Open(ctx, cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("failed to open remote store: %w", err)
		}
	}

	a.network = opts.Network
	if a.network == nil {
		a.network = a.buildNetwork(logger)
	}

	// The scheduler reads the signed-in uid from the guard, and the guard
	// holds the scheduler's gate while it switches accounts.
	identity := remote.IdentityFunc(func() string { return a.guard.UID() })
	a.sched = tfsync.NewScheduler(a.network, identity, tfsync.SchedulerConfig{
		MinInterval: cfg.Sync.MinInterval,
	})
	a.guard, err = account.NewGuard(a.sched, a.local, account.NewFileRecorder(cfg.SessionPath()), logger)
	if err != nil {
		return nil, err
	}

	a.engine = tfsync.New(tfsync.Deps{
		Scheduler: a.sched,
		Local:     a.local,
		Remote:    remote.NewScoped(a.backend, a.guard).WithLogger(logger),
		Pending:   a.local.Pending(),
		Network:   a.network,
	}, tfsync.Config{
		PostPublishDelay: cfg.Sync.PostPublishDelay,
		CallTimeout:      cfg.Sync.CallTimeout,
		Concurrency:      cfg.Sync.Concurrency,
		Logger:           logger,
		Metrics:          a.metrics,
	})
	return a, nil
}

func (a *App) buildNetwork(logger logrus.FieldLogger) netwatch.Oracle {
	switch a.cfg.Network.Mode {
	case config.NetworkOnline:
		return netwatch.NewStatic(true)
	case config.NetworkOffline:
		return netwatch.NewStatic(false)
	}
	a.prober = netwatch.NewProber(netwatch.ProberConfig{
		Address:  a.cfg.Network.ProbeAddress,
		Interval: a.cfg.Network.ProbeInterval,
		Timeout:  a.cfg.Network.ProbeTimeout,
		Logger:   logger,
	})
	return a.prober
}

// online starts the prober on first use so commands that never touch the
// network do not wait for a probe.
func (a *App) online() bool {
	if a.prober != nil {
		a.probeOnce.Do(func() { a.prober.Start(a.probeCtx) })
	}
	return a.network.IsAvailable()
}

// Close releases every store. Safe on a partially opened App.
func (a *App) Close() error {
	if a.probeStop != nil {
		a.probeStop()
	}
	if a.prober != nil {
		a.prober.Stop()
	}
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.local != nil {
		errs = append(errs, a.local.Close())
	}
	return errors.Join(errs...)
}

// Config returns the configuration the App was opened with.
func (a *App) Config() *config.Config { return a.cfg }

// Engine returns the sync engine.
func (a *App) Engine() *tfsync.Orchestrator { return a.engine }

// Registry returns the metrics registry.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// AddTask stores a new task, fills creation defaults and publishes it when
// possible.
func (a *App) AddTask(ctx context.Context, t *task.Task) (tfsync.Report, error) {
	t.ID = 0
	t.SetDefaults(a.now())
	if _, err := a.local.Insert(ctx, t); err != nil {
		return tfsync.Report{}, err
	}
	a.logger.WithField("task_id", t.ID).Debug("task added")
	return a.publish(ctx, t)
}

// UpdateTask saves an edited task and publishes it when possible.
func (a *App) UpdateTask(ctx context.Context, t *task.Task) (tfsync.Report, error) {
	if err := a.local.Update(ctx, t); err != nil {
		return tfsync.Report{}, err
	}
	return a.publish(ctx, t)
}

// ToggleComplete flips the completion flag of task id.
func (a *App) ToggleComplete(ctx context.Context, id int64) (*task.Task, tfsync.Report, error) {
	t, err := a.local.GetByID(ctx, id)
	if err != nil {
		return nil, tfsync.Report{}, err
	}
	t.IsCompleted = !t.IsCompleted
	if err := a.local.SetCompleted(ctx, id, t.IsCompleted); err != nil {
		return nil, tfsync.Report{}, err
	}
	report, err := a.publish(ctx, t)
	return t, report, err
}

func (a *App) publish(ctx context.Context, t *task.Task) (tfsync.Report, error) {
	a.online()
	return a.engine.EnqueueAndMaybeSync(ctx, t)
}

// DeleteTask removes task id locally and, when online, remotely.
func (a *App) DeleteTask(ctx context.Context, id int64) error {
	if _, err := a.local.GetByID(ctx, id); err != nil {
		return err
	}
	a.online()
	return a.engine.DeleteTask(ctx, id)
}

// Task returns task id.
func (a *App) Task(ctx context.Context, id int64) (*task.Task, error) {
	return a.local.GetByID(ctx, id)
}

// Tasks lists tasks ordered by deadline. Completed tasks are included only
// with all.
func (a *App) Tasks(ctx context.Context, all bool) ([]*task.Task, error) {
	if all {
		return a.local.GetAll(ctx)
	}
	return a.local.GetIncomplete(ctx)
}

// Sync runs one sync attempt.
func (a *App) Sync(ctx context.Context, forced bool) tfsync.Report {
	a.online()
	return a.engine.RunSync(ctx, forced)
}

// SignIn switches the recorded account, wiping local tasks when it differs
// from the previous one, then runs a forced sync.
func (a *App) SignIn(ctx context.Context, uid, email string) (bool, tfsync.Report, error) {
	wiped, err := a.guard.SignIn(ctx, uid, email)
	if err != nil {
		return wiped, tfsync.Report{}, err
	}
	return wiped, a.Sync(ctx, true), nil
}

// SignOut clears the signed-in account. Local tasks stay.
func (a *App) SignOut(ctx context.Context) error {
	return a.guard.SignOut(ctx)
}

// Session returns the recorded account session.
func (a *App) Session() account.Session {
	return a.guard.Session()
}

// Status is a point-in-time summary for the status command.
type Status struct {
	Session  account.Session
	Backend  string
	Network  string
	Online   bool
	Total    int
	Pending  int
	DataDir  string
	Database string
}

// Status reports the account, the store sizes and connectivity.
func (a *App) Status(ctx context.Context) (*Status, error) {
	total, err := a.local.Count(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := a.engine.Pending(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Session:  a.guard.Session(),
		Backend:  a.cfg.Remote.Backend,
		Network:  a.cfg.Network.Mode,
		Online:   a.online(),
		Total:    total,
		Pending:  len(pending),
		DataDir:  a.cfg.DataDir,
		Database: a.local.Path(),
	}, nil
}

// Export writes every local task to path.
func (a *App) Export(ctx context.Context, path string, format transfer.Format) (int, error) {
	return transfer.Export(ctx, a.local, path, format)
}

// Import loads tasks from a file, queues every inserted task for publishing
// and runs an automatic sync when anything was inserted.
func (a *App) Import(ctx context.Context, opts transfer.ImportOptions) (*transfer.ImportResult, tfsync.Report, error) {
	if opts.Now == nil {
		opts.Now = a.now
	}
	result, err := transfer.Import(ctx, a.local, opts)
	if err != nil || opts.DryRun || len(result.Tasks) == 0 {
		return result, tfsync.Report{}, err
	}

	queue := a.local.Pending()
	for _, t := range result.Tasks {
		if err := queue.Add(ctx, t.ID); err != nil {
			return result, tfsync.Report{}, fmt.Errorf("failed to queue task %d for publishing: %w", t.ID, err)
		}
	}
	if !a.online() {
		return result, tfsync.Report{Outcome: tfsync.OutcomeSkipped, Skip: tfsync.SkipOffline}, nil
	}
	return result, a.engine.RunSync(ctx, false), nil
}
