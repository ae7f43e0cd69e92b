// Package daemon runs sync attempts in the background.
//
// The daemon turns the events that should start a sync into RunSync calls:
//  1. Startup: one forced attempt, like opening the task list.
//  2. Connectivity restored: an automatic attempt.
//  3. Resume: a forced attempt every ResumeInterval.
//  4. Local change: an automatic attempt when the local database changes
//     and tasks are waiting to be published.
//
// Attempts run one at a time on a single goroutine. A rate-limited or busy
// attempt is retried once the scheduler would admit it, so a save made
// shortly after a sync is still published without another trigger.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/logging"
	"github.com/taskflow/taskflow/internal/netwatch"
	tfsync "github.com/taskflow/taskflow/internal/sync"
)

// Trigger reasons, used in logs.
const (
	ReasonStartup     = "startup"
	ReasonNetwork     = "network_restored"
	ReasonResume      = "resume"
	ReasonLocalChange = "local_change"
	ReasonRetry       = "retry"
)

// Config holds configuration for the daemon.
type Config struct {
	// ResumeInterval is how often a forced sync runs. Zero disables it.
	ResumeInterval time.Duration

	// Debounce coalesces bursts of local database changes.
	Debounce time.Duration

	// RetryDelay is the wait before retrying an attempt that found another
	// attempt in flight.
	RetryDelay time.Duration

	// OnReport, when set, receives every attempt's report.
	OnReport func(tfsync.Report)

	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ResumeInterval: 5 * time.Minute,
		Debounce:       250 * time.Millisecond,
		RetryDelay:     2 * time.Second,
	}
}

// Engine is the part of the sync engine the daemon drives.
type Engine interface {
	RunSync(ctx context.Context, forced bool) tfsync.Report
	Pending(ctx context.Context) ([]int64, error)
}

// Changes delivers a signal after local database writes.
type Changes interface {
	Subscribe(ctx context.Context, debounce time.Duration) (<-chan struct{}, error)
}

type trigger struct {
	reason string
	forced bool
}

// Daemon drives an Engine from background events.
type Daemon struct {
	engine  Engine
	changes Changes
	network netwatch.Oracle
	config  *Config
	logger  logrus.FieldLogger

	triggers chan trigger

	retryMu sync.Mutex
	retry   *time.Timer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. Use Start to run it.
func New(engine Engine, changes Changes, network netwatch.Oracle, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if changes == nil {
		return nil, fmt.Errorf("changes cannot be nil")
	}
	if network == nil {
		return nil, fmt.Errorf("network cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Debounce <= 0 {
		config.Debounce = def.Debounce
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:   engine,
		changes:  changes,
		network:  network,
		config:   config,
		logger:   logging.ForComponent(config.Logger, "daemon"),
		triggers: make(chan trigger, 8),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start subscribes to every trigger source, queues the startup sync and
// blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon")

	changes, err := d.changes.Subscribe(d.ctx, d.config.Debounce)
	if err != nil {
		return fmt.Errorf("failed to subscribe to local changes: %w", err)
	}
	d.network.OnBecameAvailable(func() {
		d.Trigger(ReasonNetwork, false)
	})

	d.Trigger(ReasonStartup, true)

	d.wg.Add(2)
	go d.loop()
	go d.watchChanges(changes)
	if d.config.ResumeInterval > 0 {
		d.wg.Add(1)
		go d.resumeLoop()
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop unsubscribes from the network oracle and waits for the loops to
// exit. An attempt already running finishes first. Safe to call twice.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.network.OffBecameAvailable()
		d.cancel()

		d.retryMu.Lock()
		if d.retry != nil {
			d.retry.Stop()
		}
		d.retryMu.Unlock()

		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return nil
}

// Trigger queues a sync. It never blocks; when the queue is full the
// request is dropped because queued attempts cover it.
func (d *Daemon) Trigger(reason string, forced bool) {
	select {
	case d.triggers <- trigger{reason: reason, forced: forced}:
	case <-d.ctx.Done():
	default:
		d.logger.WithField("reason", reason).Debug("trigger queue full, dropping")
	}
}

func (d *Daemon) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case tr := <-d.triggers:
			d.run(tr)
		}
	}
}

func (d *Daemon) run(tr trigger) {
	log := d.logger.WithFields(logrus.Fields{"reason": tr.reason, "forced": tr.forced})

	if tr.reason == ReasonLocalChange {
		pending, err := d.engine.Pending(d.ctx)
		if err != nil {
			log.WithError(err).Warn("failed to read pending set")
		} else if len(pending) == 0 {
			log.Debug("local change with nothing to publish")
			return
		}
	}

	report := d.engine.RunSync(d.ctx, tr.forced)
	log.WithFields(logrus.Fields{
		"outcome": report.Outcome,
		"message": report.Message(),
	}).Debug("trigger handled")

	if d.config.OnReport != nil {
		d.config.OnReport(report)
	}

	if report.Outcome != tfsync.OutcomeSkipped {
		return
	}
	switch report.Skip {
	case tfsync.SkipTooSoon:
		d.scheduleRetry(report.Remaining, tr.forced)
	case tfsync.SkipInFlight:
		d.scheduleRetry(d.config.RetryDelay, tr.forced)
	}
}

// scheduleRetry re-queues a skipped attempt after delay. A later retry
// replaces an earlier one.
func (d *Daemon) scheduleRetry(delay time.Duration, forced bool) {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	if d.ctx.Err() != nil {
		return
	}
	if d.retry != nil {
		d.retry.Stop()
	}
	d.logger.WithField("delay", delay).Debug("retry scheduled")
	d.retry = time.AfterFunc(delay, func() {
		d.Trigger(ReasonRetry, forced)
	})
}

func (d *Daemon) watchChanges(changes <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			d.Trigger(ReasonLocalChange, false)
		}
	}
}

func (d *Daemon) resumeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ResumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.Trigger(ReasonResume, true)
		}
	}
}
