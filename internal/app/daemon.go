package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/daemon"
	"github.com/taskflow/taskflow/internal/dashboard"
	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/task"
)

// DaemonOptions configure RunDaemon.
type DaemonOptions struct {
	// Dashboard serves live status, /health and /metrics.
	Dashboard bool
	// Port overrides dashboard.port when non-zero.
	Port int
	// Started, when set, receives the dashboard address once it listens.
	Started func(addr string)
}

// RunDaemon syncs in the background until ctx is canceled.
func (a *App) RunDaemon(ctx context.Context, opts DaemonOptions) error {
	a.online()

	var handler *dashboard.Handler
	if opts.Dashboard || a.cfg.Dashboard.Enabled {
		port := a.cfg.Dashboard.Port
		if opts.Port != 0 {
			port = opts.Port
		}
		server := dashboard.NewServer(&dashboard.Config{
			Port:     port,
			Gatherer: a.registry,
			Logger:   a.logger,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer server.Stop()
		if opts.Started != nil {
			opts.Started(server.Addr())
		}

		handler = dashboard.NewHandler(server, a.logger)
		a.engine.OnStatus(handler.OnStatus)
		defer a.engine.OnStatus(nil)

		lists, err := a.local.SubscribeTasks(ctx, a.cfg.Sync.Debounce)
		if err != nil {
			return fmt.Errorf("failed to watch tasks for dashboard: %w", err)
		}
		go func() {
			for tasks := range lists {
				a.updateStats(ctx, handler, tasks)
			}
		}()
	}

	d, err := daemon.New(a.engine, a.local, a.network, &daemon.Config{
		ResumeInterval: a.cfg.Sync.ResumeInterval,
		Debounce:       a.cfg.Sync.Debounce,
		Logger:         a.logger,
		OnReport: func(r tfsync.Report) {
			a.logReport(r)
			if handler != nil {
				handler.OnReport(r)
				a.refreshStats(ctx, handler)
			}
		},
	})
	if err != nil {
		return err
	}
	return d.Start(ctx)
}

func (a *App) refreshStats(ctx context.Context, handler *dashboard.Handler) {
	tasks, err := a.local.GetAll(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("failed to read tasks for dashboard stats")
		return
	}
	a.updateStats(ctx, handler, tasks)
}

func (a *App) updateStats(ctx context.Context, handler *dashboard.Handler, tasks []*task.Task) {
	pending, err := a.engine.Pending(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("failed to read pending set for dashboard stats")
		return
	}
	handler.UpdateStats(tasks, len(pending))
}

func (a *App) logReport(r tfsync.Report) {
	log := a.logger.WithFields(logrus.Fields{
		"attempt_id": r.AttemptID,
		"outcome":    r.Outcome,
	})
	switch {
	case r.Outcome == tfsync.OutcomeFailed:
		log.WithError(r.Err).Warn(r.Message())
	case r.Outcome == tfsync.OutcomeSkipped:
		log.Debug(r.Message())
	default:
		log.Info(r.Message())
	}
}
