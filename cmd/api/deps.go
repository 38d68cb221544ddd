package main

import (
	"context"

	"go.uber.org/zap"

	"findash/internal/bootstrap"
	"findash/internal/infrastructure/postgres/listener"
	httphandlers "findash/internal/interfaces/http"
	"findash/internal/interfaces/scheduler"
	"findash/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	*bootstrap.Core

	SyncHandler      *httphandlers.SyncHandler
	DuplicateHandler *httphandlers.DuplicateHandler

	Scheduler *scheduler.Scheduler
	Listener  *listener.ConnectionListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	core, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Core:             core,
		SyncHandler:      httphandlers.NewSyncHandler(core.Sync, core.Accounts, logger.Named("http")),
		DuplicateHandler: httphandlers.NewDuplicateHandler(core.Duplicates, logger.Named("http")),
		Listener:         listener.NewConnectionListener(cfg.Database.ConnectionString(), core.Duplicates, logger),
	}

	if cfg.Scheduler.Enabled {
		sweep := scheduler.SweepDeps{
			Users:     core.Connections,
			Refresher: core.Sync,
			Backup:    core.Backup,
			Logger:    logger.Named("jobs"),
		}
		if cfg.Scheduler.DuplicateSweep {
			sweep.Duplicates = core.Duplicates
		}

		sched, err := scheduler.New(scheduler.Config{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			WorkerCount:   cfg.Scheduler.WorkerCount,
			JobDelay:      cfg.Scheduler.JobDelay,
			QueueSize:     cfg.Scheduler.QueueSize,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   scheduler.SweepJobs(sweep),
			Logger:        logger,
		})
		if err != nil {
			core.Close()
			return nil, err
		}
		deps.Scheduler = sched
	}

	return deps, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Core != nil {
		d.Core.Close()
	}
}
