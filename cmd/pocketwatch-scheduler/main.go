package main

import (
	"context"
	"os"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/backend"
	"pocketwatch/internal/cli"
	"pocketwatch/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting pocketwatch-scheduler")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackends(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backends", "error", err)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}

	// With a broker the sweeps only enqueue work for the worker; without one
	// this process runs the syncs itself.
	var publisher services.SyncPublisher
	if result.Backends.AMQP != nil {
		publisher = result.Backends.AMQP
	}

	engine := services.NewReconciler(repo, result.Backends.Bank)
	scheduler := services.NewScheduler(repo, engine, publisher, services.SchedulerConfig{
		SyncSchedule:  cfg.SyncSchedule,
		PruneSchedule: cfg.PruneSchedule,
		Parallelism:   cfg.SyncParallelism,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("Scheduler shutdown error", "error", err)
		}
	})

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// A restart should not wait out the first cron interval.
	if publisher != nil {
		users, err := repo.ListLinkedUsers(ctx)
		if err != nil {
			logger.Error("Failed to list users for startup pass", "error", err)
		} else {
			enqueued := 0
			for _, user := range users {
				if err := publisher.PublishSyncRequest(ctx, user.ID, amqp.ReasonStartup); err != nil {
					logger.Error("Failed to enqueue startup sync", "error", err, "user_id", user.ID)
					continue
				}
				enqueued++
			}
			logger.Info("Startup sync pass enqueued", "users", enqueued)
		}
	} else {
		logger.Info("Running initial sync sweep...")
		if err := scheduler.Sweep(ctx); err != nil {
			logger.Error("Initial sync sweep failed", "error", err)
		}
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Scheduler shutdown complete")
}
