package main

import (
	"context"
	"errors"
	"os"

	"pocketwatch/internal/backend"
	"pocketwatch/internal/cli"
	"pocketwatch/internal/services"
	"pocketwatch/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting pocketwatch-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required: the worker only consumes queued sync requests")
		os.Exit(1)
	}

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
	if result.Backends.AMQP == nil {
		logger.Error("Failed to connect to AMQP broker", "url", cfg.AMQPURL)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}

	engine := services.NewReconciler(repo, result.Backends.Bank)
	syncWorker := worker.NewSyncWorker(repo, engine, result.Backends.SMS)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)

	// Recover anything missed while the worker was down before draining the
	// queue. Failures are logged and do not stop consumption.
	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", "error", err)
	}

	go func() {
		if err := result.Backends.AMQP.ConsumeSyncRequests(ctx, syncWorker.HandleSyncRequest); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sync request consumption failed", "error", err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
