package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"pocketwatch/internal/backend"
	"pocketwatch/internal/cli"
	apphttp "pocketwatch/internal/http"
	"pocketwatch/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
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

	engine := services.NewReconciler(repo, result.Backends.Bank)
	budget := services.NewBudgetService(repo)
	accounts := services.NewAccountService(repo, result.Backends.Linker, result.Backends.SMS)
	messenger := services.NewMessenger(repo, engine, budget)

	var publisher services.SyncPublisher
	if result.Backends.AMQP != nil {
		publisher = result.Backends.AMQP
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Store:              repo,
		Accounts:           accounts,
		Engine:             engine,
		Budget:             budget,
		Messenger:          messenger,
		Publisher:          publisher,
		Logger:             logger,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Without a queue there is no scheduler process, so sweeps run in here.
	var scheduler *services.Scheduler
	if publisher == nil {
		scheduler = services.NewScheduler(repo, engine, nil, services.SchedulerConfig{
			SyncSchedule:  cfg.SyncSchedule,
			PruneSchedule: cfg.PruneSchedule,
			Parallelism:   cfg.SyncParallelism,
		})
	}

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				logger.Error("Scheduler shutdown error", "error", err)
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	if scheduler != nil {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("Failed to start scheduler", "error", err)
			os.Exit(1)
		}
		// Catch up on whatever moved while the process was down.
		go func() {
			if err := scheduler.Sweep(ctx); err != nil {
				logger.Error("Initial sync sweep failed", "error", err)
			}
		}()
	}

	logger.Info("Starting pocketwatch server",
		"port", cfg.Port,
		"bank_backend", cfg.BankBackend,
		"sms_backend", cfg.SMSBackend,
		"queue_enabled", publisher != nil)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
