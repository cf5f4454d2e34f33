package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/bank"
	"pocketwatch/internal/core"
	"pocketwatch/internal/storage"
)

// SchedulerConfig holds configuration for the periodic sync scheduler
type SchedulerConfig struct {
	// SyncSchedule is the cron spec for the periodic sync sweep (default: @hourly)
	SyncSchedule string

	// PruneSchedule is the cron spec for pruning old confirmed rows (default: @daily)
	PruneSchedule string

	// Parallelism caps concurrent in-process syncs per sweep (default: 4).
	// Ignored in queue mode, where the worker sets the pace.
	Parallelism int
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncSchedule:  "@hourly",
		PruneSchedule: "@daily",
		Parallelism:   4,
	}
}

// SyncPublisher enqueues a sync request for one user. Satisfied by
// amqp.Client.
type SyncPublisher interface {
	PublishSyncRequest(ctx context.Context, userID int64, reason string) error
}

// Scheduler periodically sweeps every linked user through a sync. With a
// publisher it only enqueues requests and lets the worker do the fetching;
// without one it runs the syncs in-process. It also owns the daily retention
// prune of old confirmed transactions.
type Scheduler struct {
	storage   *storage.SQLiteRepository
	engine    *Reconciler
	publisher SyncPublisher
	config    SchedulerConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
}

// NewScheduler creates a scheduler. A nil publisher selects direct mode.
// Zero config fields fall back to defaults.
func NewScheduler(
	storage *storage.SQLiteRepository,
	engine *Reconciler,
	publisher SyncPublisher,
	config SchedulerConfig,
) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.SyncSchedule == "" {
		config.SyncSchedule = defaults.SyncSchedule
	}
	if config.PruneSchedule == "" {
		config.PruneSchedule = defaults.PruneSchedule
	}
	if config.Parallelism <= 0 {
		config.Parallelism = defaults.Parallelism
	}
	return &Scheduler{
		storage:   storage,
		engine:    engine,
		publisher: publisher,
		config:    config,
	}
}

// Start registers the cron entries and begins scheduling. Returns an error
// if already running or if a schedule spec does not parse. Jobs run with the
// given ctx, so cancelling it aborts in-flight sweeps.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	c := cron.New()
	if err := c.AddFunc(s.config.SyncSchedule, func() {
		if err := s.Sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "Scheduled sync sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sync sweep: %w", err)
	}
	if err := c.AddFunc(s.config.PruneSchedule, func() {
		if err := s.Prune(ctx); err != nil {
			slog.ErrorContext(ctx, "Retention prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention prune: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true

	mode := "direct"
	if s.publisher != nil {
		mode = "queue"
	}
	slog.InfoContext(ctx, "Scheduler started",
		"sync_schedule", s.config.SyncSchedule,
		"prune_schedule", s.config.PruneSchedule,
		"mode", mode)

	return nil
}

// Stop halts scheduling. Jobs already running keep their ctx and finish on
// their own.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.cron.Stop()
	s.cron = nil
	s.running = false

	slog.InfoContext(ctx, "Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sweep syncs every linked user once. Individual failures are logged and do
// not stop the sweep; expired bank links are skipped, since only the user
// relinking can fix those.
func (s *Scheduler) Sweep(ctx context.Context) error {
	users, err := s.storage.ListLinkedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list linked users: %w", err)
	}
	if len(users) == 0 {
		return nil
	}

	if s.publisher != nil {
		var errs []error
		for _, user := range users {
			if err := s.publisher.PublishSyncRequest(ctx, user.ID, amqp.ReasonScheduled); err != nil {
				errs = append(errs, fmt.Errorf("user %d: %w", user.ID, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("enqueue sync sweep: %w", err)
		}
		slog.InfoContext(ctx, "Sync sweep enqueued", "users", len(users))
		return nil
	}

	var failures int64
	g := new(errgroup.Group)
	g.SetLimit(s.config.Parallelism)
	for _, user := range users {
		user := user
		g.Go(func() error {
			_, err := s.engine.Sync(ctx, user.ID)
			switch {
			case err == nil:
			case bank.IsAuth(err):
				slog.WarnContext(ctx, "Skipping user with expired bank link",
					"user_id", user.ID, "error", err)
			default:
				atomic.AddInt64(&failures, 1)
				slog.ErrorContext(ctx, "Scheduled sync failed",
					"user_id", user.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	slog.InfoContext(ctx, "Sync sweep finished",
		"users", len(users), "failures", atomic.LoadInt64(&failures))
	return nil
}

// Prune drops confirmed transactions from months before the current one.
// Their amounts live on in monthly_totals.
func (s *Scheduler) Prune(ctx context.Context) error {
	if _, err := s.storage.PruneConfirmedBefore(ctx, core.CurrentMonth()); err != nil {
		return fmt.Errorf("prune confirmed transactions: %w", err)
	}
	return nil
}
