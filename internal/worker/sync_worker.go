// Package worker drains queued sync requests and runs them against the
// reconciliation engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/bank"
	"pocketwatch/internal/core"
	"pocketwatch/internal/services"
	"pocketwatch/internal/sms"
	"pocketwatch/internal/storage"
)

// SyncWorker handles sync requests from AMQP: each message names a user whose
// bank feed should be pulled. After a sync stages new transactions the worker
// texts the user a review prompt for the oldest one.
type SyncWorker struct {
	storage *storage.SQLiteRepository
	engine  *services.Reconciler
	sender  sms.Sender
}

func NewSyncWorker(storage *storage.SQLiteRepository, engine *services.Reconciler, sender sms.Sender) *SyncWorker {
	return &SyncWorker{
		storage: storage,
		engine:  engine,
		sender:  sender,
	}
}

// HandleSyncRequest processes a single sync request message from AMQP. The
// requeue result sorts failures: transient aggregator trouble is worth
// redelivering, an expired credential is not, since only the user relinking
// can fix it.
func (w *SyncWorker) HandleSyncRequest(ctx context.Context, msg *amqp.SyncRequest) (requeue bool, err error) {
	slog.InfoContext(ctx, "Processing sync request",
		"user_id", msg.UserID,
		"reason", msg.Reason)

	res, err := w.engine.Sync(ctx, msg.UserID)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNotLinked):
		// The user was deleted or unlinked between enqueue and delivery.
		slog.WarnContext(ctx, "Dropping sync request for missing user",
			"user_id", msg.UserID, "error", err)
		return false, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown caught the sync mid-flight; let another worker run it.
		return true, fmt.Errorf("sync user %d: %w", msg.UserID, err)
	case bank.IsAuth(err):
		return false, fmt.Errorf("sync user %d: %w", msg.UserID, err)
	case services.IsRetryable(err):
		return true, fmt.Errorf("sync user %d: %w", msg.UserID, err)
	default:
		return false, fmt.Errorf("sync user %d: %w", msg.UserID, err)
	}

	if res.Added > 0 {
		w.promptOldest(ctx, msg.UserID)
	}

	slog.InfoContext(ctx, "Sync request completed",
		"user_id", msg.UserID,
		"added", res.Added,
		"modified", res.Modified,
		"removed", res.Removed)

	return false, nil
}

// promptOldest texts the review prompt for the user's oldest staged
// transaction. Failures are logged only: the charge stays staged, and the
// next sync or inbound text surfaces it again.
func (w *SyncWorker) promptOldest(ctx context.Context, userID int64) {
	user, err := w.storage.GetUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load user for prompt",
			"user_id", userID, "error", err)
		return
	}

	p, err := w.storage.OldestPending(ctx, userID)
	if errors.Is(err, core.ErrNotFound) {
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load staged transaction for prompt",
			"user_id", userID, "error", err)
		return
	}

	if err := w.sender.Send(ctx, user.PhoneNumber, services.PromptText(p)); err != nil {
		slog.ErrorContext(ctx, "Failed to send review prompt",
			"user_id", userID, "pending_id", p.ID, "error", err)
		return
	}

	slog.InfoContext(ctx, "Review prompt sent",
		"user_id", userID, "pending_id", p.ID)
}

// StartupSyncCheck syncs every linked user once at worker startup. This
// recovers whatever was missed while the worker was down: webhook-triggered
// requests lost with the broker, or feeds that moved during the outage.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	users, err := w.storage.ListLinkedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list linked users for startup check: %w", err)
	}

	if len(users) == 0 {
		slog.InfoContext(ctx, "No linked users found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found linked users on startup, syncing...",
		"count", len(users))

	successCount := 0
	errorCount := 0

	for _, user := range users {
		res, err := w.engine.Sync(ctx, user.ID)
		if err != nil {
			if bank.IsAuth(err) {
				slog.WarnContext(ctx, "Skipping user with expired bank link",
					"user_id", user.ID, "error", err)
			} else {
				slog.ErrorContext(ctx, "Startup sync failed",
					"user_id", user.ID, "error", err)
			}
			errorCount++
			continue
		}

		if res.Added > 0 {
			w.promptOldest(ctx, user.ID)
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup sync completed",
		"total", len(users),
		"synced", successCount,
		"errors", errorCount)

	return nil
}
