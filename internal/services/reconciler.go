package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"pocketwatch/internal/bank"
	"pocketwatch/internal/categorizer"
	"pocketwatch/internal/core"
	"pocketwatch/internal/storage"
)

// Reconciler owns the sync → map → stage → confirm → total pipeline. Every
// state change happens in a single storage transaction, and a per-user lock
// keeps sync and confirm from interleaving on the same user inside this
// process; across processes the in-transaction cursor re-check is the
// dedup boundary.
type Reconciler struct {
	storage *storage.SQLiteRepository
	bank    bank.Client
	locks   *userLocks
}

func NewReconciler(st *storage.SQLiteRepository, bankClient bank.Client) *Reconciler {
	return &Reconciler{
		storage: st,
		bank:    bankClient,
		locks:   newUserLocks(),
	}
}

// SyncResult reports what one fully applied sync batch changed.
type SyncResult struct {
	Added     int    `json:"added"`
	Modified  int    `json:"modified"`
	Removed   int    `json:"removed"`
	NewCursor string `json:"new_cursor"`
}

// ConfirmResult reports how a review decision was applied.
type ConfirmResult struct {
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"category"`
	Month            core.Month      `json:"month"`
	AlreadyConfirmed bool            `json:"already_confirmed"`
}

// Sync pulls every page of feed changes since the user's cursor, maps
// categories, and applies the whole batch atomically. The cursor advances
// only when everything applied; any adapter failure leaves cursor and rows
// untouched. Concurrent syncs of the same user are serialized in-process
// and detected cross-process via storage.ErrCursorMoved, which callers may
// retry.
func (r *Reconciler) Sync(ctx context.Context, userID int64) (SyncResult, error) {
	unlock := r.locks.lock(userID)
	defer unlock()

	user, err := r.storage.GetUser(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	if !user.Linked() {
		return SyncResult{}, core.ErrNotLinked
	}

	cats, err := r.storage.ListCategories(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	names := categoryNames(cats)

	var (
		added    []core.PendingTransaction
		modified []core.PendingTransaction
		removed  []string
	)
	cursor := user.SyncCursor
	for {
		delta, err := r.bank.FetchSince(ctx, user.AccessToken, cursor)
		if err != nil {
			return SyncResult{}, fmt.Errorf("fetch transactions: %w", err)
		}

		for _, t := range delta.Added {
			p := stagedFrom(userID, t, names)
			if err := p.Validate(); err != nil {
				slog.WarnContext(ctx, "skipping malformed added record",
					"user_id", userID, "external_id", t.ExternalID, "error", err)
				continue
			}
			added = append(added, p)
		}
		for _, t := range delta.Modified {
			modified = append(modified, stagedFrom(userID, t, names))
		}
		removed = append(removed, delta.Removed...)

		cursor = delta.NextCursor
		if !delta.HasMore {
			break
		}
	}

	counts, err := r.storage.ApplySyncDelta(ctx, userID, user.SyncCursor, cursor, added, modified, removed)
	if err != nil {
		return SyncResult{}, fmt.Errorf("apply sync batch: %w", err)
	}

	slog.InfoContext(ctx, "sync applied",
		"user_id", userID,
		"added", counts.Added,
		"modified", counts.Modified,
		"removed", counts.Removed)

	return SyncResult{
		Added:     counts.Added,
		Modified:  counts.Modified,
		Removed:   counts.Removed,
		NewCursor: cursor,
	}, nil
}

// Confirm resolves one pending review. FULL settles the amount the user was
// shown; ZERO records nothing; EXPLICIT takes the given amount, above the
// full amount included. An override naming one of the user's categories
// redirects the total there; an unknown override falls back to the
// auto-assigned category. Confirming an already-confirmed row is a no-op
// reported through AlreadyConfirmed.
func (r *Reconciler) Confirm(ctx context.Context, userID, pendingID int64, d core.Decision) (ConfirmResult, error) {
	unlock := r.locks.lock(userID)
	defer unlock()

	p, err := r.storage.GetPending(ctx, userID, pendingID)
	if err != nil {
		return ConfirmResult{}, err
	}

	amount := d.AmountOwed(p.Amount)
	if amount.IsNegative() {
		return ConfirmResult{}, core.ErrInvalidAmount
	}

	category := p.Category
	if d.Override != "" {
		cats, err := r.storage.ListCategories(ctx, userID)
		if err != nil {
			return ConfirmResult{}, err
		}
		if name, ok := resolveCategory(cats, d.Override); ok {
			category = name
		}
	}

	confirmed, already, err := r.storage.ConfirmPending(ctx, userID, pendingID, amount, category)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm transaction %d: %w", pendingID, err)
	}

	if !already {
		slog.InfoContext(ctx, "review confirmed",
			"user_id", userID,
			"pending_id", pendingID,
			"amount", confirmed.UserAmount.String(),
			"category", confirmed.Category)
	}

	return ConfirmResult{
		Amount:           confirmed.UserAmount,
		Category:         confirmed.Category,
		Month:            confirmed.PostedOn.MonthKey(),
		AlreadyConfirmed: already,
	}, nil
}

func stagedFrom(userID int64, t bank.Transaction, categories []string) core.PendingTransaction {
	return core.PendingTransaction{
		UserID:     userID,
		ExternalID: t.ExternalID,
		Merchant:   t.Merchant,
		Amount:     t.Amount,
		Category:   categorizer.Map(t.Category, categories),
		PostedOn:   t.PostedOn,
		State:      core.StatePending,
	}
}

func categoryNames(cats []core.BudgetCategory) []string {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return names
}

// resolveCategory matches name against the user's categories ignoring case
// and returns the stored spelling, so totals key consistently.
func resolveCategory(cats []core.BudgetCategory, name string) (string, bool) {
	for _, c := range cats {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c.Name, true
		}
	}
	return "", false
}

// IsRetryable reports whether a sync failure is worth retrying as-is:
// transient aggregator trouble, or a batch raced with another sync.
func IsRetryable(err error) bool {
	return bank.IsTransient(err) || errors.Is(err, storage.ErrCursorMoved)
}
