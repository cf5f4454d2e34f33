package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pocketwatch/internal/core"

	_ "modernc.org/sqlite"
)

// ErrCursorMoved reports that another sync advanced the user's cursor while
// this batch was being fetched. The batch must be discarded and retried from
// the new cursor.
var ErrCursorMoved = errors.New("sync cursor moved")

// SyncCounts reports what a sync batch actually changed.
type SyncCounts struct {
	Added    int
	Modified int
	Removed  int
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// _txlock=immediate makes every write transaction take the write lock up
	// front, so concurrent writers queue on busy_timeout instead of failing
	// at commit.
	dsn := "file:" + dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const userColumns = "id, phone_number, access_token, item_id, sync_cursor, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.AccessToken, &u.ItemID, &u.SyncCursor, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// CreateOrRelinkUser upserts the user row for a completed bank link. A relink
// replaces the credential and item id and resets the cursor, so the next sync
// starts from the beginning of the new item's history.
func (r *SQLiteRepository) CreateOrRelinkUser(ctx context.Context, phone, accessToken, itemID string) (core.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (phone_number, access_token, item_id, sync_cursor, created_at)
		VALUES (?, ?, ?, '', ?)
		ON CONFLICT(phone_number) DO UPDATE SET
			access_token = excluded.access_token,
			item_id = excluded.item_id,
			sync_cursor = ''`,
		phone, accessToken, itemID, time.Now().UTC())
	if err != nil {
		return core.User{}, fmt.Errorf("upsert user: %w", err)
	}

	u, err := r.GetUserByPhone(ctx, phone)
	if err != nil {
		return core.User{}, err
	}

	slog.InfoContext(ctx, "user linked", "user_id", u.ID, "item_id", itemID)
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

func (r *SQLiteRepository) GetUserByPhone(ctx context.Context, phone string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE phone_number = ?", phone)
	return scanUser(row)
}

func (r *SQLiteRepository) GetUserByItem(ctx context.Context, itemID string) (core.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE item_id = ?", itemID)
	return scanUser(row)
}

// ListLinkedUsers returns every user holding an aggregator credential,
// oldest first. Used by the scheduler and the worker's startup sweep.
func (r *SQLiteRepository) ListLinkedUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users WHERE access_token != '' ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list linked users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes the user and everything the user owns.
func (r *SQLiteRepository) DeleteUser(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM monthly_totals WHERE user_id = ?",
		"DELETE FROM pending_transactions WHERE user_id = ?",
		"DELETE FROM budget_categories WHERE user_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete user data: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user: %w", err)
	}

	slog.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}

// ReplaceBudget upserts the submitted categories by name and removes the ones
// absent from the submission, in one transaction.
func (r *SQLiteRepository) ReplaceBudget(ctx context.Context, userID int64, cats []core.BudgetCategory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace budget: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, c := range cats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO budget_categories (user_id, name, monthly_limit, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, name) DO UPDATE SET monthly_limit = excluded.monthly_limit`,
			userID, c.Name, c.MonthlyLimit.String(), now)
		if err != nil {
			return fmt.Errorf("upsert category %q: %w", c.Name, err)
		}
	}

	if len(cats) == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM budget_categories WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clear budget: %w", err)
		}
	} else {
		placeholders := strings.Repeat("?,", len(cats))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(cats)+1)
		args = append(args, userID)
		for _, c := range cats {
			args = append(args, c.Name)
		}
		q := "DELETE FROM budget_categories WHERE user_id = ? AND name NOT IN (" + placeholders + ")"
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("prune budget: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID int64) ([]core.BudgetCategory, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, user_id, name, monthly_limit, created_at FROM budget_categories WHERE user_id = ? ORDER BY name",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.BudgetCategory
	for rows.Next() {
		var c core.BudgetCategory
		var limit string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &limit, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.MonthlyLimit, err = core.ParseStoredAmount(limit)
		if err != nil {
			return nil, fmt.Errorf("category %q limit: %w", c.Name, err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

const pendingColumns = "id, user_id, external_id, merchant, amount, category, posted_on, state, user_amount, reviewed_at, created_at"

func scanPending(row rowScanner) (core.PendingTransaction, error) {
	var (
		p          core.PendingTransaction
		amount     string
		postedOn   string
		state      string
		userAmount sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ExternalID, &p.Merchant, &amount, &p.Category,
		&postedOn, &state, &userAmount, &reviewedAt, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PendingTransaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.PendingTransaction{}, fmt.Errorf("scan pending transaction: %w", err)
	}

	p.State = core.ReviewState(state)
	if p.Amount, err = core.ParseStoredAmount(amount); err != nil {
		return core.PendingTransaction{}, fmt.Errorf("transaction %d amount: %w", p.ID, err)
	}
	if p.PostedOn, err = core.ParseDate(postedOn); err != nil {
		return core.PendingTransaction{}, fmt.Errorf("transaction %d posted_on: %w", p.ID, err)
	}
	if userAmount.Valid {
		if p.UserAmount, err = core.ParseStoredAmount(userAmount.String); err != nil {
			return core.PendingTransaction{}, fmt.Errorf("transaction %d user_amount: %w", p.ID, err)
		}
	}
	if reviewedAt.Valid {
		p.ReviewedAt = reviewedAt.Time
	}
	return p, nil
}

// ListPending returns the user's open reviews, oldest first.
func (r *SQLiteRepository) ListPending(ctx context.Context, userID int64) ([]core.PendingTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_transactions WHERE user_id = ? AND state = ? ORDER BY created_at, id",
		userID, string(core.StatePending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []core.PendingTransaction
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetPending(ctx context.Context, userID, id int64) (core.PendingTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_transactions WHERE id = ? AND user_id = ?", id, userID)
	return scanPending(row)
}

// OldestPending returns the transaction an SMS decision applies to: the one
// the outbound prompt described.
func (r *SQLiteRepository) OldestPending(ctx context.Context, userID int64) (core.PendingTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_transactions WHERE user_id = ? AND state = ? ORDER BY created_at, id LIMIT 1",
		userID, string(core.StatePending))
	return scanPending(row)
}

// ApplySyncDelta applies one accumulated sync batch and advances the cursor,
// all in a single transaction. The cursor is re-read inside the transaction;
// if another sync moved it past priorCursor the batch is stale and nothing is
// written (ErrCursorMoved). Added rows that already exist, and modified or
// removed ids that are no longer pending, are skipped without error.
func (r *SQLiteRepository) ApplySyncDelta(ctx context.Context, userID int64, priorCursor, newCursor string, added, modified []core.PendingTransaction, removed []string) (SyncCounts, error) {
	var counts SyncCounts

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin sync apply: %w", err)
	}
	defer tx.Rollback()

	var cursor string
	err = tx.QueryRowContext(ctx, "SELECT sync_cursor FROM users WHERE id = ?", userID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return counts, core.ErrNotFound
	}
	if err != nil {
		return counts, fmt.Errorf("read cursor: %w", err)
	}
	if cursor != priorCursor {
		return counts, ErrCursorMoved
	}

	now := time.Now().UTC()
	for _, p := range added {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pending_transactions (user_id, external_id, merchant, amount, category, posted_on, state, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, external_id) DO NOTHING`,
			userID, p.ExternalID, p.Merchant, p.Amount.String(), p.Category, p.PostedOn.String(), string(core.StatePending), now)
		if err != nil {
			return counts, fmt.Errorf("stage transaction %s: %w", p.ExternalID, err)
		}
		n, _ := res.RowsAffected()
		counts.Added += int(n)
	}

	for _, p := range modified {
		res, err := tx.ExecContext(ctx,
			"UPDATE pending_transactions SET amount = ?, merchant = ? WHERE user_id = ? AND external_id = ? AND state = ?",
			p.Amount.String(), p.Merchant, userID, p.ExternalID, string(core.StatePending))
		if err != nil {
			return counts, fmt.Errorf("update transaction %s: %w", p.ExternalID, err)
		}
		n, _ := res.RowsAffected()
		counts.Modified += int(n)
	}

	for _, externalID := range removed {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM pending_transactions WHERE user_id = ? AND external_id = ? AND state = ?",
			userID, externalID, string(core.StatePending))
		if err != nil {
			return counts, fmt.Errorf("remove transaction %s: %w", externalID, err)
		}
		n, _ := res.RowsAffected()
		counts.Removed += int(n)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE users SET sync_cursor = ? WHERE id = ?", newCursor, userID); err != nil {
		return counts, fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("commit sync apply: %w", err)
	}
	return counts, nil
}

// ConfirmPending marks a review resolved and folds the confirmed amount into
// the monthly total for the transaction's own month, atomically. A row that
// is already confirmed is returned unchanged with already=true so retried
// commands stay idempotent.
func (r *SQLiteRepository) ConfirmPending(ctx context.Context, userID, pendingID int64, userAmount decimal.Decimal, finalCategory string) (p core.PendingTransaction, already bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.PendingTransaction{}, false, fmt.Errorf("begin confirm: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_transactions WHERE id = ? AND user_id = ?", pendingID, userID)
	p, err = scanPending(row)
	if err != nil {
		return core.PendingTransaction{}, false, err
	}
	if p.Confirmed() {
		return p, true, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		"UPDATE pending_transactions SET state = ?, user_amount = ?, category = ?, reviewed_at = ? WHERE id = ?",
		string(core.StateConfirmed), userAmount.String(), finalCategory, now, p.ID)
	if err != nil {
		return core.PendingTransaction{}, false, fmt.Errorf("confirm transaction %d: %w", p.ID, err)
	}

	if userAmount.IsPositive() {
		month := string(p.PostedOn.MonthKey())
		var stored string
		err := tx.QueryRowContext(ctx,
			"SELECT total FROM monthly_totals WHERE user_id = ? AND category = ? AND month = ?",
			userID, finalCategory, month).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				"INSERT INTO monthly_totals (user_id, category, month, total) VALUES (?, ?, ?, ?)",
				userID, finalCategory, month, userAmount.String())
			if err != nil {
				return core.PendingTransaction{}, false, fmt.Errorf("create monthly total: %w", err)
			}
		case err != nil:
			return core.PendingTransaction{}, false, fmt.Errorf("read monthly total: %w", err)
		default:
			total, err := core.ParseStoredAmount(stored)
			if err != nil {
				return core.PendingTransaction{}, false, fmt.Errorf("monthly total %s/%s: %w", finalCategory, month, err)
			}
			_, err = tx.ExecContext(ctx,
				"UPDATE monthly_totals SET total = ? WHERE user_id = ? AND category = ? AND month = ?",
				total.Add(userAmount).String(), userID, finalCategory, month)
			if err != nil {
				return core.PendingTransaction{}, false, fmt.Errorf("update monthly total: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return core.PendingTransaction{}, false, fmt.Errorf("commit confirm: %w", err)
	}

	p.State = core.StateConfirmed
	p.UserAmount = userAmount
	p.Category = finalCategory
	p.ReviewedAt = now
	return p, false, nil
}

// MonthlyTotals returns the user's confirmed spend per category for a month,
// category-ordered. Categories with no confirmed spend have no row.
func (r *SQLiteRepository) MonthlyTotals(ctx context.Context, userID int64, month core.Month) ([]core.MonthlyTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT category, total FROM monthly_totals WHERE user_id = ? AND month = ? ORDER BY category",
		userID, string(month))
	if err != nil {
		return nil, fmt.Errorf("read monthly totals: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyTotal
	for rows.Next() {
		t := core.MonthlyTotal{UserID: userID, Month: month}
		var total string
		if err := rows.Scan(&t.Category, &total); err != nil {
			return nil, fmt.Errorf("scan monthly total: %w", err)
		}
		if t.Total, err = core.ParseStoredAmount(total); err != nil {
			return nil, fmt.Errorf("monthly total %s: %w", t.Category, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneConfirmedBefore deletes confirmed reviews dated before the given
// month. Totals are untouched; they live in monthly_totals.
func (r *SQLiteRepository) PruneConfirmedBefore(ctx context.Context, month core.Month) (int64, error) {
	cutoff := month.First().Format("2006-01-02")
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM pending_transactions WHERE state = ? AND posted_on < ?",
		string(core.StateConfirmed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune confirmed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "pruned confirmed reviews", "count", n, "before", cutoff)
	}
	return n, nil
}
