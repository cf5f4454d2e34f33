package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"pocketwatch/internal/bank"
	"pocketwatch/internal/bank/sandbox"
	"pocketwatch/internal/core"
	"pocketwatch/internal/storage"
)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "pocketwatch.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func linkUser(t *testing.T, repo *storage.SQLiteRepository, phone string) core.User {
	t.Helper()
	user, err := repo.CreateOrRelinkUser(context.Background(), phone, "access-test", "item-"+phone)
	if err != nil {
		t.Fatalf("link user: %v", err)
	}
	return user
}

func setBudget(t *testing.T, repo *storage.SQLiteRepository, userID int64, limits map[string]string) {
	t.Helper()
	cats := make([]core.BudgetCategory, 0, len(limits))
	for name, limit := range limits {
		cats = append(cats, core.BudgetCategory{UserID: userID, Name: name, MonthlyLimit: dec(t, limit)})
	}
	if err := repo.ReplaceBudget(context.Background(), userID, cats); err != nil {
		t.Fatalf("replace budget: %v", err)
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func feedTx(t *testing.T, id, merchant, amount, category string, day int) bank.Transaction {
	t.Helper()
	return bank.Transaction{
		ExternalID: id,
		Merchant:   merchant,
		Amount:     dec(t, amount),
		PostedOn:   core.NewDate(2026, 8, day),
		Category:   category,
	}
}

func TestSyncStagesAndMapsTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")
	setBudget(t, repo, user.ID, map[string]string{
		"Food":      "500",
		"Transport": "200",
		"Shopping":  "150",
	})

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{
			feedTx(t, "tx-1", "Blue Bottle", "4.50", "Coffee Shop", 3),
			feedTx(t, "tx-2", "Shell", "40.10", "Gas Stations", 4),
			feedTx(t, "tx-3", "Target", "25.00", "GENERAL_MERCHANDISE", 5),
			feedTx(t, "tx-4", "Juniper Bar", "30.00", "Bars", 6),
		},
	})
	engine := NewReconciler(repo, feed)

	res, err := engine.Sync(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Added != 4 || res.Modified != 0 || res.Removed != 0 {
		t.Fatalf("Sync() counts = %+v, want 4 added only", res)
	}
	if res.NewCursor != "1" {
		t.Fatalf("Sync() cursor = %q, want %q", res.NewCursor, "1")
	}

	pending, err := repo.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("staged %d transactions, want 4", len(pending))
	}

	categories := make(map[string]string, len(pending))
	for _, p := range pending {
		categories[p.ExternalID] = p.Category
	}
	want := map[string]string{
		"tx-1": "Food",      // Coffee Shop alias
		"tx-2": "Transport", // Gas Stations alias
		"tx-3": "Shopping",  // enum-style label folds to General Merchandise
		"tx-4": "Bars",      // no alias, label passes through
	}
	for id, category := range want {
		if categories[id] != category {
			t.Errorf("transaction %s category = %q, want %q", id, categories[id], category)
		}
	}
}

func TestSyncMultiPageAppliesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")

	feed := sandbox.New(
		bank.Delta{
			Added:   []bank.Transaction{feedTx(t, "tx-1", "Blue Bottle", "4.50", "Coffee Shop", 3)},
			HasMore: true,
		},
		bank.Delta{
			Added: []bank.Transaction{feedTx(t, "tx-2", "Shell", "40.10", "Gas Stations", 4)},
		},
	)
	engine := NewReconciler(repo, feed)

	res, err := engine.Sync(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Added != 2 {
		t.Fatalf("Sync() added = %d, want 2 across pages", res.Added)
	}
	if res.NewCursor != "2" {
		t.Fatalf("Sync() cursor = %q, want %q", res.NewCursor, "2")
	}

	again, err := engine.Sync(ctx, user.ID)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if again.Added != 0 || again.Modified != 0 || again.Removed != 0 {
		t.Fatalf("second Sync() counts = %+v, want all zero", again)
	}
	if again.NewCursor != "2" {
		t.Fatalf("second Sync() cursor = %q, want it to hold at %q", again.NewCursor, "2")
	}

	pending, err := repo.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("staged %d transactions, want 2", len(pending))
	}
}

func TestSyncModifiedAndRemoved(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")
	setBudget(t, repo, user.ID, map[string]string{"Food": "500", "Transport": "200"})

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{
			feedTx(t, "tx-1", "Blue Bottle", "4.50", "Coffee Shop", 3),
			feedTx(t, "tx-2", "Shell", "40.10", "Gas Stations", 4),
		},
	})
	engine := NewReconciler(repo, feed)

	if _, err := engine.Sync(ctx, user.ID); err != nil {
		t.Fatalf("initial Sync() error = %v", err)
	}

	// The feed later settles tx-1 at a different amount and withdraws tx-2.
	feed.Push(bank.Delta{
		Modified: []bank.Transaction{feedTx(t, "tx-1", "Blue Bottle Coffee", "6.75", "Coffee Shop", 3)},
		Removed:  []string{"tx-2"},
	})

	res, err := engine.Sync(ctx, user.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if res.Modified != 1 || res.Removed != 1 || res.Added != 0 {
		t.Fatalf("Sync() counts = %+v, want 1 modified and 1 removed", res)
	}

	pending, err := repo.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("%d transactions pending, want 1", len(pending))
	}
	got := pending[0]
	if got.ExternalID != "tx-1" {
		t.Fatalf("surviving transaction = %s, want tx-1", got.ExternalID)
	}
	if got.Merchant != "Blue Bottle Coffee" || !got.Amount.Equal(dec(t, "6.75")) {
		t.Errorf("modified row = %s %s, want Blue Bottle Coffee 6.75", got.Merchant, got.Amount)
	}
	if got.Category != "Food" {
		t.Errorf("modified row category = %q, want the original %q kept", got.Category, "Food")
	}
}

func TestSyncRequiresLinkedBank(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	engine := NewReconciler(repo, sandbox.New())

	user, err := repo.CreateOrRelinkUser(ctx, "+15550001111", "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := engine.Sync(ctx, user.ID); !errors.Is(err, core.ErrNotLinked) {
		t.Fatalf("Sync() error = %v, want ErrNotLinked", err)
	}
	if _, err := engine.Sync(ctx, 9999); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Sync() unknown user error = %v, want ErrNotFound", err)
	}
}

func TestSyncFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{feedTx(t, "tx-1", "Blue Bottle", "4.50", "Coffee Shop", 3)},
	})
	feed.FailNext(&bank.AuthError{Code: "ITEM_LOGIN_REQUIRED", Err: errors.New("login required")})
	engine := NewReconciler(repo, feed)

	_, err := engine.Sync(ctx, user.ID)
	if err == nil {
		t.Fatal("Sync() should fail while the bank link is expired")
	}
	if !bank.IsAuth(err) {
		t.Fatalf("Sync() error = %v, want an auth error", err)
	}

	pending, err := repo.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("%d transactions staged by a failed sync, want 0", len(pending))
	}
	fresh, err := repo.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if fresh.SyncCursor != "" {
		t.Fatalf("cursor = %q after failed sync, want unchanged empty cursor", fresh.SyncCursor)
	}

	// The next sync picks up the same batch.
	res, err := engine.Sync(ctx, user.ID)
	if err != nil {
		t.Fatalf("retry Sync() error = %v", err)
	}
	if res.Added != 1 || res.NewCursor != "1" {
		t.Fatalf("retry Sync() = %+v, want the held-back batch applied", res)
	}
}

func TestConfirmDecisions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")
	setBudget(t, repo, user.ID, map[string]string{
		"Food":      "500",
		"Transport": "200",
		"Shopping":  "150",
	})

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{
			feedTx(t, "tx-1", "Blue Bottle", "4.50", "Coffee Shop", 3),
			feedTx(t, "tx-2", "Shell", "40.10", "Gas Stations", 4),
			feedTx(t, "tx-3", "Target", "25.00", "General Merchandise", 5),
			feedTx(t, "tx-4", "Juniper Bar", "30.00", "Bars", 6),
		},
	})
	engine := NewReconciler(repo, feed)
	if _, err := engine.Sync(ctx, user.ID); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	pending, err := repo.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	byExternal := make(map[string]core.PendingTransaction, len(pending))
	for _, p := range pending {
		byExternal[p.ExternalID] = p
	}

	t.Run("full settles the shown amount", func(t *testing.T) {
		res, err := engine.Confirm(ctx, user.ID, byExternal["tx-1"].ID, core.Decision{Kind: core.DecisionFull})
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if !res.Amount.Equal(dec(t, "4.50")) || res.Category != "Food" {
			t.Fatalf("Confirm() = %s %s, want 4.50 Food", res.Amount, res.Category)
		}
		if res.Month != core.Month("2026-08") {
			t.Fatalf("Confirm() month = %s, want 2026-08", res.Month)
		}
		if res.AlreadyConfirmed {
			t.Fatal("first confirm reported AlreadyConfirmed")
		}
		assertTotal(t, repo, user.ID, "2026-08", "Food", "4.5")
	})

	t.Run("zero records nothing", func(t *testing.T) {
		res, err := engine.Confirm(ctx, user.ID, byExternal["tx-2"].ID, core.Decision{Kind: core.DecisionZero})
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if !res.Amount.IsZero() {
			t.Fatalf("Confirm() amount = %s, want 0", res.Amount)
		}
		assertTotal(t, repo, user.ID, "2026-08", "Transport", "")
	})

	t.Run("explicit with override redirects the category", func(t *testing.T) {
		d := core.Decision{Kind: core.DecisionExplicit, Amount: dec(t, "10"), Override: "food"}
		res, err := engine.Confirm(ctx, user.ID, byExternal["tx-3"].ID, d)
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if res.Category != "Food" {
			t.Fatalf("Confirm() category = %q, want the stored spelling %q", res.Category, "Food")
		}
		assertTotal(t, repo, user.ID, "2026-08", "Food", "14.5")
	})

	t.Run("unknown override falls back to the mapped category", func(t *testing.T) {
		d := core.Decision{Kind: core.DecisionExplicit, Amount: dec(t, "5"), Override: "Booze"}
		res, err := engine.Confirm(ctx, user.ID, byExternal["tx-4"].ID, d)
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if res.Category != "Bars" {
			t.Fatalf("Confirm() category = %q, want fallback %q", res.Category, "Bars")
		}
		assertTotal(t, repo, user.ID, "2026-08", "Bars", "5")
	})

	t.Run("repeat confirm is a no-op", func(t *testing.T) {
		res, err := engine.Confirm(ctx, user.ID, byExternal["tx-1"].ID, core.Decision{Kind: core.DecisionZero})
		if err != nil {
			t.Fatalf("Confirm() error = %v", err)
		}
		if !res.AlreadyConfirmed {
			t.Fatal("repeat confirm did not report AlreadyConfirmed")
		}
		if !res.Amount.Equal(dec(t, "4.50")) {
			t.Fatalf("repeat confirm amount = %s, want the recorded 4.50", res.Amount)
		}
		assertTotal(t, repo, user.ID, "2026-08", "Food", "14.5")
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := engine.Confirm(ctx, user.ID, 9999, core.Decision{Kind: core.DecisionFull})
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("Confirm() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		d := core.Decision{Kind: core.DecisionExplicit, Amount: dec(t, "-5")}
		_, err := engine.Confirm(ctx, user.ID, byExternal["tx-2"].ID, d)
		if !errors.Is(err, core.ErrInvalidAmount) {
			t.Fatalf("Confirm() error = %v, want ErrInvalidAmount", err)
		}
	})
}

// assertTotal checks one monthly total; want == "" asserts the row is absent.
func assertTotal(t *testing.T, repo *storage.SQLiteRepository, userID int64, month core.Month, category, want string) {
	t.Helper()
	totals, err := repo.MonthlyTotals(context.Background(), userID, month)
	if err != nil {
		t.Fatalf("MonthlyTotals() error = %v", err)
	}
	for _, total := range totals {
		if total.Category == category {
			if want == "" {
				t.Fatalf("found total %s for %s, want no row", total.Total, category)
			}
			if !total.Total.Equal(dec(t, want)) {
				t.Fatalf("total for %s = %s, want %s", category, total.Total, want)
			}
			return
		}
	}
	if want != "" {
		t.Fatalf("no total row for %s, want %s", category, want)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient bank failure", &bank.TransientError{Err: errors.New("rate limited")}, true},
		{"wrapped transient", errors.Join(errors.New("fetch"), &bank.TransientError{Err: errors.New("503")}), true},
		{"stale cursor", storage.ErrCursorMoved, true},
		{"auth failure", &bank.AuthError{Code: "ITEM_LOGIN_REQUIRED", Err: errors.New("relink")}, false},
		{"not found", core.ErrNotFound, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
