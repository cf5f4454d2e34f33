package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/bank"
	"pocketwatch/internal/bank/sandbox"
	"pocketwatch/internal/core"
	"pocketwatch/internal/services"
	"pocketwatch/internal/storage"
)

type recordingSender struct {
	mu     sync.Mutex
	to     []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to)
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...)
}

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

func feedTx(t *testing.T, id, merchant, amount string, day int) bank.Transaction {
	t.Helper()
	d, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", amount, err)
	}
	return bank.Transaction{
		ExternalID: id,
		Merchant:   merchant,
		Amount:     d,
		PostedOn:   core.NewDate(2026, 8, day),
		Category:   "Restaurants",
	}
}

func TestHandleSyncRequestStagesAndPrompts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{
			feedTx(t, "tx-late", "Juniper Bar", "30.00", 9),
			feedTx(t, "tx-early", "Corner Store", "4.50", 2),
		},
	})
	sender := &recordingSender{}
	w := NewSyncWorker(repo, services.NewReconciler(repo, feed), sender)

	requeue, err := w.HandleSyncRequest(ctx, amqp.NewSyncRequest(user.ID, amqp.ReasonWebhook))
	if err != nil {
		t.Fatalf("HandleSyncRequest() error = %v", err)
	}
	if requeue {
		t.Error("successful sync must not ask for requeue")
	}

	pending, err := repo.ListPending(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("staged %d transactions, want 2", len(pending))
	}

	bodies := sender.sent()
	if len(bodies) != 1 {
		t.Fatalf("sent %d prompts, want exactly 1", len(bodies))
	}
	if !strings.Contains(bodies[0], "Corner Store") {
		t.Errorf("prompt = %q, want the oldest charge first", bodies[0])
	}
	if sender.to[0] != "+15550001111" {
		t.Errorf("prompt went to %q", sender.to[0])
	}
}

func TestHandleSyncRequestQuietWhenNothingNew(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	user := linkUser(t, repo, "+15550001111")

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{feedTx(t, "tx-1", "Corner Store", "4.50", 2)},
	})
	sender := &recordingSender{}
	w := NewSyncWorker(repo, services.NewReconciler(repo, feed), sender)

	if _, err := w.HandleSyncRequest(ctx, amqp.NewSyncRequest(user.ID, amqp.ReasonWebhook)); err != nil {
		t.Fatalf("first HandleSyncRequest() error = %v", err)
	}
	if _, err := w.HandleSyncRequest(ctx, amqp.NewSyncRequest(user.ID, amqp.ReasonScheduled)); err != nil {
		t.Fatalf("second HandleSyncRequest() error = %v", err)
	}

	if bodies := sender.sent(); len(bodies) != 1 {
		t.Errorf("sent %d prompts, want 1; an empty sync must not re-prompt", len(bodies))
	}
}

func TestHandleSyncRequestFailureTaxonomy(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		failure     error
		wantRequeue bool
	}{
		{"transient failure requeues", &bank.TransientError{Err: errors.New("rate limited")}, true},
		{"expired credential drops", &bank.AuthError{Code: "ITEM_LOGIN_REQUIRED", Err: errors.New("relink")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(t)
			user := linkUser(t, repo, "+15550001111")

			feed := sandbox.New()
			feed.FailNext(tt.failure)
			w := NewSyncWorker(repo, services.NewReconciler(repo, feed), &recordingSender{})

			requeue, err := w.HandleSyncRequest(ctx, amqp.NewSyncRequest(user.ID, amqp.ReasonWebhook))
			if err == nil {
				t.Fatal("HandleSyncRequest() should surface the failure")
			}
			if requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", requeue, tt.wantRequeue)
			}
		})
	}
}

func TestHandleSyncRequestUnknownUserDropsQuietly(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	w := NewSyncWorker(repo, services.NewReconciler(repo, sandbox.New()), &recordingSender{})

	requeue, err := w.HandleSyncRequest(ctx, amqp.NewSyncRequest(999, amqp.ReasonManual))
	if err != nil {
		t.Fatalf("HandleSyncRequest() error = %v, want silent drop", err)
	}
	if requeue {
		t.Error("a deleted user's request must not be requeued")
	}
}

func TestStartupSyncCheckSweepsAllLinkedUsers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := linkUser(t, repo, "+15550001111")
	bob := linkUser(t, repo, "+15550002222")

	feed := sandbox.New(bank.Delta{
		Added: []bank.Transaction{feedTx(t, "tx-1", "Corner Store", "4.50", 2)},
	})
	sender := &recordingSender{}
	w := NewSyncWorker(repo, services.NewReconciler(repo, feed), sender)

	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("StartupSyncCheck() error = %v", err)
	}

	for _, user := range []core.User{alice, bob} {
		pending, err := repo.ListPending(ctx, user.ID)
		if err != nil {
			t.Fatalf("ListPending(%d) error = %v", user.ID, err)
		}
		if len(pending) != 1 {
			t.Errorf("user %d staged %d transactions, want 1", user.ID, len(pending))
		}
	}

	if bodies := sender.sent(); len(bodies) != 2 {
		t.Errorf("sent %d prompts, want one per user", len(bodies))
	}
}

func TestStartupSyncCheckSkipsExpiredLinks(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	linkUser(t, repo, "+15550001111")

	feed := sandbox.New()
	feed.FailNext(&bank.AuthError{Code: "ITEM_LOGIN_REQUIRED", Err: errors.New("relink")})
	sender := &recordingSender{}
	w := NewSyncWorker(repo, services.NewReconciler(repo, feed), sender)

	// One expired link must not fail the whole startup pass.
	if err := w.StartupSyncCheck(ctx); err != nil {
		t.Fatalf("StartupSyncCheck() error = %v", err)
	}
	if bodies := sender.sent(); len(bodies) != 0 {
		t.Errorf("sent %d prompts for a user who could not sync", len(bodies))
	}
}
