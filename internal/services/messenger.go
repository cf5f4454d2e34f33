package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pocketwatch/internal/core"
	"pocketwatch/internal/storage"
)

const helpText = "Reply with:\n" +
	"full - you owe the whole amount\n" +
	"0 - not your charge\n" +
	"12.50 - you owe part of it\n" +
	"12.50,Food - adjust amount and category\n" +
	"balance - budget status for this month"

const notRegisteredText = "This number isn't linked to Pocketwatch yet. Connect your bank first."

// PromptText renders the review prompt for one staged transaction. The
// worker sends it after a sync and replies chain it for the next one.
func PromptText(p core.PendingTransaction) string {
	return fmt.Sprintf("%s %s on %s (%s). Reply full, 0, an amount, or amount,Category.",
		p.Merchant, core.FormatAmount(p.Amount), p.PostedOn.Format("Jan 2"), p.Category)
}

// WelcomeText is sent once after a bank link completes.
func WelcomeText() string {
	return "Pocketwatch is connected. New charges will arrive here for review. Text balance anytime for budget status."
}

// Messenger turns inbound texts into engine calls and builds the replies.
// All conversational copy lives here so the webhook and the worker speak
// with one voice. Replies never leak internal errors; infra failures
// propagate to the transport as errors instead.
type Messenger struct {
	storage *storage.SQLiteRepository
	engine  *Reconciler
	budget  *BudgetService
}

func NewMessenger(st *storage.SQLiteRepository, engine *Reconciler, budget *BudgetService) *Messenger {
	return &Messenger{storage: st, engine: engine, budget: budget}
}

// HandleIncoming processes one inbound message and returns the reply text.
// A decision reply settles the oldest pending transaction, the one the last
// prompt described. Anything unparsable answers with help and touches no
// state.
func (m *Messenger) HandleIncoming(ctx context.Context, fromPhone, body string) (string, error) {
	user, err := m.storage.GetUserByPhone(ctx, strings.TrimSpace(fromPhone))
	if errors.Is(err, core.ErrNotFound) {
		return notRegisteredText, nil
	}
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(body)
	switch strings.ToLower(text) {
	case "balance", "budget", "status":
		return m.balanceReply(ctx, user.ID)
	case "help", "?":
		return helpText, nil
	}

	d, err := core.ParseDecision(text)
	if err != nil {
		return "Sorry, I didn't catch that.\n" + helpText, nil
	}

	if d.Override != "" {
		cats, err := m.storage.ListCategories(ctx, user.ID)
		if err != nil {
			return "", err
		}
		if _, ok := resolveCategory(cats, d.Override); !ok {
			return fmt.Sprintf("No category called %q in your budget.\n%s", d.Override, helpText), nil
		}
	}

	p, err := m.storage.OldestPending(ctx, user.ID)
	if errors.Is(err, core.ErrNotFound) {
		return "Nothing is waiting for review.", nil
	}
	if err != nil {
		return "", err
	}

	res, err := m.engine.Confirm(ctx, user.ID, p.ID, d)
	if errors.Is(err, core.ErrNotFound) {
		return "That charge is no longer waiting for review.", nil
	}
	if err != nil {
		return "", err
	}

	reply := confirmReply(p, res)
	if next, err := m.storage.OldestPending(ctx, user.ID); err == nil {
		reply += "\n\nNext up: " + PromptText(next)
	} else if !errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "next prompt lookup failed", "user_id", user.ID, "error", err)
	}
	return reply, nil
}

func confirmReply(p core.PendingTransaction, res ConfirmResult) string {
	if res.AlreadyConfirmed {
		return fmt.Sprintf("%s was already recorded.", p.Merchant)
	}
	if res.Amount.IsZero() {
		return fmt.Sprintf("Okay, skipping %s.", p.Merchant)
	}
	return fmt.Sprintf("Recorded %s to %s for %s.",
		core.FormatAmount(res.Amount), res.Category, res.Month.First().Format("January"))
}

func (m *Messenger) balanceReply(ctx context.Context, userID int64) (string, error) {
	ov, err := m.budget.Overview(ctx, userID, core.CurrentMonth())
	if err != nil {
		return "", err
	}
	if len(ov.Categories) == 0 && !ov.Unbudgeted.IsPositive() {
		return "No budget categories set up yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Budget for %s:", ov.Month.First().Format("January"))
	for _, c := range ov.Categories {
		fmt.Fprintf(&b, "\n%s: %s of %s", c.Name, core.FormatAmount(c.Spent), core.FormatAmount(c.Limit))
		if c.Remaining.IsNegative() {
			fmt.Fprintf(&b, " (%s over)", core.FormatAmount(c.Remaining.Neg()))
		} else {
			fmt.Fprintf(&b, " (%s left)", core.FormatAmount(c.Remaining))
		}
	}
	if ov.Unbudgeted.IsPositive() {
		fmt.Fprintf(&b, "\nOutside budget: %s", core.FormatAmount(ov.Unbudgeted))
	}
	return b.String(), nil
}
