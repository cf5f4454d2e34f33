package services

import (
	"context"
	"fmt"
	"strings"

	"pocketwatch/internal/core"
	"pocketwatch/internal/storage"
)

// BudgetService reads and writes a user's budget categories and renders the
// month overview the SMS balance command, the budget endpoint, and the CSV
// export all share.
type BudgetService struct {
	storage *storage.SQLiteRepository
}

func NewBudgetService(st *storage.SQLiteRepository) *BudgetService {
	return &BudgetService{storage: st}
}

// Overview returns every budget category with its limit, the month's
// confirmed spend (zero when nothing was confirmed), and what remains.
// Confirmed spend under labels outside the budget is summed separately.
func (s *BudgetService) Overview(ctx context.Context, userID int64, month core.Month) (core.BudgetOverview, error) {
	if err := month.Validate(); err != nil {
		return core.BudgetOverview{}, err
	}

	cats, err := s.storage.ListCategories(ctx, userID)
	if err != nil {
		return core.BudgetOverview{}, err
	}
	totals, err := s.storage.MonthlyTotals(ctx, userID, month)
	if err != nil {
		return core.BudgetOverview{}, err
	}

	ov := core.BudgetOverview{Month: month}
	for _, c := range cats {
		status := core.CategoryStatus{Name: c.Name, Limit: c.MonthlyLimit}
		for _, t := range totals {
			if strings.EqualFold(t.Category, c.Name) {
				status.Spent = t.Total
				break
			}
		}
		status.Remaining = status.Limit.Sub(status.Spent)
		ov.Categories = append(ov.Categories, status)
	}

	for _, t := range totals {
		if _, ok := resolveCategory(cats, t.Category); !ok {
			ov.Unbudgeted = ov.Unbudgeted.Add(t.Total)
		}
	}
	return ov, nil
}

// SetBudget replaces the user's category set: submitted names are upserted
// with their limits, anything absent is removed.
func (s *BudgetService) SetBudget(ctx context.Context, userID int64, cats []core.BudgetCategory) error {
	seen := make(map[string]struct{}, len(cats))
	for i := range cats {
		cats[i].Name = strings.TrimSpace(cats[i].Name)
		cats[i].UserID = userID
		if err := cats[i].Validate(); err != nil {
			return fmt.Errorf("category %q: %w", cats[i].Name, err)
		}
		key := strings.ToLower(cats[i].Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("category %q: %w", cats[i].Name, core.ErrDuplicateCategory)
		}
		seen[key] = struct{}{}
	}

	if err := s.storage.ReplaceBudget(ctx, userID, cats); err != nil {
		return fmt.Errorf("replace budget: %w", err)
	}
	return nil
}

// ResolveCategory matches name against the user's budget categories without
// regard to case and returns the stored spelling. Unknown names get
// core.ErrUnknownCategory so callers can reject a typo before confirming
// against it.
func (s *BudgetService) ResolveCategory(ctx context.Context, userID int64, name string) (string, error) {
	cats, err := s.storage.ListCategories(ctx, userID)
	if err != nil {
		return "", err
	}
	if resolved, ok := resolveCategory(cats, name); ok {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: %s", core.ErrUnknownCategory, name)
}

// StatementRow is one line of the CSV statement export.
type StatementRow struct {
	Category  string `csv:"category"`
	Limit     string `csv:"limit"`
	Spent     string `csv:"spent"`
	Remaining string `csv:"remaining"`
}

// StatementRows flattens an overview for the CSV export, appending an
// unbudgeted line when spend landed outside every category.
func StatementRows(ov core.BudgetOverview) []StatementRow {
	rows := make([]StatementRow, 0, len(ov.Categories)+1)
	for _, c := range ov.Categories {
		rows = append(rows, StatementRow{
			Category:  c.Name,
			Limit:     c.Limit.StringFixed(2),
			Spent:     c.Spent.StringFixed(2),
			Remaining: c.Remaining.StringFixed(2),
		})
	}
	if ov.Unbudgeted.IsPositive() {
		rows = append(rows, StatementRow{
			Category:  "(unbudgeted)",
			Limit:     "0.00",
			Spent:     ov.Unbudgeted.StringFixed(2),
			Remaining: ov.Unbudgeted.Neg().StringFixed(2),
		})
	}
	return rows
}
