package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gocarina/gocsv"

	"pocketwatch/internal/core"
	"pocketwatch/internal/log"
	"pocketwatch/internal/services"
)

type categoryStatusResponse struct {
	Name      string `json:"name"`
	Limit     string `json:"limit"`
	Spent     string `json:"spent"`
	Remaining string `json:"remaining"`
}

type overviewResponse struct {
	Month      string                   `json:"month"`
	Categories []categoryStatusResponse `json:"categories"`
	Unbudgeted string                   `json:"unbudgeted"`
}

func toOverviewResponse(ov core.BudgetOverview) overviewResponse {
	resp := overviewResponse{
		Month:      string(ov.Month),
		Categories: make([]categoryStatusResponse, 0, len(ov.Categories)),
		Unbudgeted: ov.Unbudgeted.StringFixed(2),
	}
	for _, c := range ov.Categories {
		resp.Categories = append(resp.Categories, categoryStatusResponse{
			Name:      c.Name,
			Limit:     c.Limit.StringFixed(2),
			Spent:     c.Spent.StringFixed(2),
			Remaining: c.Remaining.StringFixed(2),
		})
	}
	return resp
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleBudgetOverview(w, r)
	case http.MethodPut:
		s.handleBudgetReplace(w, r)
	default:
		requireMethod(w, r, http.MethodGet, http.MethodPut)
	}
}

// handleBudgetOverview answers GET /api/budget?phone=..&month=YYYY-MM with
// per-category limit/spent/remaining plus the unbudgeted remainder.
func (s *Server) handleBudgetOverview(w http.ResponseWriter, r *http.Request) {
	user, err := s.userFromPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	month, err := monthParam(r)
	if err != nil {
		writeErrorMessage(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}

	key := overviewKey(user.ID, month)
	if cached, ok := s.overviewCache.Get(key); ok {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		writeJSON(w, http.StatusOK, toOverviewResponse(cached))
		return
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	ov, err := s.budget.Overview(r.Context(), user.ID, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.overviewCache.Set(key, ov)

	writeJSON(w, http.StatusOK, toOverviewResponse(ov))
}

// handleBudgetReplace answers PUT /api/budget, swapping the user's whole
// category set in one shot. The body is structured JSON, not a flat form.
func (s *Server) handleBudgetReplace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone      string `json:"phone"`
		Categories []struct {
			Name         string `json:"name"`
			MonthlyLimit string `json:"monthly_limit"`
		} `json:"categories"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	user, err := s.userFromPhone(r.Context(), req.Phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cats := make([]core.BudgetCategory, 0, len(req.Categories))
	for _, c := range req.Categories {
		limit, err := core.ParseAmount(c.MonthlyLimit)
		if err != nil {
			writeErrorMessage(w, http.StatusUnprocessableEntity, "validation",
				fmt.Sprintf("bad monthly_limit for %q", c.Name))
			return
		}
		cats = append(cats, core.BudgetCategory{
			UserID:       user.ID,
			Name:         sanitizeInput(c.Name),
			MonthlyLimit: limit,
		})
	}

	if err := s.budget.SetBudget(r.Context(), user.ID, cats); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.invalidateOverviews(user.ID)

	s.logger.InfoContext(r.Context(), "Budget replaced",
		log.FieldUserID, user.ID,
		"categories", len(cats))

	writeJSON(w, http.StatusOK, map[string]int{"categories": len(cats)})
}

// handleTotals answers GET /api/totals?phone=..&month=YYYY-MM with raw
// per-category confirmed spend, no budget comparison.
func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	user, err := s.userFromPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	month, err := monthParam(r)
	if err != nil {
		writeErrorMessage(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}

	totals, err := s.store.MonthlyTotals(r.Context(), user.ID, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	type totalRow struct {
		Category string `json:"category"`
		Total    string `json:"total"`
	}
	rows := make([]totalRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, totalRow{Category: t.Category, Total: t.Total.StringFixed(2)})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"month":  string(month),
		"totals": rows,
	})
}

// handleTotalsExport answers GET /api/totals/export with the month's budget
// statement as a CSV download.
func (s *Server) handleTotalsExport(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	user, err := s.userFromPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	month, err := monthParam(r)
	if err != nil {
		writeErrorMessage(w, http.StatusUnprocessableEntity, "validation", err.Error())
		return
	}

	ov, err := s.budget.Overview(r.Context(), user.ID, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows := services.StatementRows(ov)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="statement-%s.csv"`, month))
	if err := gocsv.Marshal(&rows, w); err != nil {
		s.logger.ErrorContext(r.Context(), "CSV export failed",
			log.FieldError, err,
			log.FieldUserID, user.ID,
			log.FieldOperation, log.OpExport)
	}
}
