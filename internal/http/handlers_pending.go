package http

import (
	"net/http"
	"sync/atomic"

	"pocketwatch/internal/core"
	"pocketwatch/internal/log"
)

type pendingRow struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Merchant   string `json:"merchant"`
	Amount     string `json:"amount"`
	Category   string `json:"category"`
	PostedOn   string `json:"posted_on"`
}

// handleListPending answers GET /api/pending?phone=.. with the user's review
// queue, oldest first. The first row is the one an SMS "full" would settle.
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	user, err := s.userFromPhone(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	pending, err := s.store.ListPending(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows := make([]pendingRow, 0, len(pending))
	for _, p := range pending {
		rows = append(rows, pendingRow{
			ID:         p.ID,
			ExternalID: p.ExternalID,
			Merchant:   p.Merchant,
			Amount:     p.Amount.StringFixed(2),
			Category:   p.Category,
			PostedOn:   p.PostedOn.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": rows})
}

// handleConfirm settles one pending transaction. The decision field uses the
// same grammar as SMS replies ("full", "0", "12.50", "12.50,Food"), so both
// surfaces exercise one parser. Re-confirming an already settled transaction
// returns the stored outcome with already_confirmed set; totals are not
// touched twice.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	user, err := s.userFromPhone(r.Context(), parser.Get("phone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	pendingID, ok := parser.GetInt64("pending_id")
	if !ok {
		writeErrorMessage(w, http.StatusUnprocessableEntity, "validation", "pending_id must be an integer")
		return
	}

	decision, err := core.ParseDecision(parser.Get("decision"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// An override naming no budget category is a caller typo, not a request
	// to file spend under a brand-new label.
	if decision.Override != "" {
		if _, err := s.budget.ResolveCategory(r.Context(), user.ID, decision.Override); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	res, err := s.engine.Confirm(r.Context(), user.ID, pendingID, decision)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !res.AlreadyConfirmed {
		atomic.AddInt64(&s.appMetrics.totalConfirms, 1)
		s.invalidateOverviews(user.ID)
	}

	s.logger.InfoContext(r.Context(), "Pending transaction confirmed",
		log.FieldUserID, user.ID,
		log.FieldPendingID, pendingID,
		log.FieldAmount, res.Amount.StringFixed(2),
		log.FieldCategory, res.Category,
		"already_confirmed", res.AlreadyConfirmed,
		log.FieldOperation, log.OpConfirm)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":            res.Amount.StringFixed(2),
		"category":          res.Category,
		"month":             string(res.Month),
		"already_confirmed": res.AlreadyConfirmed,
	})
}

// handleSync answers POST /api/sync by running the user's sync inline and
// returning the applied counts. Manual triggers bypass the queue so the
// caller gets immediate feedback.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	user, err := s.userFromPhone(r.Context(), parser.Get("phone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Sync(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	atomic.AddInt64(&s.appMetrics.totalSyncs, 1)
	if res.Added > 0 || res.Modified > 0 || res.Removed > 0 {
		s.invalidateOverviews(user.ID)
	}

	s.logger.InfoContext(r.Context(), "Manual sync completed",
		log.FieldUserID, user.ID,
		log.FieldAdded, res.Added,
		log.FieldModified, res.Modified,
		log.FieldRemoved, res.Removed,
		log.FieldOperation, log.OpSync)

	writeJSON(w, http.StatusOK, res)
}
