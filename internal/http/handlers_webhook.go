package http

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"pocketwatch/internal/amqp"
	"pocketwatch/internal/core"
	"pocketwatch/internal/log"
)

// handleBankWebhook receives aggregator notifications that a user's item has
// new transaction data. With a publisher configured the sync is enqueued for
// the worker; otherwise it runs inline on this request.
//
// The handler acknowledges almost everything with a 200: webhook senders
// retry non-2xx responses, and retrying cannot fix an unknown item or an
// expired credential. The scheduled sweep is the safety net for anything
// dropped here.
func (s *Server) handleBankWebhook(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	webhookType := parser.Get("webhook_type")
	webhookCode := parser.Get("webhook_code")
	itemID := parser.Get("item_id")

	if !strings.EqualFold(webhookType, "TRANSACTIONS") {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	user, err := s.store.GetUserByItem(r.Context(), itemID)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.WarnContext(r.Context(), "Webhook for unknown item",
			log.FieldItemID, itemID,
			"webhook_code", webhookCode)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.publisher != nil {
		if err := s.publisher.PublishSyncRequest(r.Context(), user.ID, amqp.ReasonWebhook); err != nil {
			// Queue trouble: report retryable so the sender redelivers.
			s.logger.ErrorContext(r.Context(), "Webhook sync enqueue failed",
				log.FieldError, err,
				log.FieldUserID, user.ID)
			writeErrorMessage(w, http.StatusServiceUnavailable, "transient", "sync queue unavailable")
			return
		}

		s.logger.InfoContext(r.Context(), "Webhook sync enqueued",
			log.FieldUserID, user.ID,
			log.FieldItemID, itemID,
			log.FieldReason, amqp.ReasonWebhook)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	res, err := s.engine.Sync(r.Context(), user.ID)
	if err != nil {
		// Acknowledged anyway; see the handler comment.
		s.logger.ErrorContext(r.Context(), "Webhook sync failed",
			log.FieldError, err,
			log.FieldUserID, user.ID,
			log.FieldItemID, itemID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
		return
	}

	atomic.AddInt64(&s.appMetrics.totalSyncs, 1)
	if res.Added > 0 || res.Modified > 0 || res.Removed > 0 {
		s.invalidateOverviews(user.ID)
	}

	s.logger.InfoContext(r.Context(), "Webhook sync completed",
		log.FieldUserID, user.ID,
		log.FieldAdded, res.Added,
		log.FieldModified, res.Modified,
		log.FieldRemoved, res.Removed,
		log.FieldReason, amqp.ReasonWebhook)

	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}
