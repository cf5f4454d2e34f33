package http

import (
	"encoding/xml"
	"net/http"
	"sync/atomic"

	"pocketwatch/internal/log"
)

// twimlResponse is the reply document SMS providers expect from a message
// webhook. An empty Message element is omitted, which tells the provider to
// send nothing.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// handleSMSWebhook receives inbound texts. The provider posts a form with
// From and Body; the reply rides back as TwiML on the response. Conversation
// outcomes (help text, "nothing pending", confirmations) are all 200s; only
// infrastructure failures return an error status, which makes the provider
// retry the delivery.
func (s *Server) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.logger.ErrorContext(r.Context(), "SMS webhook form parse failed",
			log.FieldError, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	from := sanitizeInput(r.PostForm.Get("From"))
	body := sanitizeInput(r.PostForm.Get("Body"))

	reply, err := s.messenger.HandleIncoming(r.Context(), from, body)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "SMS handling failed",
			log.FieldError, err,
			log.FieldPhone, from)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	atomic.AddInt64(&s.appMetrics.smsReplies, 1)

	// A confirm may have landed; drop the user's cached overviews rather
	// than parsing the reply for what happened.
	if user, err := s.store.GetUserByPhone(r.Context(), from); err == nil {
		s.invalidateOverviews(user.ID)
	}

	out, err := xml.Marshal(twimlResponse{Message: reply})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "TwiML marshal failed", log.FieldError, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}
