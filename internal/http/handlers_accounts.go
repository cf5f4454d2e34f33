package http

import (
	"net/http"
	"strings"

	"pocketwatch/internal/log"
)

// handleLinkToken starts the bank-link handshake: the client trades a phone
// number for a short-lived aggregator link token.
func (s *Server) handleLinkToken(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	phone := parser.Get("phone")
	token, err := s.accounts.CreateLinkToken(r.Context(), phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "Link token issued",
		log.FieldPhone, phone,
		log.FieldOperation, log.OpLink)

	writeJSON(w, http.StatusOK, map[string]string{"link_token": token})
}

// handleConnectBank completes the handshake, exchanging the public token for
// a stored credential. Relinking an existing phone replaces the credential
// and resets the sync cursor.
func (s *Server) handleConnectBank(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}

	phone := parser.Get("phone")
	publicToken := parser.Get("public_token")

	user, err := s.accounts.ConnectBank(r.Context(), phone, publicToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "Bank account connected",
		log.FieldUserID, user.ID,
		log.FieldItemID, user.ItemID,
		log.FieldOperation, log.OpLink)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": user.ID,
		"phone":   user.PhoneNumber,
		"item_id": user.ItemID,
	})
}

// handleDeleteUser removes a user and everything they own. The phone comes
// from the query string so callers can issue a bare DELETE.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}

	phone := strings.TrimSpace(r.URL.Query().Get("phone"))

	// Resolve before deleting; afterwards the id is gone and cached
	// overviews would linger until their TTL.
	user, resolveErr := s.userFromPhone(r.Context(), phone)

	if err := s.accounts.DeleteUser(r.Context(), phone); err != nil {
		s.writeError(w, r, err)
		return
	}

	if resolveErr == nil {
		s.invalidateOverviews(user.ID)
	}

	s.logger.InfoContext(r.Context(), "User deleted",
		log.FieldPhone, phone,
		log.FieldOperation, log.OpDelete)

	w.WriteHeader(http.StatusNoContent)
}
