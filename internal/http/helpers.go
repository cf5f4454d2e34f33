package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pocketwatch/internal/bank"
	"pocketwatch/internal/core"
	"pocketwatch/internal/log"
	"pocketwatch/internal/services"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// errorEnvelope is the uniform error shape for every API response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: kind, Message: message}})
}

// writeError maps a domain error onto the API's status/kind taxonomy.
// Internal failures get a generic message so storage and aggregator details
// never reach the client; the logged error keeps the real cause.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classifyError(err)

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "Request failed",
			log.FieldError, err,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		writeErrorMessage(w, status, kind, "internal error")
		return
	}

	writeErrorMessage(w, status, kind, err.Error())
}

// classifyError picks the HTTP status and machine-readable kind for an error.
// Auth errors outrank transient ones: an expired credential never heals on
// retry, so it must not be reported as retryable.
func classifyError(err error) (status int, kind string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case bank.IsAuth(err):
		return http.StatusConflict, "auth_expired"
	case errors.Is(err, core.ErrNotLinked):
		return http.StatusConflict, "not_linked"
	case core.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation"
	case services.IsRetryable(err):
		return http.StatusServiceUnavailable, "transient"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// requireMethod writes a 405 and returns false when the request method is
// not one of the allowed set.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeErrorMessage(w, http.StatusMethodNotAllowed, "method_not_allowed",
		"allowed: "+strings.Join(methods, ", "))
	return false
}

// userFromPhone resolves the phone query/body value to a stored user.
func (s *Server) userFromPhone(ctx context.Context, phone string) (core.User, error) {
	if err := core.ValidatePhone(phone); err != nil {
		return core.User{}, err
	}
	return s.store.GetUserByPhone(ctx, phone)
}

// monthParam reads the optional ?month=YYYY-MM query value, defaulting to
// the current month. Callers treat a parse failure as caller input, not an
// internal error.
func monthParam(r *http.Request) (core.Month, error) {
	v := strings.TrimSpace(r.URL.Query().Get("month"))
	if v == "" {
		return core.CurrentMonth(), nil
	}
	m, err := core.ParseMonth(v)
	if err != nil {
		return "", fmt.Errorf("month must be YYYY-MM, got %q", v)
	}
	return m, nil
}

func overviewKeyPrefix(userID int64) string {
	return fmt.Sprintf("%d|", userID)
}

func overviewKey(userID int64, month core.Month) string {
	return fmt.Sprintf("%d|%s", userID, month)
}

// sanitizeInput removes potentially dangerous characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
