package http

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func TestLinkTokenIssued(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/link-token",
		`{"phone":"+15550001111"}`, "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"link_token":"link-sandbox-`) {
		t.Errorf("body missing link token: %s", rr.Body.String())
	}
}

func TestLinkTokenRejectsBadPhone(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/link-token",
		`{"phone":"12ab"}`, "application/json")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"kind":"validation"`) {
		t.Errorf("body missing validation kind: %s", rr.Body.String())
	}
}

func TestConnectBankCreatesUser(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/connect-bank",
		`{"phone":"+15550001111","public_token":"pt-1"}`, "application/json")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"item_id":"item-pt-1"`) {
		t.Errorf("body missing item id: %s", rr.Body.String())
	}

	user, err := srv.store.GetUserByPhone(context.Background(), "+15550001111")
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	if !user.Linked() {
		t.Error("stored user should be linked")
	}
}

func TestConnectBankAcceptsFormBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/connect-bank",
		"phone=%2B15550001111&public_token=pt-form", "application/x-www-form-urlencoded")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"item_id":"item-pt-form"`) {
		t.Errorf("body missing item id: %s", rr.Body.String())
	}
}

func TestConnectBankRejectsEmptyToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/connect-bank",
		`{"phone":"+15550001111"}`, "application/json")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d, want 422", rr.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	srv, _ := newTestServer(t)
	connectUser(t, srv, "+15550001111", "pt-1")

	rr := doRequest(t, srv, http.MethodDelete, "/api/users?phone=%2B15550001111", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rr.Code)
	}

	// Second delete has nothing to remove.
	rr = doRequest(t, srv, http.MethodDelete, "/api/users?phone=%2B15550001111", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("repeat delete status=%d, want 404", rr.Code)
	}
}
