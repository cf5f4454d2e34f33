package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestBodyParser_JSON(t *testing.T) {
	body := `{"phone": "+15550001111", "public_token": "pt-1", "pending_id": 42}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !parser.IsJSON() {
		t.Error("Expected IsJSON() to be true")
	}

	if phone := parser.Get("phone"); phone != "+15550001111" {
		t.Errorf("Get('phone') = %q, want '+15550001111'", phone)
	}

	if token := parser.Get("public_token"); token != "pt-1" {
		t.Errorf("Get('public_token') = %q, want 'pt-1'", token)
	}

	if id := parser.Get("pending_id"); id != "42" {
		t.Errorf("Get('pending_id') = %q, want '42'", id)
	}
}

func TestRequestBodyParser_FormData(t *testing.T) {
	body := "From=%2B15550001111&Body=full+amount"
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if parser.IsJSON() {
		t.Error("Expected IsJSON() to be false for form data")
	}

	if from := parser.Get("From"); from != "+15550001111" {
		t.Errorf("Get('From') = %q, want '+15550001111'", from)
	}

	if body := parser.Get("Body"); body != "full amount" {
		t.Errorf("Get('Body') = %q, want 'full amount'", body)
	}
}

func TestRequestBodyParser_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(""))

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if val := parser.Get("nonexistent"); val != "" {
		t.Errorf("Get('nonexistent') = %q, want empty string", val)
	}
}

func TestRequestBodyParser_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"phone":`))
	req.Header.Set("Content-Type", "application/json")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err == nil {
		t.Fatal("Parse() should fail on truncated JSON")
	}

	// Parse is sticky: repeated calls report the same failure.
	if err := parser.Parse(); err == nil {
		t.Error("second Parse() should report the same failure")
	}
}

func TestRequestBodyParser_GetInt64(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		key    string
		want   int64
		wantOK bool
	}{
		{"json number", `{"pending_id": 42}`, "pending_id", 42, true},
		{"json string", `{"pending_id": "17"}`, "pending_id", 17, true},
		{"form value", "pending_id=9", "pending_id", 9, true},
		{"missing key", `{"phone": "+15550001111"}`, "pending_id", 0, false},
		{"not a number", `{"pending_id": "abc"}`, "pending_id", 0, false},
		{"fractional number", `{"pending_id": 42.5}`, "pending_id", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			parser := NewRequestBodyParser(req)
			if err := parser.Parse(); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}

			got, ok := parser.GetInt64(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("GetInt64(%q) ok = %v, want %v", tt.key, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("GetInt64(%q) = %d, want %d", tt.key, got, tt.want)
			}
		})
	}
}

func TestRequestBodyParser_StripsControlCharacters(t *testing.T) {
	body := "Body=%01%02full"
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := parser.Get("Body"); got != "full" {
		t.Errorf("Get('Body') = %q, want control characters stripped", got)
	}
}

func TestRequireMethodHelper(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		allowed   []string
		wantPass  bool
		wantAllow string
	}{
		{"POST allowed", http.MethodPost, []string{http.MethodPost}, true, ""},
		{"GET within multiple", http.MethodGet, []string{http.MethodGet, http.MethodPut}, true, ""},
		{"PUT rejected", http.MethodPut, []string{http.MethodPost}, false, "POST"},
		{"DELETE rejected with multiple", http.MethodDelete, []string{http.MethodGet, http.MethodPut}, false, "GET, PUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			rr := httptest.NewRecorder()

			pass := requireMethod(rr, req, tt.allowed...)
			if pass != tt.wantPass {
				t.Fatalf("requireMethod = %v, want %v", pass, tt.wantPass)
			}
			if tt.wantPass {
				return
			}
			if rr.Code != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", rr.Code)
			}
			if got := rr.Header().Get("Allow"); got != tt.wantAllow {
				t.Errorf("Allow = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}
