package httpapi

import (
	"net/http"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doRequest(api, http.MethodGet, "/healthz", "", nil)
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("header %s: want %q, got %q", header, want, got)
		}
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://127.0.0.1:3000" {
		t.Fatalf("unexpected CORS origin: %s", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCSRFRequiredForMutations(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginToken(t, api, "cashier", "cashier-secret-1")

	body := `{"items":[{"id":"srv-x","quantity":1,"price_cents":100}],"total_cents":100}`
	rec := doRequest(api, http.MethodPost, "/api/v1/sales", body, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a CSRF token, got %d", rec.Code)
	}

	rec = doRequest(api, http.MethodPost, "/api/v1/sales", body, map[string]string{
		"Authorization": "Bearer " + token,
		"X-CSRF-Token":  "bogus",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with a forged CSRF token, got %d", rec.Code)
	}
}

func TestCSRFTokenEndpointIssuesValidToken(t *testing.T) {
	api, _ := newTestAPI(t)

	if !api.validateCSRFToken(api.generateCSRFToken()) {
		t.Fatalf("freshly issued token failed validation")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("empty token validated")
	}
}

func TestLoginRateLimiter(t *testing.T) {
	api, _ := newTestAPI(t)

	body := `{"username":"admin","password":"wrong"}`
	for i := 0; i < 5; i++ {
		rec := doRequest(api, http.MethodPost, "/api/v1/auth/login", body, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := doRequest(api, http.MethodPost, "/api/v1/auth/login", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the limit, got %d", rec.Code)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	api, _ := newTestAPI(t)

	body := `{"username":"admin","password":"admin-secret-1","extra":"field"}`
	rec := doRequest(api, http.MethodPost, "/api/v1/auth/login", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
