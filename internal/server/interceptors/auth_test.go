package interceptors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collab-sync/backend/internal/security"
)

func newProtected(t *testing.T, public map[string]bool) (http.Handler, *security.TokenIssuer, *string) {
	t.Helper()
	issuer, verifier, err := security.NewTestTokenPair()
	if err != nil {
		t.Fatalf("NewTestTokenPair: %v", err)
	}
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return Auth(verifier, public)(next), issuer, &seen
}

func TestAuth(t *testing.T) {
	h, issuer, seen := newProtected(t, map[string]bool{"/healthz": true})
	token, _, err := issuer.Issue(security.Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	testCases := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid token", "/api/sessions", "Bearer " + token, http.StatusNoContent, "user-1"},
		{"lowercase scheme", "/api/sessions", "bearer " + token, http.StatusNoContent, "user-1"},
		{"missing header", "/api/sessions", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/sessions", "Basic " + token, http.StatusUnauthorized, ""},
		{"garbage token", "/api/sessions", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
		{"public path without token", "/healthz", "", http.StatusNoContent, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			*seen = ""
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if *seen != tc.wantUser {
				t.Errorf("user in context = %q, want %q", *seen, tc.wantUser)
			}
			if tc.wantStatus == http.StatusUnauthorized {
				var body struct {
					Error struct{ Code, Message string } `json:"error"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("decode body: %v", err)
				}
				if body.Error.Code != "AuthenticationRequired" {
					t.Errorf("error code = %q", body.Error.Code)
				}
			}
		})
	}
}

func TestExtractBearer(t *testing.T) {
	testCases := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"  BEARER   abc  ", "abc"},
		{"Bearer", ""},
		{"Token abc", ""},
		{"", ""},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tc.header)
		if got := ExtractBearer(req); got != tc.want {
			t.Errorf("ExtractBearer(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
