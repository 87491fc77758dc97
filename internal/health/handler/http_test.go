package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadiness(t *testing.T) {
	testCases := []struct {
		name       string
		checker    *Checker
		wantCode   int
		wantStatus string
	}{
		{"ready", NewChecker(&mockPinger{}, &mockPolicyChecker{}), http.StatusOK, "ok"},
		{"database down", NewChecker(&mockPinger{pingErr: errors.New("refused")}, nil), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tc.wantCode)
			}
			var body statusBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			if tc.wantCode != http.StatusOK && !strings.Contains(body.Error, "database") {
				t.Errorf("error = %q, want it to name the failing dependency", body.Error)
			}
		})
	}
}

func TestLiveness_IgnoresDependencies(t *testing.T) {
	c := NewChecker(&mockPinger{pingErr: errors.New("refused")}, nil)
	rec := httptest.NewRecorder()
	c.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rec.Code)
	}
}
