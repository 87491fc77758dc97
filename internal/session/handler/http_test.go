package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"collab-sync/backend/internal/security"
	"collab-sync/backend/internal/server/interceptors"
	"collab-sync/backend/internal/session/domain"
	"collab-sync/backend/internal/session/repository"
	"collab-sync/backend/internal/session/service"
	"collab-sync/backend/internal/telemetry"
)

type recordingNotifier struct {
	mu     sync.Mutex
	closed []string
}

func (n *recordingNotifier) CloseSession(_ context.Context, sessionID, endedBy string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, sessionID+"/"+endedBy)
}

type chanEmitter chan *telemetry.Event

func (c chanEmitter) Emit(_ context.Context, e *telemetry.Event) error {
	c <- e
	return nil
}

type fixture struct {
	store    *service.Store
	notifier *recordingNotifier
	events   chanEmitter
	router   *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    service.NewStore(repository.NewMemoryRepository()),
		notifier: &recordingNotifier{},
		events:   make(chanEmitter, 16),
		router:   mux.NewRouter(),
	}
	NewHandler(f.store, WithNotifier(f.notifier), WithEmitter(f.events)).Register(f.router)
	return f
}

// do sends a request as userID. An empty userID sends it without an identity.
func (f *fixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(interceptors.WithIdentity(req.Context(), security.Identity{UserID: userID}))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) expectEvent(t *testing.T, want telemetry.EventType) *telemetry.Event {
	t.Helper()
	select {
	case e := <-f.events:
		if e.Type != want {
			t.Fatalf("event = %s, want %s", e.Type, want)
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event", want)
	}
	return nil
}

func (f *fixture) create(t *testing.T, host string) *domain.Session {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", host, `{"name":"pairing","language":"go","code":"package main"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var sess domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	f.expectEvent(t, telemetry.EventSessionCreated)
	return &sess
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body, err)
	}
	return body.Error.Code
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")
	if sess.HostID != "host" || sess.Code != "package main" || sess.Status != domain.StatusActive {
		t.Errorf("session = %+v", sess)
	}
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name     string
		userID   string
		body     string
		wantCode int
		wantKind string
	}{
		{"no identity", "", `{"name":"a","language":"go"}`, http.StatusUnauthorized, "AuthenticationRequired"},
		{"missing name", "host", `{"language":"go"}`, http.StatusBadRequest, "ValidationError"},
		{"malformed body", "host", `{"name":`, http.StatusBadRequest, "ValidationError"},
		{"unknown field", "host", `{"name":"a","language":"go","owner":"x"}`, http.StatusBadRequest, "ValidationError"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/sessions", tc.userID, tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if got := errorCode(t, rec); got != tc.wantKind {
				t.Errorf("code = %q, want %q", got, tc.wantKind)
			}
		})
	}
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, "guest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/sessions/missing", "guest", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NotFound" {
		t.Errorf("get missing = %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/api/sessions", "guest", "")
	var list []*domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestUpdate_HostOnly(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")

	rec := f.do(t, http.MethodPatch, "/api/sessions/"+sess.ID, "guest", `{"name":"hijack"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("guest patch status = %d, want 403", rec.Code)
	}
	rec = f.do(t, http.MethodPatch, "/api/sessions/"+sess.ID, "host", `{"name":"renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("host patch status = %d: %s", rec.Code, rec.Body)
	}
	var got domain.Session
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Name != "renamed" {
		t.Errorf("name = %q", got.Name)
	}
	if len(f.notifier.closed) != 0 {
		t.Errorf("rename closed the session: %v", f.notifier.closed)
	}
}

func TestUpdate_StatusEndedClosesSession(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")
	rec := f.do(t, http.MethodPatch, "/api/sessions/"+sess.ID, "host", `{"status":"ended"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if len(f.notifier.closed) != 1 || f.notifier.closed[0] != sess.ID+"/host" {
		t.Errorf("closed = %v", f.notifier.closed)
	}
}

func TestEnd(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")

	rec := f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, "guest", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("guest end status = %d, want 403", rec.Code)
	}
	rec = f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, "host", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d: %s", rec.Code, rec.Body)
	}
	var got domain.Session
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != domain.StatusEnded {
		t.Errorf("status = %q", got.Status)
	}
	if len(f.notifier.closed) != 1 {
		t.Errorf("closed = %v", f.notifier.closed)
	}
	stored, err := f.store.GetSession(context.Background(), sess.ID)
	if err != nil || !stored.IsEnded() {
		t.Errorf("stored session = %+v, %v", stored, err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")

	rec := f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID+"/delete", "host", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body)
	}
	f.expectEvent(t, telemetry.EventSessionDeleted)
	rec = f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, "host", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestParticipants(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "host")
	conn := "conn-1"
	if _, err := f.store.AddParticipant(context.Background(), sess.ID, "guest", &conn); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/participants", "guest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "conn-1") {
		t.Error("participant list leaks connection ids")
	}
	var list []*domain.Participant
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("participants = %d, want 2", len(list))
	}

	rec = f.do(t, http.MethodGet, "/api/sessions/missing/participants", "guest", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d", rec.Code)
	}
}
