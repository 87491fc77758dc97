package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, status int, got *PushRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode body: %v", err)
			}
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_EmptyURL(t *testing.T) {
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := newTestServer(t, http.StatusNoContent, &got)
	c, err := NewClient(srv.URL+"/", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	raw := []byte(`{"eventType":"document_edited","sessionId":"s1","source":"gateway","createdAt":"2026-03-01T12:00:00Z"}`)
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != DefaultJob || s.Stream["event_type"] != "document_edited" || s.Stream["source"] != "gateway" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["session_id"]; ok {
		t.Error("session id must not be a label")
	}
	wantTS := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano()
	if len(s.Values) != 1 || s.Values[0][0] != jsonInt(wantTS) || s.Values[0][1] != string(raw) {
		t.Errorf("values = %v", s.Values)
	}
}

func TestPushEventJSON_UnparseableLineStillPushed(t *testing.T) {
	var got PushRequest
	srv := newTestServer(t, http.StatusNoContent, &got)
	c, _ := NewClient(srv.URL, nil)
	if err := c.PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if got.Streams[0].Values[0][1] != "not json" {
		t.Errorf("line = %q", got.Streams[0].Values[0][1])
	}
	if len(got.Streams[0].Stream) != 1 {
		t.Errorf("labels = %v, want only job", got.Streams[0].Stream)
	}
}

func TestPush_SanitizesLabels(t *testing.T) {
	var got PushRequest
	srv := newTestServer(t, http.StatusNoContent, &got)
	c, _ := NewClient(srv.URL, nil)
	err := c.Push(context.Background(), time.Now(), "line", map[string]string{"source": " my source/1 ", "empty": "  "})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got.Streams[0].Stream["source"] != "my_source_1" {
		t.Errorf("source label = %q", got.Streams[0].Stream["source"])
	}
	if _, ok := got.Streams[0].Stream["empty"]; ok {
		t.Error("blank label should be dropped")
	}
}

func TestPush_Non2xx(t *testing.T) {
	srv := newTestServer(t, http.StatusBadRequest, nil)
	c, _ := NewClient(srv.URL, nil)
	if err := c.Push(context.Background(), time.Now(), "line", nil); err == nil {
		t.Fatal("expected error for 400")
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
