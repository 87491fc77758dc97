package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	delay   time.Duration
	ctxErrs []error
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.ctxErrs = append(m.ctxErrs, ctx.Err())
			m.mu.Unlock()
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func waitForEvents(t *testing.T, m *mockEventEmitter, n int) []*Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev := m.getEvents(); len(ev) >= n {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(m.getEvents()))
	return nil
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(context.Background(), zap.NewNop(), nil, NewEvent(EventSessionJoined, SourceGateway, "s1", "u1"))
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(context.Background(), zap.NewNop(), emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if events := emitter.getEvents(); len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	ev := NewEvent(EventDocumentEdited, SourceGateway, "s1", "u1")
	ev.Version = 4

	EmitAsync(context.Background(), nil, emitter, ev)

	events := waitForEvents(t, emitter, 1)
	if events[0].Type != EventDocumentEdited || events[0].SessionID != "s1" || events[0].UserID != "u1" {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].Version != 4 {
		t.Errorf("version = %d, want 4", events[0].Version)
	}
}

func TestEmitAsync_CancelledRequestContextStillEmits(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(ctx, zap.NewNop(), emitter, NewEvent(EventSessionLeft, SourceGateway, "s1", "u1"))

	waitForEvents(t, emitter, 1)
}

func TestEmitAsync_ErrorIsLoggedNotReturned(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(context.Background(), zap.NewNop(), emitter, NewEvent(EventSessionEnded, SourceHTTP, "s1", "u1"))
	waitForEvents(t, emitter, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(context.Background(), zap.NewNop(), emitter, NewEvent(EventDocumentEdited, SourceGateway, "s1", "u1"))
		}()
	}
	wg.Wait()
	waitForEvents(t, emitter, 10)
}

func TestNewMultiEmitter(t *testing.T) {
	if _, ok := NewMultiEmitter().(NopEmitter); !ok {
		t.Error("no emitters should give NopEmitter")
	}
	if _, ok := NewMultiEmitter(nil, nil).(NopEmitter); !ok {
		t.Error("only nil emitters should give NopEmitter")
	}
	one := &mockEventEmitter{}
	if got := NewMultiEmitter(nil, one); got != EventEmitter(one) {
		t.Errorf("single emitter should be returned as is, got %T", got)
	}
}

func TestMultiEmitter_TriesAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	a := &mockEventEmitter{emitErr: errA}
	b := &mockEventEmitter{}
	m := NewMultiEmitter(a, b)

	err := m.Emit(context.Background(), NewEvent(EventSessionCreated, SourceHTTP, "s1", "u1"))
	if !errors.Is(err, errA) {
		t.Errorf("Emit error = %v, want it to wrap %v", err, errA)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Errorf("each emitter should see the event: a=%d b=%d", len(a.getEvents()), len(b.getEvents()))
	}
}

func TestEvent_WithMetadata(t *testing.T) {
	ev := NewEvent(EventDocumentEdited, SourceGateway, "s1", "u1").WithMetadata(map[string]int{"operations": 3})
	if string(ev.Metadata) != `{"operations":3}` {
		t.Errorf("metadata = %s", ev.Metadata)
	}
	ev = NewEvent(EventDocumentEdited, SourceGateway, "s1", "u1").WithMetadata(func() {})
	if ev.Metadata != nil {
		t.Errorf("unencodable metadata should be dropped, got %s", ev.Metadata)
	}
	if ev.CreatedAt.IsZero() || ev.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want UTC now", ev.CreatedAt)
	}
}

func TestMetrics_NopDoesNotPanic(t *testing.T) {
	m := NopMetrics()
	ctx := context.Background()
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.EditApplied(ctx)
	m.EditRejected(ctx)
	m.MessageDropped(ctx)
}
