package telemetry

import (
	"context"
	"errors"
)

// EventEmitter emits activity events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, *Event) error { return nil }

// MultiEmitter sends each event to every emitter in order. All emitters are tried; errors are joined.
type MultiEmitter []EventEmitter

// NewMultiEmitter drops nil emitters. With none left it returns NopEmitter, with one it returns that emitter.
func NewMultiEmitter(emitters ...EventEmitter) EventEmitter {
	var out MultiEmitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	switch len(out) {
	case 0:
		return NopEmitter{}
	case 1:
		return out[0]
	}
	return out
}

func (m MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
