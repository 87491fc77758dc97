// Package producer publishes activity events to a message broker (Kafka).
package producer

import (
	"collab-sync/backend/internal/telemetry"
)

// Producer is an EventEmitter that owns a broker connection. Callers use it best-effort: log and ignore errors.
type Producer interface {
	telemetry.EventEmitter
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
