package client

import (
	"sync"

	"collab-sync/backend/internal/protocol"
)

// eventQueue hands events from the read loop to the dispatcher. push never blocks, so a slow
// handler cannot hold up ack delivery.
type eventQueue struct {
	mu     sync.Mutex
	items  []protocol.Message
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(m protocol.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.signal()
}

// close lets next return false once the queued events are drained.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next blocks until an event is queued or the queue is closed and empty.
func (q *eventQueue) next() (protocol.Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = protocol.Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return protocol.Message{}, false
		}
		<-q.ready
	}
}
