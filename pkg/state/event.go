package state

import "sync"

// Event is a one-shot, set-only signal. Waiters select on Done; Set is
// idempotent and safe from any goroutine.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set fires the event. Subsequent calls are no-ops.
func (e *Event) Set() {
	e.once.Do(func() { close(e.ch) })
}

// IsSet reports whether the event has fired without blocking.
func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the event fires.
func (e *Event) Done() <-chan struct{} {
	return e.ch
}
