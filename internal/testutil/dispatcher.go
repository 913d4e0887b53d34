package testutil

import (
	"sync"

	"jot-go/internal/jot"
)

// RecordingDispatcher captures dispatched events for assertions. Safe
// for concurrent use.
type RecordingDispatcher struct {
	mu     sync.Mutex
	events []jot.Event
}

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) Dispatch(e jot.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

// Events returns a copy of everything dispatched so far.
func (d *RecordingDispatcher) Events() []jot.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]jot.Event, len(d.events))
	copy(out, d.events)
	return out
}

// EventsOfKind returns the dispatched events of one kind, in order.
func (d *RecordingDispatcher) EventsOfKind(kind jot.EventKind) []jot.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []jot.Event
	for _, e := range d.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
