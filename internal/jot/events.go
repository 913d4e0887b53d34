package jot

// EventKind discriminates the notifications a sync run emits.
type EventKind string

const (
	EventSyncStarted              EventKind = "syncStarted"
	EventReportUpdate             EventKind = "reportUpdate"
	EventSyncCompleted            EventKind = "syncCompleted"
	EventHasDisabledSyncItems     EventKind = "hasDisabledSyncItems"
	EventGotEncryptedItem         EventKind = "gotEncryptedItem"
	EventCreatedOrUpdatedResource EventKind = "createdOrUpdatedResource"
)

// Event is one notification from a sync run. Fields beyond Kind are set
// per kind: Report for reportUpdate, ResourceID for
// createdOrUpdatedResource, IsFullSync and WithErrors for syncCompleted.
type Event struct {
	Kind       EventKind
	Report     Report
	ResourceID string
	IsFullSync bool
	WithErrors bool
}

// Dispatcher receives engine events. Dispatch is called from the run
// goroutine and must not block.
type Dispatcher interface {
	Dispatch(Event)
}

// NopDispatcher ignores all events. Use when no UI is listening.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(Event) {}
