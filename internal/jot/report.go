package jot

import "time"

// SyncAction names the reconciliation decision made for one item.
type SyncAction string

const (
	ActionCreateLocal      SyncAction = "createLocal"
	ActionUpdateLocal      SyncAction = "updateLocal"
	ActionDeleteLocal      SyncAction = "deleteLocal"
	ActionCreateRemote     SyncAction = "createRemote"
	ActionUpdateRemote     SyncAction = "updateRemote"
	ActionDeleteRemote     SyncAction = "deleteRemote"
	ActionItemConflict     SyncAction = "itemConflict"
	ActionNoteConflict     SyncAction = "noteConflict"
	ActionResourceConflict SyncAction = "resourceConflict"
)

// SyncState is the coarse state of the synchronizer.
type SyncState string

const (
	StateIdle       SyncState = "idle"
	StateInProgress SyncState = "in_progress"
)

// Report accumulates counters and errors over one sync run. It is owned
// by the run goroutine; other goroutines only ever see value snapshots.
type Report struct {
	CreateLocal      int
	UpdateLocal      int
	DeleteLocal      int
	CreateRemote     int
	UpdateRemote     int
	DeleteRemote     int
	ItemConflict     int
	NoteConflict     int
	ResourceConflict int

	FetchingTotal     int
	FetchingProcessed int

	State         SyncState
	Cancelling    bool
	StartTime     time.Time
	CompletedTime time.Time
	Errors        []error
}

// Bump increments the counter for one action.
func (r *Report) Bump(action SyncAction) {
	switch action {
	case ActionCreateLocal:
		r.CreateLocal++
	case ActionUpdateLocal:
		r.UpdateLocal++
	case ActionDeleteLocal:
		r.DeleteLocal++
	case ActionCreateRemote:
		r.CreateRemote++
	case ActionUpdateRemote:
		r.UpdateRemote++
	case ActionDeleteRemote:
		r.DeleteRemote++
	case ActionItemConflict:
		r.ItemConflict++
	case ActionNoteConflict:
		r.NoteConflict++
	case ActionResourceConflict:
		r.ResourceConflict++
	}
}

// Changed reports whether the run touched anything on either side.
func (r *Report) Changed() bool {
	return r.CreateLocal+r.UpdateLocal+r.DeleteLocal+
		r.CreateRemote+r.UpdateRemote+r.DeleteRemote+
		r.ItemConflict+r.NoteConflict+r.ResourceConflict > 0
}

// Snapshot returns a value copy with its own Errors slice.
func (r *Report) Snapshot() Report {
	snap := *r
	snap.Errors = append([]error(nil), r.Errors...)
	return snap
}
