package jot

import "jot-go/internal/model"

// SyncItemRow is the per-(target, item) sync bookkeeping row.
type SyncItemRow struct {
	SyncTargetID       int
	ItemID             string
	SyncTime           int64 // updated_time at last successful upload; 0 = never synced
	SyncDisabled       bool
	SyncDisabledReason string
}

// DeletedItemRow queues a local deletion for remote propagation.
type DeletedItemRow struct {
	ItemID       string
	ItemKind     model.Kind
	SyncTargetID int
}

// FetchStatus tracks the download state of a resource blob.
type FetchStatus int

const (
	FetchStatusIdle    FetchStatus = 0
	FetchStatusStarted FetchStatus = 1
	FetchStatusDone    FetchStatus = 2
	FetchStatusError   FetchStatus = 3
)

func (s FetchStatus) String() string {
	switch s {
	case FetchStatusIdle:
		return "idle"
	case FetchStatusStarted:
		return "started"
	case FetchStatusDone:
		return "done"
	case FetchStatusError:
		return "error"
	}
	return "unknown"
}

// UnsyncedItem pairs an item needing upload with its recorded sync time.
type UnsyncedItem struct {
	Item     *model.Item
	SyncTime int64
}

// SyncBatch is one page of items needing sync.
type SyncBatch struct {
	Items   []UnsyncedItem
	HasMore bool
}

// SaveOptions controls how SaveItem persists.
type SaveOptions struct {
	// AutoTimestamp bumps UpdatedTime from the store clock, the way user
	// edits do. Sync-sourced saves keep the remote times instead.
	AutoTimestamp bool
}

// DeleteOptions controls what a local deletion records.
type DeleteOptions struct {
	// TrackDeleted queues the deletion for remote propagation. Deletions
	// that mirror a remote state change must not be propagated back.
	TrackDeleted bool
	SyncTargetID int
}

// Store is the local persistence the engine drives. Lookups return
// (nil, nil) when the row does not exist.
type Store interface {
	// Item operations

	// Item returns one item by id.
	Item(id string) (*model.Item, error)

	// SaveItem inserts or updates an item.
	SaveItem(item *model.Item, opts SaveOptions) error

	// DeleteItem removes an item, its resource blob and local state when
	// it is a resource, and optionally records the deletion for sync.
	DeleteItem(id string, opts DeleteOptions) error

	// ItemsNeedingSync returns the next batch of items whose updated_time
	// is past their sync_time for the target, oldest first. Conflict
	// copies and sync-disabled items are excluded.
	ItemsNeedingSync(targetID int, limit int) (*SyncBatch, error)

	// NoteIDsInFolder returns the ids of all notes directly inside a
	// folder.
	NoteIDsInFolder(folderID string) ([]string, error)

	// Conflict handling

	// CreateConflictNote duplicates a note into the Conflicts folder,
	// preserving its times and recording the original id.
	CreateConflictNote(note *model.Item) error

	// CreateResourceConflictNote creates a note in the Conflicts folder
	// that links the conflicted resource.
	CreateResourceConflictNote(resource *model.Item) error

	// MarkNotesAsConflict moves the given notes to the Conflicts folder.
	MarkNotesAsConflict(noteIDs []string) error

	// Sync bookkeeping

	// SaveSyncTime records a successful upload, replacing any previous
	// row and clearing a sync-disabled flag.
	SaveSyncTime(targetID int, itemID string, syncTime int64) error

	// SaveItemFromSync saves an item arriving from the target and updates
	// its sync row in the same transaction, without bumping timestamps.
	SaveItemFromSync(item *model.Item, targetID int, syncTime int64) error

	// SyncedItemIDs returns the ids of every item that was ever uploaded
	// to the target. Never-synced items are excluded.
	SyncedItemIDs(targetID int) ([]string, error)

	// DeletedItems returns the pending deletion queue for the target.
	DeletedItems(targetID int) ([]DeletedItemRow, error)

	// RemoveDeletedItemRecord drops one entry from the deletion queue.
	RemoveDeletedItemRecord(itemID string, targetID int) error

	// PurgeOrphanedSyncItems removes sync rows whose item no longer
	// exists locally.
	PurgeOrphanedSyncItems(targetID int) error

	// DisableItemSync flags an item as unsyncable with a reason shown to
	// the user.
	DisableItemSync(itemID string, targetID int, reason string) error

	// Resource state

	// ResourceFetchStatus returns the blob download state of a resource.
	// Resources without a state row report idle.
	ResourceFetchStatus(resourceID string) (FetchStatus, error)

	// SetResourceFetchStatus updates the blob download state.
	SetResourceFetchStatus(resourceID string, status FetchStatus) error

	// ResourceBlobPath returns the local filesystem path of a resource
	// blob.
	ResourceBlobPath(resourceID string) string

	// MasterKeyCount returns how many master keys exist locally.
	MasterKeyCount() (int, error)

	// Settings

	// Setting returns a settings value, or "" when the key is not set.
	Setting(key string) (string, error)

	// SetSetting inserts or updates a settings value.
	SetSetting(key, value string) error

	// Close closes the underlying database.
	Close() error
}
