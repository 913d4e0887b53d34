package jot

import (
	"time"

	"jot-go/internal/model"
)

// RemoteItem describes one entry on a sync target, as returned by Stat,
// List and Delta.
type RemoteItem struct {
	ID   string // item id for `{id}.md` paths, "" otherwise
	Path string // slash-separated, relative to the sync root
	Kind model.Kind

	// UpdatedTime is the target's own modification time in Unix
	// milliseconds. It is wall-clock and may drift from the client times.
	UpdatedTime int64

	// ItemUpdatedTime echoes the client-assigned updated_time of the
	// stored item. Only set when the target supports accurate timestamps.
	ItemUpdatedTime int64

	IsDeleted bool // delta only: the path disappeared from the target
}

// PutOptions carries the optional parameters of a Put.
type PutOptions struct {
	// SourcePath streams the local file at this path instead of content.
	// Used for resource blobs, which never go through memory whole.
	SourcePath string
	ShareID    string
}

// BatchItem is one entry of a MultiPut call.
type BatchItem struct {
	Path    string
	Content []byte
}

// DeltaOptions parameterizes a Delta call.
type DeltaOptions struct {
	// Context is the continuation from the previous page, nil for the
	// first call of a new walk.
	Context *DeltaContext

	// AllItemIDs returns the ids of every item this client has uploaded
	// to the target. Targets without native change tracking diff their
	// listing against it to detect deletions.
	AllItemIDs func() ([]string, error)

	// WipeOutFailSafe aborts the walk when it would delete most of the
	// known items, which usually means the target was wiped by accident.
	WipeOutFailSafe bool

	Logger Logger
}

// DeltaPage is one page of remote changes.
type DeltaPage struct {
	Items   []RemoteItem
	Context *DeltaContext
	HasMore bool
}

// DeltaContext is the continuation state of a paged delta walk. The
// listing cache is carried between pages of one walk and stripped by
// Clean before the context is persisted.
type DeltaContext struct {
	Timestamp             int64    `json:"timestamp"`
	FilesAtTimestamp      []string `json:"filesAtTimestamp"`
	DeletedItemsProcessed bool     `json:"deletedItemsProcessed"`

	StatsCache []RemoteItem `json:"-"`
}

// Clean returns a copy safe for persistence, with the listing cache
// stripped.
func (c *DeltaContext) Clean() *DeltaContext {
	if c == nil {
		return nil
	}
	clean := *c
	clean.FilesAtTimestamp = append([]string(nil), c.FilesAtTimestamp...)
	clean.StatsCache = nil
	return &clean
}

// Request records one target API call for diagnostics. Targets keep a
// small ring of them so lock losses and fail-safe aborts can be debugged
// after the fact.
type Request struct {
	Time   time.Time
	Method string
	Path   string
}

// Target is the file-level API a sync backend implements. Paths are
// slash-separated and relative to the sync root. Stat and Get report a
// missing path as (nil, nil); Delete reports it as a fileNotFound coded
// error.
type Target interface {
	// Initialize creates whatever base layout the backend needs before
	// first use. It must be idempotent.
	Initialize() error

	// SetTempDirName tells the target which directory to treat as
	// scratch space, excluded from listings and deltas.
	SetTempDirName(name string)

	// Stat returns metadata for one path, or (nil, nil) when absent.
	Stat(path string) (*RemoteItem, error)

	// Get returns the content at path, or (nil, nil) when absent.
	Get(path string) ([]byte, error)

	// Put writes content to path, creating parent directories as needed.
	// When opts.SourcePath is set the local file is streamed instead of
	// content.
	Put(path string, content []byte, opts *PutOptions) error

	// MultiPut uploads several small items in one request and returns the
	// per-path outcome. Only called when SupportsMultiPut is true.
	MultiPut(items []BatchItem) (map[string]error, error)

	// Delete removes path, returning a fileNotFound coded error when it
	// does not exist.
	Delete(path string) error

	// List returns the entries directly under path. A missing directory
	// lists as empty, not as an error.
	List(path string) ([]RemoteItem, error)

	// Delta returns one page of changes since the context, including
	// deletions. path is the sync root, "" for the whole target.
	Delta(path string, opts DeltaOptions) (*DeltaPage, error)

	// SyncTargetID identifies the backend type for sync bookkeeping rows.
	SyncTargetID() int

	// SupportsAccurateTimestamp reports whether ItemUpdatedTime in
	// listings exactly echoes the client-written updated_time.
	SupportsAccurateTimestamp() bool

	// SupportsMultiPut reports whether MultiPut does anything useful.
	SupportsMultiPut() bool

	// LastRequests returns the most recent API calls, oldest first.
	LastRequests() []Request
}
