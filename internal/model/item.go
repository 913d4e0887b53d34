package model

// Kind discriminates the item variants. The numeric values are part of the
// serialized form (the type_ property) and must never be reordered.
type Kind int

const (
	KindNote      Kind = 1
	KindFolder    Kind = 2
	KindResource  Kind = 3
	KindTag       Kind = 4
	KindNoteTag   Kind = 5
	KindRevision  Kind = 6
	KindMasterKey Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindFolder:
		return "folder"
	case KindResource:
		return "resource"
	case KindTag:
		return "tag"
	case KindNoteTag:
		return "note_tag"
	case KindRevision:
		return "revision"
	case KindMasterKey:
		return "master_key"
	}
	return "unknown"
}

// ConflictFolderID is the id of the virtual "Conflicts" folder. It has no
// row in the items table and is never uploaded; conflict copies are
// parented to it so the UI can group them.
const ConflictFolderID = "ffffffffffffffffffffffffffffffff"

// Item is the single flat representation of every syncable object. Which
// fields are meaningful depends on Kind; unused fields stay at their zero
// value and are omitted from the serialized form.
type Item struct {
	ID       string // 32-char lowercase hex
	ParentID string // Folder id; ConflictFolderID for conflict copies
	Kind     Kind
	Title    string
	Body     string // Note markdown, Resource description, Revision patch, MasterKey material

	CreatedTime     int64 // Unix milliseconds, client-assigned
	UpdatedTime     int64 // Unix milliseconds, client-assigned
	UserCreatedTime int64 // User-visible; defaults to CreatedTime
	UserUpdatedTime int64 // User-visible; defaults to UpdatedTime

	EncryptionApplied bool   // True when Body was replaced by CipherText
	CipherText        string // Encrypted payload (encryption_cipher_text)
	ShareID           string // Non-empty when the item belongs to a share

	IsConflict         bool   // Local-only, never serialized
	ConflictOriginalID string // Local-only; id of the item this conflicts with

	TodoDue       int64 // Note only
	TodoCompleted int64 // Note only

	Mime          string // Resource only
	Filename      string // Resource only
	FileExtension string // Resource only
	Size          int64  // Resource only, blob size in bytes

	NoteID string // NoteTag only
	TagID  string // NoteTag only

	RevisionItemID string // Revision only; id of the item the revision belongs to
}

// Clone returns a copy of the item.
func (i *Item) Clone() *Item {
	c := *i
	return &c
}

// MustHandleConflict reports whether the differences between a local and a
// remote version of the same note are worth a conflict copy. Changes to
// only the todo fields are taken silently from the remote side.
func MustHandleConflict(local, remote *Item) bool {
	if local.Title != remote.Title {
		return true
	}
	if local.Body != remote.Body {
		return true
	}
	if local.ParentID != remote.ParentID {
		return true
	}
	if local.EncryptionApplied != remote.EncryptionApplied {
		return true
	}
	return false
}
