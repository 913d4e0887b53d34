package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"jot-go/internal/jot"
	"jot-go/internal/model"
	"jot-go/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements the jot.Store interface using SQLite. Resource
// blobs live as plain files named after the resource id under
// resourceDir; everything else is rows.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	resourceDir string
	clock       jot.Clock
	idgen       jot.IDGenerator
}

// NewSQLiteStore opens the item database at path. path can be a file
// path or ":memory:" for an in-memory database. clock and idgen may be
// nil, in which case the wall clock and random ids are used. The schema
// is not migrated here; call MigrateUp once at startup.
func NewSQLiteStore(path, resourceDir string, clock jot.Clock, idgen jot.IDGenerator) (*SQLiteStore, error) {
	if clock == nil {
		clock = jot.RealClock{}
	}
	if idgen == nil {
		idgen = jot.UUIDGenerator{}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:          db,
		path:        path,
		resourceDir: resourceDir,
		clock:       clock,
		idgen:       idgen,
	}, nil
}

// OpenConnection opens and configures a SQLite database connection with
// appropriate PRAGMAs. Exported for tools and tests that need a properly
// configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward
	// compatibility).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

const itemColumns = "id, parent_id, type, title, body, created_time, updated_time, user_created_time, user_updated_time, encryption_applied, encryption_cipher_text, share_id, is_conflict, conflict_original_id, todo_due, todo_completed, mime, filename, file_extension, size, note_id, tag_id, item_id"

const upsertItemSQL = `
INSERT INTO items (` + itemColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	parent_id = excluded.parent_id,
	type = excluded.type,
	title = excluded.title,
	body = excluded.body,
	created_time = excluded.created_time,
	updated_time = excluded.updated_time,
	user_created_time = excluded.user_created_time,
	user_updated_time = excluded.user_updated_time,
	encryption_applied = excluded.encryption_applied,
	encryption_cipher_text = excluded.encryption_cipher_text,
	share_id = excluded.share_id,
	is_conflict = excluded.is_conflict,
	conflict_original_id = excluded.conflict_original_id,
	todo_due = excluded.todo_due,
	todo_completed = excluded.todo_completed,
	mime = excluded.mime,
	filename = excluded.filename,
	file_extension = excluded.file_extension,
	size = excluded.size,
	note_id = excluded.note_id,
	tag_id = excluded.tag_id,
	item_id = excluded.item_id`

func prefixedItemColumns(alias string) string {
	cols := strings.Split(itemColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func itemScanDest(it *model.Item) []any {
	return []any{
		&it.ID, &it.ParentID, &it.Kind, &it.Title, &it.Body,
		&it.CreatedTime, &it.UpdatedTime, &it.UserCreatedTime, &it.UserUpdatedTime,
		&it.EncryptionApplied, &it.CipherText, &it.ShareID,
		&it.IsConflict, &it.ConflictOriginalID,
		&it.TodoDue, &it.TodoCompleted,
		&it.Mime, &it.Filename, &it.FileExtension, &it.Size,
		&it.NoteID, &it.TagID, &it.RevisionItemID,
	}
}

func itemArgs(it *model.Item) []any {
	return []any{
		it.ID, it.ParentID, it.Kind, it.Title, it.Body,
		it.CreatedTime, it.UpdatedTime, it.UserCreatedTime, it.UserUpdatedTime,
		it.EncryptionApplied, it.CipherText, it.ShareID,
		it.IsConflict, it.ConflictOriginalID,
		it.TodoDue, it.TodoCompleted,
		it.Mime, it.Filename, it.FileExtension, it.Size,
		it.NoteID, it.TagID, it.RevisionItemID,
	}
}

// Item operations

func (s *SQLiteStore) Item(id string) (*model.Item, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	var it model.Item
	if err := row.Scan(itemScanDest(&it)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding item by id: %w", err)
	}
	return &it, nil
}

func (s *SQLiteStore) SaveItem(item *model.Item, opts jot.SaveOptions) error {
	if item.ID == "" {
		item.ID = s.idgen.New()
	}
	if opts.AutoTimestamp {
		now := jot.NowMillis(s.clock)
		if item.CreatedTime == 0 {
			item.CreatedTime = now
		}
		item.UpdatedTime = now
	}
	if item.UserCreatedTime == 0 {
		item.UserCreatedTime = item.CreatedTime
	}
	if item.UserUpdatedTime == 0 {
		item.UserUpdatedTime = item.UpdatedTime
	}

	if _, err := s.db.Exec(upsertItemSQL, itemArgs(item)...); err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteItem(id string, opts jot.DeleteOptions) error {
	ctx := context.Background()

	item, err := s.Item(id)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if opts.TrackDeleted {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deleted_items (item_id, item_type, sync_target_id, deleted_time) VALUES (?, ?, ?, ?)`,
			id, item.Kind, opts.SyncTargetID, jot.NowMillis(s.clock))
		if err != nil {
			return fmt.Errorf("recording deletion: %w", err)
		}
	}
	if item.Kind == model.KindResource {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resource_local_states WHERE resource_id = ?`, id); err != nil {
			return fmt.Errorf("deleting resource state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	if item.Kind == model.KindResource {
		if err := os.Remove(s.ResourceBlobPath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting resource blob: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ItemsNeedingSync(targetID int, limit int) (*jot.SyncBatch, error) {
	query := `
		SELECT ` + prefixedItemColumns("i") + `, IFNULL(si.sync_time, 0)
		FROM items i
		LEFT JOIN sync_items si ON si.item_id = i.id AND si.sync_target_id = ?
		WHERE i.is_conflict = 0
		  AND IFNULL(si.sync_disabled, 0) = 0
		  AND (si.id IS NULL OR i.updated_time > si.sync_time)
		ORDER BY i.updated_time
		LIMIT ?`

	// One extra row tells us whether another batch follows.
	rows, err := s.db.Query(query, targetID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("listing items needing sync: %w", err)
	}
	defer rows.Close()

	var batch jot.SyncBatch
	for rows.Next() {
		var it model.Item
		var syncTime int64
		dest := append(itemScanDest(&it), &syncTime)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning item needing sync: %w", err)
		}
		batch.Items = append(batch.Items, jot.UnsyncedItem{Item: &it, SyncTime: syncTime})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items needing sync: %w", err)
	}

	if len(batch.Items) > limit {
		batch.Items = batch.Items[:limit]
		batch.HasMore = true
	}
	return &batch, nil
}

func (s *SQLiteStore) NoteIDsInFolder(folderID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM items WHERE type = ? AND parent_id = ?`, model.KindNote, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing notes in folder: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning note id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Conflict handling

// CreateConflictNote duplicates a note into the conflicts folder under a
// new id, preserving its timestamps and remembering where it came from.
// The copy is flagged is_conflict so it never syncs back.
func (s *SQLiteStore) CreateConflictNote(note *model.Item) error {
	conflict := note.Clone()
	conflict.ID = s.idgen.New()
	conflict.ParentID = model.ConflictFolderID
	conflict.IsConflict = true
	conflict.ConflictOriginalID = note.ID
	if err := s.SaveItem(conflict, jot.SaveOptions{}); err != nil {
		return fmt.Errorf("saving conflict note: %w", err)
	}
	return nil
}

// CreateResourceConflictNote preserves the local version of a conflicted
// resource. Binary contents cannot be merged, so the resource row and
// its blob are duplicated under a new id and a note in the conflicts
// folder links the copy.
func (s *SQLiteStore) CreateResourceConflictNote(resource *model.Item) error {
	dup := resource.Clone()
	dup.ID = s.idgen.New()
	dup.IsConflict = true
	dup.ConflictOriginalID = resource.ID
	if err := s.SaveItem(dup, jot.SaveOptions{}); err != nil {
		return fmt.Errorf("duplicating conflicted resource: %w", err)
	}
	copied, err := s.copyResourceBlob(resource.ID, dup.ID)
	if err != nil {
		return err
	}
	if copied {
		if err := s.SetResourceFetchStatus(dup.ID, jot.FetchStatusDone); err != nil {
			return err
		}
	}

	now := jot.NowMillis(s.clock)
	note := &model.Item{
		ID:                 s.idgen.New(),
		Kind:               model.KindNote,
		ParentID:           model.ConflictFolderID,
		Title:              fmt.Sprintf("Attachment conflict: %s", resource.Title),
		Body:               fmt.Sprintf("This attachment was changed both locally and remotely. The local version is kept here:\n\n[%s](:/%s)", resource.Title, dup.ID),
		IsConflict:         true,
		ConflictOriginalID: resource.ID,
		CreatedTime:        now,
		UpdatedTime:        now,
	}
	if err := s.SaveItem(note, jot.SaveOptions{}); err != nil {
		return fmt.Errorf("saving resource conflict note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) copyResourceBlob(fromID, toID string) (bool, error) {
	src, err := os.Open(s.ResourceBlobPath(fromID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil // no local blob to preserve
		}
		return false, fmt.Errorf("opening resource blob: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(s.ResourceBlobPath(toID))
	if err != nil {
		return false, fmt.Errorf("creating resource blob copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return false, fmt.Errorf("copying resource blob: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkNotesAsConflict(noteIDs []string) error {
	if len(noteIDs) == 0 {
		return nil
	}
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range noteIDs {
		_, err := tx.ExecContext(ctx,
			`UPDATE items SET is_conflict = 1, parent_id = ? WHERE id = ?`,
			model.ConflictFolderID, id)
		if err != nil {
			return fmt.Errorf("marking note %s as conflict: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Sync bookkeeping

// SaveSyncTime replaces the sync row for the item. Replacing instead of
// updating clears a sync_disabled flag, so a successful upload
// re-enables the item.
func (s *SQLiteStore) SaveSyncTime(targetID int, itemID string, syncTime int64) error {
	return s.saveSyncRow(s.db, targetID, itemID, syncTime)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) saveSyncRow(db execer, targetID int, itemID string, syncTime int64) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx,
		`DELETE FROM sync_items WHERE sync_target_id = ? AND item_id = ?`, targetID, itemID); err != nil {
		return fmt.Errorf("clearing sync row: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sync_items (sync_target_id, item_id, sync_time) VALUES (?, ?, ?)`,
		targetID, itemID, syncTime); err != nil {
		return fmt.Errorf("saving sync row: %w", err)
	}
	return nil
}

// SaveItemFromSync writes an item arriving from the target and its sync
// row in one transaction. Timestamps are taken from the item as-is; the
// remote content is authoritative.
func (s *SQLiteStore) SaveItemFromSync(item *model.Item, targetID int, syncTime int64) error {
	ctx := context.Background()
	if item.ID == "" {
		return fmt.Errorf("cannot save remote item without an id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertItemSQL, itemArgs(item)...); err != nil {
		return fmt.Errorf("saving remote item: %w", err)
	}
	if err := s.saveSyncRow(tx, targetID, item.ID, syncTime); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SyncedItemIDs(targetID int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT item_id FROM sync_items WHERE sync_target_id = ? AND sync_time > 0`, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing synced item ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning synced item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) DeletedItems(targetID int) ([]jot.DeletedItemRow, error) {
	rows, err := s.db.Query(
		`SELECT item_id, item_type, sync_target_id FROM deleted_items WHERE sync_target_id = ? ORDER BY id`, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing deleted items: %w", err)
	}
	defer rows.Close()

	var out []jot.DeletedItemRow
	for rows.Next() {
		var r jot.DeletedItemRow
		if err := rows.Scan(&r.ItemID, &r.ItemKind, &r.SyncTargetID); err != nil {
			return nil, fmt.Errorf("scanning deleted item: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemoveDeletedItemRecord(itemID string, targetID int) error {
	_, err := s.db.Exec(
		`DELETE FROM deleted_items WHERE item_id = ? AND sync_target_id = ?`, itemID, targetID)
	if err != nil {
		return fmt.Errorf("removing deleted item record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeOrphanedSyncItems(targetID int) error {
	_, err := s.db.Exec(
		`DELETE FROM sync_items WHERE sync_target_id = ? AND item_id NOT IN (SELECT id FROM items)`, targetID)
	if err != nil {
		return fmt.Errorf("purging orphaned sync rows: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DisableItemSync(itemID string, targetID int, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_items (sync_target_id, item_id, sync_time, sync_disabled, sync_disabled_reason)
		VALUES (?, ?, 0, 1, ?)
		ON CONFLICT (sync_target_id, item_id) DO UPDATE SET
			sync_disabled = 1,
			sync_disabled_reason = excluded.sync_disabled_reason`,
		targetID, itemID, reason)
	if err != nil {
		return fmt.Errorf("disabling sync for item: %w", err)
	}
	return nil
}

// Resource state

func (s *SQLiteStore) ResourceFetchStatus(resourceID string) (jot.FetchStatus, error) {
	row := s.db.QueryRow(
		`SELECT fetch_status FROM resource_local_states WHERE resource_id = ?`, resourceID)
	var status jot.FetchStatus
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jot.FetchStatusIdle, nil
		}
		return jot.FetchStatusIdle, fmt.Errorf("reading resource fetch status: %w", err)
	}
	return status, nil
}

func (s *SQLiteStore) SetResourceFetchStatus(resourceID string, status jot.FetchStatus) error {
	_, err := s.db.Exec(`
		INSERT INTO resource_local_states (resource_id, fetch_status)
		VALUES (?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET fetch_status = excluded.fetch_status`,
		resourceID, status)
	if err != nil {
		return fmt.Errorf("setting resource fetch status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResourceBlobPath(resourceID string) string {
	return filepath.Join(s.resourceDir, resourceID)
}

func (s *SQLiteStore) MasterKeyCount() (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM items WHERE type = ?`, model.KindMasterKey)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting master keys: %w", err)
	}
	return count, nil
}

// Settings

func (s *SQLiteStore) Setting(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading setting: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("writing setting: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrateUp brings the database schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteStore implements the jot.Store interface
var _ jot.Store = (*SQLiteStore)(nil)
