package store

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

// Local test fixtures. This package cannot use testutil because testutil
// depends on it.

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu      sync.Mutex
	counter int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%032x", g.counter)
}

// newTestStore creates an in-memory store with the schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return newTestStoreWithClock(t, newStubClock())
}

func newTestStoreWithClock(t *testing.T, clock jot.Clock) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", t.TempDir(), clock, &seqIDs{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// saveNote stores a note with explicit timestamps, bypassing the clock.
func saveNote(t *testing.T, s *SQLiteStore, id string, updatedTime int64) *model.Item {
	t.Helper()

	note := &model.Item{
		ID:          id,
		Kind:        model.KindNote,
		Title:       "note " + id,
		Body:        "body",
		CreatedTime: updatedTime - 1000,
		UpdatedTime: updatedTime,
	}
	if err := s.SaveItem(note, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	return note
}

func testItemID(n int) string {
	return fmt.Sprintf("%032x", 0x1000+n)
}

func TestSQLiteStore_Item(t *testing.T) {
	t.Run("returns nil when item not found", func(t *testing.T) {
		s := newTestStore(t)

		it, err := s.Item(testItemID(1))
		if err != nil {
			t.Fatalf("Item() error = %v", err)
		}
		if it != nil {
			t.Errorf("Item() = %v, want nil", it)
		}
	})

	t.Run("round trips all fields", func(t *testing.T) {
		s := newTestStore(t)

		todo := &model.Item{
			ID:            testItemID(1),
			ParentID:      testItemID(2),
			Kind:          model.KindNote,
			Title:         "buy milk",
			Body:          "two liters",
			CreatedTime:   100,
			UpdatedTime:   200,
			TodoDue:       300,
			TodoCompleted: 400,
			ShareID:       "share-1",
		}
		if err := s.SaveItem(todo, jot.SaveOptions{}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}

		got, err := s.Item(todo.ID)
		if err != nil {
			t.Fatalf("Item() error = %v", err)
		}
		if got == nil {
			t.Fatal("Item() returned nil, want item")
		}
		if got.Title != "buy milk" || got.Body != "two liters" {
			t.Errorf("Title/Body = %q/%q", got.Title, got.Body)
		}
		if got.TodoDue != 300 || got.TodoCompleted != 400 {
			t.Errorf("TodoDue/TodoCompleted = %d/%d, want 300/400", got.TodoDue, got.TodoCompleted)
		}
		if got.ShareID != "share-1" {
			t.Errorf("ShareID = %q, want share-1", got.ShareID)
		}
	})
}

func TestSQLiteStore_SaveItem(t *testing.T) {
	t.Run("assigns id when empty", func(t *testing.T) {
		s := newTestStore(t)

		note := &model.Item{Kind: model.KindNote, Title: "untitled"}
		if err := s.SaveItem(note, jot.SaveOptions{AutoTimestamp: true}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		if note.ID == "" {
			t.Fatal("ID not assigned")
		}
		if got, _ := s.Item(note.ID); got == nil {
			t.Error("item not found under assigned id")
		}
	})

	t.Run("auto timestamp uses the store clock", func(t *testing.T) {
		clock := newStubClock()
		s := newTestStoreWithClock(t, clock)
		now := clock.Now().UnixMilli()

		note := &model.Item{Kind: model.KindNote}
		if err := s.SaveItem(note, jot.SaveOptions{AutoTimestamp: true}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		if note.CreatedTime != now || note.UpdatedTime != now {
			t.Errorf("times = %d/%d, want %d", note.CreatedTime, note.UpdatedTime, now)
		}
		if note.UserCreatedTime != now || note.UserUpdatedTime != now {
			t.Errorf("user times = %d/%d, want %d", note.UserCreatedTime, note.UserUpdatedTime, now)
		}

		// A later save keeps the creation time and bumps the update time.
		clock.advance(5 * time.Second)
		if err := s.SaveItem(note, jot.SaveOptions{AutoTimestamp: true}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		if note.CreatedTime != now {
			t.Errorf("CreatedTime = %d after update, want %d", note.CreatedTime, now)
		}
		if note.UpdatedTime != now+5000 {
			t.Errorf("UpdatedTime = %d after update, want %d", note.UpdatedTime, now+5000)
		}
	})

	t.Run("without auto timestamp keeps the given times", func(t *testing.T) {
		s := newTestStore(t)

		note := saveNote(t, s, testItemID(1), 12345)
		got, _ := s.Item(note.ID)
		if got.UpdatedTime != 12345 {
			t.Errorf("UpdatedTime = %d, want 12345", got.UpdatedTime)
		}
	})

	t.Run("updates existing row in place", func(t *testing.T) {
		s := newTestStore(t)

		note := saveNote(t, s, testItemID(1), 100)
		note.Title = "renamed"
		if err := s.SaveItem(note, jot.SaveOptions{}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}

		got, _ := s.Item(note.ID)
		if got.Title != "renamed" {
			t.Errorf("Title = %q, want renamed", got.Title)
		}
	})
}

func TestSQLiteStore_ItemsNeedingSync(t *testing.T) {
	const targetID = 1

	t.Run("returns never-synced items with zero sync time", func(t *testing.T) {
		s := newTestStore(t)
		saveNote(t, s, testItemID(1), 100)

		batch, err := s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 1 {
			t.Fatalf("len(Items) = %d, want 1", len(batch.Items))
		}
		if batch.Items[0].SyncTime != 0 {
			t.Errorf("SyncTime = %d, want 0", batch.Items[0].SyncTime)
		}
		if batch.HasMore {
			t.Error("HasMore = true, want false")
		}
	})

	t.Run("excludes items synced at their current update time", func(t *testing.T) {
		s := newTestStore(t)
		note := saveNote(t, s, testItemID(1), 100)

		if err := s.SaveSyncTime(targetID, note.ID, 100); err != nil {
			t.Fatalf("SaveSyncTime() error = %v", err)
		}
		batch, err := s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 0 {
			t.Errorf("len(Items) = %d, want 0", len(batch.Items))
		}

		// Editing the note makes it eligible again, carrying the old
		// sync time.
		note.UpdatedTime = 200
		if err := s.SaveItem(note, jot.SaveOptions{}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		batch, err = s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 1 || batch.Items[0].SyncTime != 100 {
			t.Fatalf("Items = %+v, want one entry with SyncTime 100", batch.Items)
		}
	})

	t.Run("orders by update time", func(t *testing.T) {
		s := newTestStore(t)
		saveNote(t, s, testItemID(3), 300)
		saveNote(t, s, testItemID(1), 100)
		saveNote(t, s, testItemID(2), 200)

		batch, err := s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		var times []int64
		for _, u := range batch.Items {
			times = append(times, u.Item.UpdatedTime)
		}
		if len(times) != 3 || times[0] != 100 || times[1] != 200 || times[2] != 300 {
			t.Errorf("update times = %v, want [100 200 300]", times)
		}
	})

	t.Run("reports more batches beyond the limit", func(t *testing.T) {
		s := newTestStore(t)
		for n := 1; n <= 3; n++ {
			saveNote(t, s, testItemID(n), int64(n*100))
		}

		batch, err := s.ItemsNeedingSync(targetID, 2)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 2 {
			t.Errorf("len(Items) = %d, want 2", len(batch.Items))
		}
		if !batch.HasMore {
			t.Error("HasMore = false, want true")
		}
	})

	t.Run("excludes conflict copies", func(t *testing.T) {
		s := newTestStore(t)
		conflict := &model.Item{
			ID:          testItemID(1),
			Kind:        model.KindNote,
			ParentID:    model.ConflictFolderID,
			IsConflict:  true,
			UpdatedTime: 100,
		}
		if err := s.SaveItem(conflict, jot.SaveOptions{}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}

		batch, err := s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 0 {
			t.Errorf("len(Items) = %d, want 0", len(batch.Items))
		}
	})

	t.Run("scopes sync rows to the target", func(t *testing.T) {
		s := newTestStore(t)
		note := saveNote(t, s, testItemID(1), 100)

		// Synced on target 2, never on target 1.
		if err := s.SaveSyncTime(2, note.ID, 100); err != nil {
			t.Fatalf("SaveSyncTime() error = %v", err)
		}
		batch, err := s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 1 {
			t.Errorf("len(Items) = %d, want 1", len(batch.Items))
		}
	})
}

func TestSQLiteStore_DisableItemSync(t *testing.T) {
	const targetID = 1
	s := newTestStore(t)
	note := saveNote(t, s, testItemID(1), 100)

	if err := s.DisableItemSync(note.ID, targetID, "rejected by target"); err != nil {
		t.Fatalf("DisableItemSync() error = %v", err)
	}
	batch, err := s.ItemsNeedingSync(targetID, 10)
	if err != nil {
		t.Fatalf("ItemsNeedingSync() error = %v", err)
	}
	if len(batch.Items) != 0 {
		t.Errorf("len(Items) = %d after disable, want 0", len(batch.Items))
	}

	// A successful upload replaces the sync row, clearing the flag.
	if err := s.SaveSyncTime(targetID, note.ID, 100); err != nil {
		t.Fatalf("SaveSyncTime() error = %v", err)
	}
	note.UpdatedTime = 200
	if err := s.SaveItem(note, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	batch, err = s.ItemsNeedingSync(targetID, 10)
	if err != nil {
		t.Fatalf("ItemsNeedingSync() error = %v", err)
	}
	if len(batch.Items) != 1 {
		t.Errorf("len(Items) = %d after re-enable, want 1", len(batch.Items))
	}
}

func TestSQLiteStore_SaveItemFromSync(t *testing.T) {
	const targetID = 1

	t.Run("saves item and sync row together", func(t *testing.T) {
		s := newTestStore(t)

		remote := &model.Item{
			ID:          testItemID(1),
			Kind:        model.KindNote,
			Title:       "from remote",
			CreatedTime: 100,
			UpdatedTime: 500,
		}
		if err := s.SaveItemFromSync(remote, targetID, 500); err != nil {
			t.Fatalf("SaveItemFromSync() error = %v", err)
		}

		got, err := s.Item(remote.ID)
		if err != nil {
			t.Fatalf("Item() error = %v", err)
		}
		if got == nil || got.UpdatedTime != 500 {
			t.Fatalf("Item() = %+v, want remote timestamps kept", got)
		}

		// The item must not be queued for upload back to the target.
		batch, err := s.ItemsNeedingSync(targetID, 10)
		if err != nil {
			t.Fatalf("ItemsNeedingSync() error = %v", err)
		}
		if len(batch.Items) != 0 {
			t.Errorf("len(Items) = %d, want 0", len(batch.Items))
		}

		ids, err := s.SyncedItemIDs(targetID)
		if err != nil {
			t.Fatalf("SyncedItemIDs() error = %v", err)
		}
		if len(ids) != 1 || ids[0] != remote.ID {
			t.Errorf("SyncedItemIDs() = %v, want [%s]", ids, remote.ID)
		}
	})

	t.Run("rejects item without id", func(t *testing.T) {
		s := newTestStore(t)

		err := s.SaveItemFromSync(&model.Item{Kind: model.KindNote}, targetID, 100)
		if err == nil {
			t.Error("SaveItemFromSync() error = nil, want error")
		}
	})
}

func TestSQLiteStore_DeleteItem(t *testing.T) {
	const targetID = 1

	t.Run("removes the row", func(t *testing.T) {
		s := newTestStore(t)
		note := saveNote(t, s, testItemID(1), 100)

		if err := s.DeleteItem(note.ID, jot.DeleteOptions{}); err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}
		got, err := s.Item(note.ID)
		if err != nil || got != nil {
			t.Errorf("Item() after delete = (%v, %v), want (nil, nil)", got, err)
		}
	})

	t.Run("records tracked deletions", func(t *testing.T) {
		s := newTestStore(t)
		note := saveNote(t, s, testItemID(1), 100)

		opts := jot.DeleteOptions{TrackDeleted: true, SyncTargetID: targetID}
		if err := s.DeleteItem(note.ID, opts); err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}

		deleted, err := s.DeletedItems(targetID)
		if err != nil {
			t.Fatalf("DeletedItems() error = %v", err)
		}
		if len(deleted) != 1 {
			t.Fatalf("len(DeletedItems()) = %d, want 1", len(deleted))
		}
		if deleted[0].ItemID != note.ID || deleted[0].ItemKind != model.KindNote {
			t.Errorf("DeletedItems()[0] = %+v", deleted[0])
		}
	})

	t.Run("untracked deletions leave no record", func(t *testing.T) {
		s := newTestStore(t)
		note := saveNote(t, s, testItemID(1), 100)

		if err := s.DeleteItem(note.ID, jot.DeleteOptions{}); err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}
		deleted, err := s.DeletedItems(targetID)
		if err != nil {
			t.Fatalf("DeletedItems() error = %v", err)
		}
		if len(deleted) != 0 {
			t.Errorf("len(DeletedItems()) = %d, want 0", len(deleted))
		}
	})

	t.Run("missing item is a no-op", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.DeleteItem(testItemID(9), jot.DeleteOptions{TrackDeleted: true}); err != nil {
			t.Errorf("DeleteItem() error = %v", err)
		}
	})

	t.Run("resource deletion removes blob and local state", func(t *testing.T) {
		s := newTestStore(t)

		res := &model.Item{
			ID:          testItemID(1),
			Kind:        model.KindResource,
			Title:       "photo.jpg",
			Mime:        "image/jpeg",
			UpdatedTime: 100,
		}
		if err := s.SaveItem(res, jot.SaveOptions{}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		if err := os.WriteFile(s.ResourceBlobPath(res.ID), []byte("jpeg bytes"), 0o644); err != nil {
			t.Fatalf("writing blob: %v", err)
		}
		if err := s.SetResourceFetchStatus(res.ID, jot.FetchStatusDone); err != nil {
			t.Fatalf("SetResourceFetchStatus() error = %v", err)
		}

		if err := s.DeleteItem(res.ID, jot.DeleteOptions{}); err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}
		if _, err := os.Stat(s.ResourceBlobPath(res.ID)); !os.IsNotExist(err) {
			t.Errorf("blob still exists after delete (stat err = %v)", err)
		}
		status, err := s.ResourceFetchStatus(res.ID)
		if err != nil {
			t.Fatalf("ResourceFetchStatus() error = %v", err)
		}
		if status != jot.FetchStatusIdle {
			t.Errorf("fetch status = %v after delete, want idle", status)
		}
	})
}

func TestSQLiteStore_DeletedItemQueue(t *testing.T) {
	s := newTestStore(t)
	note := saveNote(t, s, testItemID(1), 100)

	if err := s.DeleteItem(note.ID, jot.DeleteOptions{TrackDeleted: true, SyncTargetID: 1}); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}

	// Other targets see nothing.
	other, err := s.DeletedItems(2)
	if err != nil {
		t.Fatalf("DeletedItems() error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("DeletedItems(2) = %+v, want empty", other)
	}

	if err := s.RemoveDeletedItemRecord(note.ID, 1); err != nil {
		t.Fatalf("RemoveDeletedItemRecord() error = %v", err)
	}
	deleted, err := s.DeletedItems(1)
	if err != nil {
		t.Fatalf("DeletedItems() error = %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("DeletedItems(1) = %+v after removal, want empty", deleted)
	}
}

func TestSQLiteStore_SyncedItemIDs(t *testing.T) {
	const targetID = 1
	s := newTestStore(t)
	note := saveNote(t, s, testItemID(1), 100)
	disabled := saveNote(t, s, testItemID(2), 100)

	if err := s.SaveSyncTime(targetID, note.ID, 100); err != nil {
		t.Fatalf("SaveSyncTime() error = %v", err)
	}
	// Disabled rows carry sync_time 0 and do not count as synced.
	if err := s.DisableItemSync(disabled.ID, targetID, "too large"); err != nil {
		t.Fatalf("DisableItemSync() error = %v", err)
	}

	ids, err := s.SyncedItemIDs(targetID)
	if err != nil {
		t.Fatalf("SyncedItemIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != note.ID {
		t.Errorf("SyncedItemIDs() = %v, want [%s]", ids, note.ID)
	}
}

func TestSQLiteStore_PurgeOrphanedSyncItems(t *testing.T) {
	const targetID = 1
	s := newTestStore(t)
	kept := saveNote(t, s, testItemID(1), 100)
	gone := saveNote(t, s, testItemID(2), 100)

	for _, id := range []string{kept.ID, gone.ID} {
		if err := s.SaveSyncTime(targetID, id, 100); err != nil {
			t.Fatalf("SaveSyncTime() error = %v", err)
		}
	}
	// Delete the item directly, leaving its sync row orphaned.
	if err := s.DeleteItem(gone.ID, jot.DeleteOptions{}); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}

	if err := s.PurgeOrphanedSyncItems(targetID); err != nil {
		t.Fatalf("PurgeOrphanedSyncItems() error = %v", err)
	}
	ids, err := s.SyncedItemIDs(targetID)
	if err != nil {
		t.Fatalf("SyncedItemIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != kept.ID {
		t.Errorf("SyncedItemIDs() = %v, want [%s]", ids, kept.ID)
	}
}

func TestSQLiteStore_CreateConflictNote(t *testing.T) {
	s := newTestStore(t)

	original := &model.Item{
		ID:          testItemID(1),
		Kind:        model.KindNote,
		ParentID:    testItemID(5),
		Title:       "shopping",
		Body:        "local edit",
		CreatedTime: 100,
		UpdatedTime: 200,
	}
	if err := s.SaveItem(original, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}

	if err := s.CreateConflictNote(original); err != nil {
		t.Fatalf("CreateConflictNote() error = %v", err)
	}

	ids, err := s.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("len(conflict notes) = %d, want 1", len(ids))
	}

	conflict, err := s.Item(ids[0])
	if err != nil {
		t.Fatalf("Item() error = %v", err)
	}
	if conflict.ID == original.ID {
		t.Error("conflict copy reuses the original id")
	}
	if !conflict.IsConflict {
		t.Error("IsConflict = false")
	}
	if conflict.ConflictOriginalID != original.ID {
		t.Errorf("ConflictOriginalID = %q, want %q", conflict.ConflictOriginalID, original.ID)
	}
	if conflict.Title != "shopping" || conflict.Body != "local edit" {
		t.Errorf("Title/Body = %q/%q, want copy of original", conflict.Title, conflict.Body)
	}
	if conflict.CreatedTime != 100 || conflict.UpdatedTime != 200 {
		t.Errorf("times = %d/%d, want originals preserved", conflict.CreatedTime, conflict.UpdatedTime)
	}

	// The original stays where it was.
	got, _ := s.Item(original.ID)
	if got.ParentID != testItemID(5) || got.IsConflict {
		t.Errorf("original = %+v, want untouched", got)
	}
}

func TestSQLiteStore_CreateResourceConflictNote(t *testing.T) {
	newResource := func(t *testing.T, s *SQLiteStore) *model.Item {
		t.Helper()
		res := &model.Item{
			ID:          testItemID(1),
			Kind:        model.KindResource,
			Title:       "photo.jpg",
			Mime:        "image/jpeg",
			Size:        10,
			CreatedTime: 100,
			UpdatedTime: 200,
		}
		if err := s.SaveItem(res, jot.SaveOptions{}); err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		return res
	}

	findDuplicate := func(t *testing.T, s *SQLiteStore, originalID string) *model.Item {
		t.Helper()
		rows, err := s.db.Query(
			`SELECT id FROM items WHERE type = ? AND conflict_original_id = ?`,
			model.KindResource, originalID)
		if err != nil {
			t.Fatalf("querying duplicate: %v", err)
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				t.Fatalf("scanning duplicate id: %v", err)
			}
			ids = append(ids, id)
		}
		if len(ids) != 1 {
			t.Fatalf("found %d resource duplicates, want 1", len(ids))
		}
		dup, err := s.Item(ids[0])
		if err != nil {
			t.Fatalf("Item() error = %v", err)
		}
		return dup
	}

	t.Run("with local blob", func(t *testing.T) {
		s := newTestStore(t)
		res := newResource(t, s)
		if err := os.WriteFile(s.ResourceBlobPath(res.ID), []byte("jpeg bytes"), 0o644); err != nil {
			t.Fatalf("writing blob: %v", err)
		}

		if err := s.CreateResourceConflictNote(res); err != nil {
			t.Fatalf("CreateResourceConflictNote() error = %v", err)
		}

		dup := findDuplicate(t, s, res.ID)
		if !dup.IsConflict {
			t.Error("duplicate IsConflict = false")
		}
		if dup.Mime != "image/jpeg" || dup.Size != 10 {
			t.Errorf("duplicate Mime/Size = %q/%d, want copy of original", dup.Mime, dup.Size)
		}

		data, err := os.ReadFile(s.ResourceBlobPath(dup.ID))
		if err != nil {
			t.Fatalf("reading duplicate blob: %v", err)
		}
		if string(data) != "jpeg bytes" {
			t.Errorf("duplicate blob = %q, want %q", data, "jpeg bytes")
		}
		status, err := s.ResourceFetchStatus(dup.ID)
		if err != nil {
			t.Fatalf("ResourceFetchStatus() error = %v", err)
		}
		if status != jot.FetchStatusDone {
			t.Errorf("duplicate fetch status = %v, want done", status)
		}

		// A note in the conflicts folder links the preserved copy.
		ids, err := s.NoteIDsInFolder(model.ConflictFolderID)
		if err != nil {
			t.Fatalf("NoteIDsInFolder() error = %v", err)
		}
		if len(ids) != 1 {
			t.Fatalf("len(conflict notes) = %d, want 1", len(ids))
		}
		note, _ := s.Item(ids[0])
		if !strings.Contains(note.Body, dup.ID) {
			t.Errorf("conflict note body %q does not link duplicate %s", note.Body, dup.ID)
		}
	})

	t.Run("without local blob", func(t *testing.T) {
		s := newTestStore(t)
		res := newResource(t, s)

		if err := s.CreateResourceConflictNote(res); err != nil {
			t.Fatalf("CreateResourceConflictNote() error = %v", err)
		}

		dup := findDuplicate(t, s, res.ID)
		if _, err := os.Stat(s.ResourceBlobPath(dup.ID)); !os.IsNotExist(err) {
			t.Errorf("duplicate blob exists without a source (stat err = %v)", err)
		}
		status, err := s.ResourceFetchStatus(dup.ID)
		if err != nil {
			t.Fatalf("ResourceFetchStatus() error = %v", err)
		}
		if status != jot.FetchStatusIdle {
			t.Errorf("duplicate fetch status = %v, want idle", status)
		}
	})
}

func TestSQLiteStore_MarkNotesAsConflict(t *testing.T) {
	s := newTestStore(t)
	a := saveNote(t, s, testItemID(1), 100)
	b := saveNote(t, s, testItemID(2), 100)
	untouched := saveNote(t, s, testItemID(3), 100)

	if err := s.MarkNotesAsConflict([]string{a.ID, b.ID}); err != nil {
		t.Fatalf("MarkNotesAsConflict() error = %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, _ := s.Item(id)
		if !got.IsConflict || got.ParentID != model.ConflictFolderID {
			t.Errorf("item %s = %+v, want conflict in conflicts folder", id, got)
		}
	}
	got, _ := s.Item(untouched.ID)
	if got.IsConflict {
		t.Errorf("item %s marked as conflict, want untouched", untouched.ID)
	}

	if err := s.MarkNotesAsConflict(nil); err != nil {
		t.Errorf("MarkNotesAsConflict(nil) error = %v", err)
	}
}

func TestSQLiteStore_NoteIDsInFolder(t *testing.T) {
	s := newTestStore(t)
	folderID := testItemID(10)

	folder := &model.Item{ID: folderID, Kind: model.KindFolder, Title: "work", UpdatedTime: 100}
	if err := s.SaveItem(folder, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	inFolder := &model.Item{ID: testItemID(1), Kind: model.KindNote, ParentID: folderID, UpdatedTime: 100}
	if err := s.SaveItem(inFolder, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	subFolder := &model.Item{ID: testItemID(2), Kind: model.KindFolder, ParentID: folderID, UpdatedTime: 100}
	if err := s.SaveItem(subFolder, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	saveNote(t, s, testItemID(3), 100) // elsewhere

	ids, err := s.NoteIDsInFolder(folderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != inFolder.ID {
		t.Errorf("NoteIDsInFolder() = %v, want [%s]", ids, inFolder.ID)
	}
}

func TestSQLiteStore_ResourceFetchStatus(t *testing.T) {
	s := newTestStore(t)
	id := testItemID(1)

	status, err := s.ResourceFetchStatus(id)
	if err != nil {
		t.Fatalf("ResourceFetchStatus() error = %v", err)
	}
	if status != jot.FetchStatusIdle {
		t.Errorf("default status = %v, want idle", status)
	}

	for _, want := range []jot.FetchStatus{jot.FetchStatusStarted, jot.FetchStatusDone, jot.FetchStatusError} {
		if err := s.SetResourceFetchStatus(id, want); err != nil {
			t.Fatalf("SetResourceFetchStatus(%v) error = %v", want, err)
		}
		status, err := s.ResourceFetchStatus(id)
		if err != nil {
			t.Fatalf("ResourceFetchStatus() error = %v", err)
		}
		if status != want {
			t.Errorf("status = %v, want %v", status, want)
		}
	}
}

func TestSQLiteStore_Settings(t *testing.T) {
	s := newTestStore(t)

	value, err := s.Setting("missing")
	if err != nil {
		t.Fatalf("Setting() error = %v", err)
	}
	if value != "" {
		t.Errorf("Setting(missing) = %q, want empty", value)
	}

	if err := s.SetSetting("clientId", "abc"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := s.SetSetting("clientId", "def"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	value, err = s.Setting("clientId")
	if err != nil {
		t.Fatalf("Setting() error = %v", err)
	}
	if value != "def" {
		t.Errorf("Setting(clientId) = %q, want def", value)
	}
}

func TestSQLiteStore_MasterKeyCount(t *testing.T) {
	s := newTestStore(t)

	count, err := s.MasterKeyCount()
	if err != nil {
		t.Fatalf("MasterKeyCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("MasterKeyCount() = %d, want 0", count)
	}

	mk := &model.Item{ID: testItemID(1), Kind: model.KindMasterKey, Body: "key material", UpdatedTime: 100}
	if err := s.SaveItem(mk, jot.SaveOptions{}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	count, err = s.MasterKeyCount()
	if err != nil {
		t.Fatalf("MasterKeyCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("MasterKeyCount() = %d, want 1", count)
	}
}
