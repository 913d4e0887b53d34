package jot_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"jot-go/internal/jot"
	"jot-go/internal/model"
	"jot-go/internal/testutil"
)

func TestConflict_NoteEditedOnBothClients(t *testing.T) {
	clock := testutil.FixedClock()
	tgt := testutil.NewTestTarget(clock)
	a := newClient(t, "client-a", tgt, clock, jot.SynchronizerConfig{})
	b := newClient(t, "client-b", tgt, clock, jot.SynchronizerConfig{})

	note := a.createNote("plan", "original", "")
	a.syncNow()
	clock.Advance(time.Second)
	b.syncNow()

	clock.Advance(time.Second)
	onA := a.item(note.ID)
	onA.Body = "edited on a"
	a.updateItem(onA)
	a.syncNow()

	clock.Advance(time.Second)
	onB := b.item(note.ID)
	onB.Body = "edited on b"
	b.updateItem(onB)
	b.syncNow()

	// The remote version wins; the losing edit survives as a conflict
	// copy.
	got := b.item(note.ID)
	if got.Body != "edited on a" {
		t.Errorf("Body = %q, want the remote edit", got.Body)
	}
	rep := b.syncer.Report()
	if rep.NoteConflict != 1 {
		t.Errorf("NoteConflict = %d, want 1", rep.NoteConflict)
	}
	if rep.CreateLocal != 1 {
		t.Errorf("CreateLocal = %d, want 1 for the conflict copy", rep.CreateLocal)
	}

	ids, err := b.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("conflict notes = %d, want 1", len(ids))
	}
	conflict := b.item(ids[0])
	if conflict.Body != "edited on b" {
		t.Errorf("conflict Body = %q, want the losing edit", conflict.Body)
	}
	if !conflict.IsConflict || conflict.ConflictOriginalID != note.ID {
		t.Errorf("conflict copy = %+v, want IsConflict with the original id", conflict)
	}
	if conflict.ID == note.ID {
		t.Error("conflict copy reuses the original id")
	}

	// Conflict copies never sync back to the other client.
	clock.Advance(time.Second)
	a.syncNow()
	ids, err = a.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("conflict notes on the other client = %d, want 0", len(ids))
	}
}

func TestConflict_IdenticalEditsSkipConflictCopy(t *testing.T) {
	clock := testutil.FixedClock()
	tgt := testutil.NewTestTarget(clock)
	a := newClient(t, "client-a", tgt, clock, jot.SynchronizerConfig{})
	b := newClient(t, "client-b", tgt, clock, jot.SynchronizerConfig{})

	note := a.createNote("plan", "original", "")
	a.syncNow()
	clock.Advance(time.Second)
	b.syncNow()

	// Both clients end up with the same content, only at different times.
	clock.Advance(time.Second)
	onA := a.item(note.ID)
	onA.Body = "same text"
	a.updateItem(onA)
	a.syncNow()

	clock.Advance(time.Second)
	onB := b.item(note.ID)
	onB.Body = "same text"
	b.updateItem(onB)
	b.syncNow()

	rep := b.syncer.Report()
	if rep.NoteConflict != 1 {
		t.Errorf("NoteConflict = %d, want 1", rep.NoteConflict)
	}
	if rep.CreateLocal != 0 {
		t.Errorf("CreateLocal = %d, want no conflict copy for identical content", rep.CreateLocal)
	}
	ids, err := b.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("conflict notes = %d, want 0", len(ids))
	}
	if got := b.item(note.ID); got.Body != "same text" {
		t.Errorf("Body = %q, want %q", got.Body, "same text")
	}
}

func TestConflict_RemoteDeletedWhileLocallyEdited(t *testing.T) {
	clock := testutil.FixedClock()
	tgt := testutil.NewTestTarget(clock)
	a := newClient(t, "client-a", tgt, clock, jot.SynchronizerConfig{})
	b := newClient(t, "client-b", tgt, clock, jot.SynchronizerConfig{})

	note := a.createNote("doomed", "original", "")
	a.syncNow()
	clock.Advance(time.Second)
	b.syncNow()

	clock.Advance(time.Second)
	if err := a.store.DeleteItem(note.ID, jot.DeleteOptions{TrackDeleted: true, SyncTargetID: tgt.SyncTargetID()}); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	a.syncNow()

	clock.Advance(time.Second)
	onB := b.item(note.ID)
	onB.Body = "edited after the remote delete"
	b.updateItem(onB)
	b.syncNow()

	// The deletion wins, but the edit is kept as a conflict copy.
	if got := b.item(note.ID); got != nil {
		t.Errorf("item still exists = %+v, want it deleted", got)
	}
	ids, err := b.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("conflict notes = %d, want 1", len(ids))
	}
	if conflict := b.item(ids[0]); conflict.Body != "edited after the remote delete" {
		t.Errorf("conflict Body = %q, want the local edit", conflict.Body)
	}
	rep := b.syncer.Report()
	if rep.NoteConflict != 1 || rep.CreateLocal != 1 {
		t.Errorf("NoteConflict = %d, CreateLocal = %d, want 1 and 1", rep.NoteConflict, rep.CreateLocal)
	}
	if rep.DeleteLocal != 1 {
		t.Errorf("DeleteLocal = %d, want 1 for the dropped local copy", rep.DeleteLocal)
	}
}

func TestConflict_FolderRenameRemoteWins(t *testing.T) {
	clock := testutil.FixedClock()
	tgt := testutil.NewTestTarget(clock)
	a := newClient(t, "client-a", tgt, clock, jot.SynchronizerConfig{})
	b := newClient(t, "client-b", tgt, clock, jot.SynchronizerConfig{})

	folder := a.createFolder("projects")
	a.syncNow()
	clock.Advance(time.Second)
	b.syncNow()

	clock.Advance(time.Second)
	onA := a.item(folder.ID)
	onA.Title = "projects (active)"
	a.updateItem(onA)
	a.syncNow()

	clock.Advance(time.Second)
	onB := b.item(folder.ID)
	onB.Title = "projects (archive)"
	b.updateItem(onB)
	b.syncNow()

	// Folders have no conflict representation: the remote rename simply
	// wins.
	if got := b.item(folder.ID); got.Title != "projects (active)" {
		t.Errorf("Title = %q, want the remote rename", got.Title)
	}
	rep := b.syncer.Report()
	if rep.ItemConflict != 1 {
		t.Errorf("ItemConflict = %d, want 1", rep.ItemConflict)
	}
	if rep.CreateLocal != 0 {
		t.Errorf("CreateLocal = %d, want no conflict copy", rep.CreateLocal)
	}
	ids, err := b.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("conflict notes = %d, want 0", len(ids))
	}
}

func TestConflict_ResourceChangedOnBothClients(t *testing.T) {
	clock := testutil.FixedClock()
	tgt := testutil.NewTestTarget(clock)
	a := newClient(t, "client-a", tgt, clock, jot.SynchronizerConfig{})
	b := newClient(t, "client-b", tgt, clock, jot.SynchronizerConfig{})

	blob := []byte("scanned page bytes")
	res := &model.Item{Kind: model.KindResource, Title: "scan.png", Mime: "image/png", Size: int64(len(blob))}
	if err := a.store.SaveItem(res, jot.SaveOptions{AutoTimestamp: true}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	if err := os.WriteFile(a.store.ResourceBlobPath(res.ID), blob, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := a.store.SetResourceFetchStatus(res.ID, jot.FetchStatusDone); err != nil {
		t.Fatalf("SetResourceFetchStatus() error = %v", err)
	}
	a.syncNow()
	clock.Advance(time.Second)
	b.syncNow()

	clock.Advance(time.Second)
	onA := a.item(res.ID)
	onA.Title = "scan (retouched).png"
	a.updateItem(onA)
	a.syncNow()

	clock.Advance(time.Second)
	onB := b.item(res.ID)
	onB.Title = "scan (cropped).png"
	b.updateItem(onB)
	b.syncNow()

	// The remote metadata wins and the blob is marked for re-download.
	if got := b.item(res.ID); got.Title != "scan (retouched).png" {
		t.Errorf("Title = %q, want the remote edit", got.Title)
	}
	status, err := b.store.ResourceFetchStatus(res.ID)
	if err != nil {
		t.Fatalf("ResourceFetchStatus() error = %v", err)
	}
	if status != jot.FetchStatusIdle {
		t.Errorf("fetch status = %v, want idle", status)
	}
	rep := b.syncer.Report()
	if rep.ResourceConflict != 1 || rep.CreateLocal != 1 {
		t.Errorf("ResourceConflict = %d, CreateLocal = %d, want 1 and 1", rep.ResourceConflict, rep.CreateLocal)
	}

	// The losing version is duplicated and linked from a conflict note.
	ids, err := b.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("conflict notes = %d, want 1", len(ids))
	}
	link := b.item(ids[0])
	if link.Title != "Attachment conflict: scan (cropped).png" {
		t.Errorf("link Title = %q", link.Title)
	}
	if link.ConflictOriginalID != res.ID {
		t.Errorf("link ConflictOriginalID = %q, want %q", link.ConflictOriginalID, res.ID)
	}

	idx := strings.LastIndex(link.Body, ":/")
	if idx < 0 {
		t.Fatalf("link Body = %q, want a resource link", link.Body)
	}
	dupID := strings.TrimSuffix(link.Body[idx+2:], ")")
	dup := b.item(dupID)
	if dup == nil {
		t.Fatal("duplicated resource missing")
	}
	if dup.Kind != model.KindResource || !dup.IsConflict {
		t.Errorf("duplicate = %+v, want a conflict resource", dup)
	}
	if dup.Title != "scan (cropped).png" {
		t.Errorf("duplicate Title = %q, want the losing edit", dup.Title)
	}
	if dup.ConflictOriginalID != res.ID {
		t.Errorf("duplicate ConflictOriginalID = %q, want %q", dup.ConflictOriginalID, res.ID)
	}
}

func TestConflict_ResourceRemoteDeletedWhileLocallyEdited(t *testing.T) {
	clock := testutil.FixedClock()
	tgt := testutil.NewTestTarget(clock)
	a := newClient(t, "client-a", tgt, clock, jot.SynchronizerConfig{})
	b := newClient(t, "client-b", tgt, clock, jot.SynchronizerConfig{})

	blob := []byte("scanned page bytes")
	res := &model.Item{Kind: model.KindResource, Title: "scan.png", Mime: "image/png", Size: int64(len(blob))}
	if err := a.store.SaveItem(res, jot.SaveOptions{AutoTimestamp: true}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	if err := os.WriteFile(a.store.ResourceBlobPath(res.ID), blob, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := a.store.SetResourceFetchStatus(res.ID, jot.FetchStatusDone); err != nil {
		t.Fatalf("SetResourceFetchStatus() error = %v", err)
	}
	a.syncNow()
	clock.Advance(time.Second)
	b.syncNow()

	clock.Advance(time.Second)
	if err := a.store.DeleteItem(res.ID, jot.DeleteOptions{TrackDeleted: true, SyncTargetID: tgt.SyncTargetID()}); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	a.syncNow()

	clock.Advance(time.Second)
	onB := b.item(res.ID)
	onB.Title = "scan (renamed).png"
	b.updateItem(onB)
	b.syncNow()

	// The deletion wins, but the local version survives as a conflict
	// copy.
	if got := b.item(res.ID); got != nil {
		t.Errorf("resource still exists = %+v, want it deleted", got)
	}
	ids, err := b.store.NoteIDsInFolder(model.ConflictFolderID)
	if err != nil {
		t.Fatalf("NoteIDsInFolder() error = %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("conflict notes = %d, want 1", len(ids))
	}
	if link := b.item(ids[0]); link.ConflictOriginalID != res.ID {
		t.Errorf("link ConflictOriginalID = %q, want %q", link.ConflictOriginalID, res.ID)
	}
	rep := b.syncer.Report()
	if rep.ResourceConflict != 1 || rep.CreateLocal != 1 {
		t.Errorf("ResourceConflict = %d, CreateLocal = %d, want 1 and 1", rep.ResourceConflict, rep.CreateLocal)
	}
	if rep.DeleteLocal != 1 {
		t.Errorf("DeleteLocal = %d, want 1 for the dropped local copy", rep.DeleteLocal)
	}
}
