package target

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

func serializeNote(t *testing.T, id string, updatedTime int64, body string) []byte {
	t.Helper()
	content, err := model.Serialize(&model.Item{
		ID:          id,
		Kind:        model.KindNote,
		Title:       "a note",
		Body:        body,
		CreatedTime: updatedTime - 1000,
		UpdatedTime: updatedTime,
	})
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return []byte(content)
}

func TestMemoryTarget_PutGet(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	if err := tgt.Put("info.json", []byte(`{"version":1}`), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := tgt.Get("info.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"version":1}` {
		t.Errorf("Get() = %q, want %q", data, `{"version":1}`)
	}

	missing, err := tgt.Get("nope.json")
	if err != nil {
		t.Fatalf("Get() on missing path error = %v", err)
	}
	if missing != nil {
		t.Errorf("Get() on missing path = %q, want nil", missing)
	}
}

func TestMemoryTarget_PutFromSourcePath(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	blob := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(blob, []byte("resource bytes"), 0o644); err != nil {
		t.Fatalf("writing blob: %v", err)
	}

	if err := tgt.Put("Resources/r1", nil, &jot.PutOptions{SourcePath: blob}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	data, err := tgt.Get("Resources/r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "resource bytes" {
		t.Errorf("Get() = %q, want %q", data, "resource bytes")
	}

	err = tgt.Put("Resources/r2", nil, &jot.PutOptions{SourcePath: filepath.Join(t.TempDir(), "gone")})
	if !jot.HasCode(err, jot.CodeFileNotFound) {
		t.Errorf("Put() with missing source error = %v, want fileNotFound", err)
	}
}

func TestMemoryTarget_StatReportsItemTimestamp(t *testing.T) {
	clock := newStubClock()
	tgt := NewMemoryTarget(1, clock)

	id := testID(7)
	path := model.SystemPathForID(id)
	// The body carries a decoy property line; the item timestamp must
	// come from the real property block at the bottom.
	content := serializeNote(t, id, 1700000000123, "body text\nupdated_time: not a real prop")

	if err := tgt.Put(path, content, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	r, err := tgt.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if r == nil {
		t.Fatal("Stat() = nil for existing path")
	}
	if r.ID != id {
		t.Errorf("ID = %q, want %q", r.ID, id)
	}
	if r.ItemUpdatedTime != 1700000000123 {
		t.Errorf("ItemUpdatedTime = %d, want 1700000000123", r.ItemUpdatedTime)
	}
	if want := clock.Now().UnixMilli(); r.UpdatedTime != want {
		t.Errorf("UpdatedTime = %d, want %d", r.UpdatedTime, want)
	}

	missing, err := tgt.Stat("absent.md")
	if err != nil {
		t.Fatalf("Stat() on missing path error = %v", err)
	}
	if missing != nil {
		t.Errorf("Stat() on missing path = %+v, want nil", missing)
	}
}

func TestMemoryTarget_StatNonItemPath(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	if err := tgt.Put("locks/1_desktop_abc.json", []byte("{}"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	r, err := tgt.Stat("locks/1_desktop_abc.json")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if r.ID != "" {
		t.Errorf("ID = %q for non-item path, want empty", r.ID)
	}
	if r.ItemUpdatedTime != 0 {
		t.Errorf("ItemUpdatedTime = %d for non-item path, want 0", r.ItemUpdatedTime)
	}
}

func TestMemoryTarget_Delete(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	if err := tgt.Put("a.txt", []byte("x"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := tgt.Delete("a.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	data, err := tgt.Get("a.txt")
	if err != nil || data != nil {
		t.Errorf("Get() after delete = (%q, %v), want (nil, nil)", data, err)
	}

	err = tgt.Delete("a.txt")
	if !jot.HasCode(err, jot.CodeFileNotFound) {
		t.Errorf("Delete() on missing path error = %v, want fileNotFound", err)
	}
}

func TestMemoryTarget_ListExcludesSubdirectories(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	files := []string{"a.md", "info.json", "Resources/r1", "locks/1_cli_x.json"}
	for _, p := range files {
		if err := tgt.Put(p, []byte("x"), nil); err != nil {
			t.Fatalf("Put(%s) error = %v", p, err)
		}
	}

	root, err := tgt.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	rootPaths := make(map[string]bool)
	for _, r := range root {
		rootPaths[r.Path] = true
	}
	if len(rootPaths) != 2 || !rootPaths["a.md"] || !rootPaths["info.json"] {
		t.Errorf("List(\"\") = %v, want {a.md, info.json}", rootPaths)
	}

	res, err := tgt.List("Resources")
	if err != nil {
		t.Fatalf("List(Resources) error = %v", err)
	}
	if len(res) != 1 || res[0].Path != "Resources/r1" {
		t.Errorf("List(Resources) = %+v, want [Resources/r1]", res)
	}

	empty, err := tgt.List("no-such-dir")
	if err != nil {
		t.Fatalf("List() on missing dir error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List() on missing dir = %+v, want empty", empty)
	}
}

func TestMemoryTarget_MultiPut(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	if !tgt.SupportsMultiPut() {
		t.Fatal("SupportsMultiPut() = false")
	}

	results, err := tgt.MultiPut([]jot.BatchItem{
		{Path: "a.md", Content: []byte("first")},
		{Path: "b.md", Content: []byte("second")},
	})
	if err != nil {
		t.Fatalf("MultiPut() error = %v", err)
	}
	for _, p := range []string{"a.md", "b.md"} {
		result, ok := results[p]
		if !ok {
			t.Errorf("results missing %s", p)
		}
		if result != nil {
			t.Errorf("results[%s] = %v, want nil", p, result)
		}
	}

	data, err := tgt.Get("b.md")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Get() = %q, want %q", data, "second")
	}
}

func TestMemoryTarget_DeltaRoundTrip(t *testing.T) {
	clock := newStubClock()
	tgt := NewMemoryTarget(1, clock)

	a := model.SystemPathForID(testID(1))
	b := model.SystemPathForID(testID(2))
	if err := tgt.Put(a, serializeNote(t, testID(1), 1000, "a"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	clock.advance(10 * time.Millisecond)
	if err := tgt.Put(b, serializeNote(t, testID(2), 2000, "b"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	first, err := tgt.Delta("", jot.DeltaOptions{})
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if len(first.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(first.Items))
	}

	clock.advance(10 * time.Millisecond)
	c := model.SystemPathForID(testID(3))
	if err := tgt.Put(c, serializeNote(t, testID(3), 3000, "c"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second, err := tgt.Delta("", jot.DeltaOptions{Context: first.Context})
	if err != nil {
		t.Fatalf("Delta() error = %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].Path != c {
		t.Fatalf("Items = %+v, want just %s", second.Items, c)
	}
	if second.Items[0].ItemUpdatedTime != 3000 {
		t.Errorf("ItemUpdatedTime = %d, want 3000", second.Items[0].ItemUpdatedTime)
	}
}

func TestMemoryTarget_LastRequests(t *testing.T) {
	tgt := NewMemoryTarget(1, newStubClock())

	if err := tgt.Put("a.md", []byte("x"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := tgt.Get("a.md"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	reqs := tgt.LastRequests()
	if len(reqs) != 2 {
		t.Fatalf("len(LastRequests()) = %d, want 2", len(reqs))
	}
	if reqs[0].Method != "put" || reqs[1].Method != "get" {
		t.Errorf("methods = [%s, %s], want [put, get]", reqs[0].Method, reqs[1].Method)
	}

	// The ring keeps only the most recent calls.
	for i := 0; i < maxLoggedRequests+20; i++ {
		if _, err := tgt.Get("a.md"); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if got := len(tgt.LastRequests()); got != maxLoggedRequests {
		t.Errorf("len(LastRequests()) = %d, want %d", got, maxLoggedRequests)
	}
}
