package target

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

// maxLoggedRequests bounds the per-target request ring kept for
// post-mortem logging.
const maxLoggedRequests = 100

// requestLog records the most recent target calls. Shared by all
// drivers.
type requestLog struct {
	mu   sync.Mutex
	list []jot.Request
}

func (l *requestLog) record(clock jot.Clock, method, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, jot.Request{Time: clock.Now(), Method: method, Path: path})
	if len(l.list) > maxLoggedRequests {
		l.list = l.list[len(l.list)-maxLoggedRequests:]
	}
}

// LastRequests returns a copy of the recent request ring.
func (l *requestLog) LastRequests() []jot.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]jot.Request(nil), l.list...)
}

type memoryFile struct {
	content         []byte
	updatedTime     int64
	itemUpdatedTime int64
}

// MemoryTarget keeps the whole sync target in a map. It backs the
// "memory" target type and most tests. Because the stored content is
// inspected for the item timestamp, it reports accurate timestamps and
// lets the engine skip downloads.
type MemoryTarget struct {
	id    int
	clock jot.Clock
	requestLog

	mu      sync.RWMutex
	files   map[string]*memoryFile
	tempDir string
}

func NewMemoryTarget(id int, clock jot.Clock) *MemoryTarget {
	if clock == nil {
		clock = jot.RealClock{}
	}
	return &MemoryTarget{
		id:    id,
		clock: clock,
		files: make(map[string]*memoryFile),
	}
}

func (t *MemoryTarget) Initialize() error {
	t.record(t.clock, "initialize", "")
	return nil
}

func (t *MemoryTarget) SetTempDirName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempDir = name
}

func (t *MemoryTarget) Stat(path string) (*jot.RemoteItem, error) {
	t.record(t.clock, "stat", path)
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, ok := t.files[path]
	if !ok {
		return nil, nil
	}
	return t.remoteItem(path, f), nil
}

func (t *MemoryTarget) Get(path string) ([]byte, error) {
	t.record(t.clock, "get", path)
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, ok := t.files[path]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), f.content...), nil
}

func (t *MemoryTarget) Put(path string, content []byte, opts *jot.PutOptions) error {
	t.record(t.clock, "put", path)
	if opts != nil && opts.SourcePath != "" {
		data, err := os.ReadFile(opts.SourcePath)
		if err != nil {
			if os.IsNotExist(err) {
				return jot.NewError(jot.CodeFileNotFound, fmt.Sprintf("source file missing: %s", opts.SourcePath))
			}
			return fmt.Errorf("reading source file: %w", err)
		}
		content = data
	}
	t.put(path, content)
	return nil
}

func (t *MemoryTarget) put(path string, content []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path] = &memoryFile{
		content:         append([]byte(nil), content...),
		updatedTime:     jot.NowMillis(t.clock),
		itemUpdatedTime: parseItemUpdatedTime(content),
	}
}

func (t *MemoryTarget) MultiPut(items []jot.BatchItem) (map[string]error, error) {
	t.record(t.clock, "multiPut", fmt.Sprintf("(%d items)", len(items)))
	results := make(map[string]error, len(items))
	for _, it := range items {
		t.put(it.Path, it.Content)
		results[it.Path] = nil
	}
	return results, nil
}

func (t *MemoryTarget) Delete(path string) error {
	t.record(t.clock, "delete", path)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.files[path]; !ok {
		return jot.NewError(jot.CodeFileNotFound, fmt.Sprintf("remote file missing: %s", path))
	}
	delete(t.files, path)
	return nil
}

// List returns the files directly under dir. Files in subdirectories
// are not included; a missing directory lists as empty.
func (t *MemoryTarget) List(dir string) ([]jot.RemoteItem, error) {
	t.record(t.clock, "list", dir)
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	var out []jot.RemoteItem
	for p, f := range t.files {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, *t.remoteItem(p, f))
	}
	return out, nil
}

func (t *MemoryTarget) Delta(dir string, opts jot.DeltaOptions) (*jot.DeltaPage, error) {
	t.record(t.clock, "delta", dir)
	return BasicDelta(func() ([]jot.RemoteItem, error) {
		return t.List(dir)
	}, opts)
}

func (t *MemoryTarget) remoteItem(path string, f *memoryFile) *jot.RemoteItem {
	r := &jot.RemoteItem{
		Path:        path,
		UpdatedTime: f.updatedTime,
	}
	if model.IsItemPath(path) {
		r.ID = model.ItemIDFromPath(path)
		r.ItemUpdatedTime = f.itemUpdatedTime
	}
	return r
}

func (t *MemoryTarget) SyncTargetID() int { return t.id }

func (t *MemoryTarget) SupportsAccurateTimestamp() bool { return true }

func (t *MemoryTarget) SupportsMultiPut() bool { return true }

// parseItemUpdatedTime pulls the updated_time property out of serialized
// item content, the way a server-side driver would index it. Properties
// sit at the bottom of the file, so the scan runs bottom-up and stops at
// the first line that is not a property.
func parseItemUpdatedTime(content []byte) int64 {
	lines := strings.Split(string(content), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		key, value, ok := strings.Cut(lines[i], ": ")
		if !ok {
			break
		}
		if key != "updated_time" {
			continue
		}
		ms, err := model.ParseTime(value)
		if err != nil {
			return 0
		}
		return ms
	}
	return 0
}

var _ jot.Target = (*MemoryTarget)(nil)
