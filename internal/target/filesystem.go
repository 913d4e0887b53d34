package target

import (
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

// FilesystemTarget stores items as files under a root directory, one
// file per item plus a resource directory for blobs. It runs against any
// billy filesystem: production chroots into a local directory (typically
// one mirrored by a third-party file sync service), tests use an
// in-memory one. Directory mtimes are only as precise as the backing
// filesystem, so it does not claim accurate timestamps and the engine
// always downloads changed files.
type FilesystemTarget struct {
	id    int
	fs    billy.Filesystem
	clock jot.Clock
	requestLog

	mu      sync.Mutex
	tempDir string
}

// NewFilesystemTarget runs the target on the given billy filesystem.
func NewFilesystemTarget(id int, fs billy.Filesystem, clock jot.Clock) *FilesystemTarget {
	if clock == nil {
		clock = jot.RealClock{}
	}
	return &FilesystemTarget{id: id, fs: fs, clock: clock}
}

// NewLocalFilesystemTarget chroots into root on the host filesystem.
func NewLocalFilesystemTarget(id int, root string, clock jot.Clock) *FilesystemTarget {
	return NewFilesystemTarget(id, osfs.New(root), clock)
}

func (t *FilesystemTarget) Initialize() error {
	t.record(t.clock, "initialize", "")
	if err := t.fs.MkdirAll(model.ResourceDirName, 0o755); err != nil {
		return fmt.Errorf("creating resource directory: %w", err)
	}
	return nil
}

func (t *FilesystemTarget) SetTempDirName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempDir = name
}

func (t *FilesystemTarget) tempDirName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempDir
}

func (t *FilesystemTarget) Stat(p string) (*jot.RemoteItem, error) {
	t.record(t.clock, "stat", p)
	fi, err := t.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stating %s: %w", p, err)
	}
	if fi.IsDir() {
		return nil, nil
	}
	return t.remoteItem(p, fi), nil
}

func (t *FilesystemTarget) Get(p string) ([]byte, error) {
	t.record(t.clock, "get", p)
	data, err := util.ReadFile(t.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (t *FilesystemTarget) Put(p string, content []byte, opts *jot.PutOptions) error {
	t.record(t.clock, "put", p)
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
	return t.writeFile(p, content)
}

// writeFile lands content through a temp file and a rename, so readers
// of a shared folder never observe a half-written item.
func (t *FilesystemTarget) writeFile(p string, content []byte) error {
	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := t.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	tempDir := t.tempDirName()
	if tempDir == "" {
		// No temp directory configured yet, e.g. during target
		// bootstrap. Write in place.
		if err := util.WriteFile(t.fs, p, content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
		return nil
	}

	if err := t.fs.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	f, err := t.fs.TempFile(tempDir, "put-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := f.Name()
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := t.fs.Rename(tmpName, p); err != nil {
		return fmt.Errorf("moving %s into place: %w", tmpName, err)
	}
	return nil
}

func (t *FilesystemTarget) MultiPut([]jot.BatchItem) (map[string]error, error) {
	return nil, fmt.Errorf("filesystem target does not support batch uploads")
}

func (t *FilesystemTarget) Delete(p string) error {
	t.record(t.clock, "delete", p)
	if err := t.fs.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return jot.NewError(jot.CodeFileNotFound, fmt.Sprintf("remote file missing: %s", p))
		}
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

// List returns the files directly under dir; subdirectories are
// skipped. A missing directory lists as empty.
func (t *FilesystemTarget) List(dir string) ([]jot.RemoteItem, error) {
	t.record(t.clock, "list", dir)
	lsDir := dir
	if lsDir == "" {
		lsDir = "."
	}
	entries, err := t.fs.ReadDir(lsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var out []jot.RemoteItem
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		p := fi.Name()
		if dir != "" {
			p = path.Join(dir, fi.Name())
		}
		out = append(out, *t.remoteItem(p, fi))
	}
	return out, nil
}

func (t *FilesystemTarget) Delta(dir string, opts jot.DeltaOptions) (*jot.DeltaPage, error) {
	t.record(t.clock, "delta", dir)
	return BasicDelta(func() ([]jot.RemoteItem, error) {
		return t.List(dir)
	}, opts)
}

func (t *FilesystemTarget) remoteItem(p string, fi os.FileInfo) *jot.RemoteItem {
	r := &jot.RemoteItem{Path: p, UpdatedTime: fi.ModTime().UnixMilli()}
	if model.IsItemPath(p) {
		r.ID = model.ItemIDFromPath(p)
	}
	return r
}

func (t *FilesystemTarget) SyncTargetID() int { return t.id }

func (t *FilesystemTarget) SupportsAccurateTimestamp() bool { return false }

func (t *FilesystemTarget) SupportsMultiPut() bool { return false }

var _ jot.Target = (*FilesystemTarget)(nil)
