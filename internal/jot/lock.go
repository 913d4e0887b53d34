package jot

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// LockKind discriminates the two coordination lock flavors.
type LockKind string

const (
	// LockSync is the shared lock every syncing client holds for the
	// duration of a run.
	LockSync LockKind = "sync"
	// LockExclusive is held by a single client while it changes the
	// target layout. No sync may run in parallel.
	LockExclusive LockKind = "exclusive"
)

// AppType identifies the kind of client holding a lock.
type AppType string

const (
	AppTypeDesktop AppType = "desktop"
	AppTypeMobile  AppType = "mobile"
	AppTypeCLI     AppType = "cli"
)

// Lock is one client's claim on the target, stored as a JSON file under
// the lock directory. Liveness comes from the file's stat mtime, not
// from the body: a refresh simply rewrites the file.
type Lock struct {
	Kind        LockKind `json:"kind"`
	AppType     AppType  `json:"appType"`
	ClientID    string   `json:"clientId"`
	UpdatedTime int64    `json:"updatedTime"`
}

// LockHandler manages coordination locks on the sync target. It talks to
// the raw target, never through the fail-fast wrapper, because it is the
// component that decides whether the lock is still held.
type LockHandler struct {
	target Target
	clock  Clock
	logger Logger

	// TTL is how long a lock file counts as alive after its last write.
	TTL time.Duration
	// RefreshInterval is the auto-refresh period, normally TTL/2.
	RefreshInterval time.Duration

	mu          sync.Mutex
	refreshDone chan struct{}
}

func NewLockHandler(target Target, clock Clock, logger Logger) *LockHandler {
	ttl := 3 * time.Minute
	return &LockHandler{
		target:          target,
		clock:           clock,
		logger:          logger,
		TTL:             ttl,
		RefreshInterval: ttl / 2,
	}
}

func lockFilePath(lock Lock) string {
	return fmt.Sprintf("%s/%s_%s_%s.json", lockDirName, lock.Kind, lock.AppType, lock.ClientID)
}

func parseLockFilename(name string) (Lock, bool) {
	name, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return Lock{}, false
	}
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return Lock{}, false
	}
	kind := LockKind(parts[0])
	if kind != LockSync && kind != LockExclusive {
		return Lock{}, false
	}
	return Lock{Kind: kind, AppType: AppType(parts[1]), ClientID: parts[2]}, true
}

// activeLocks lists the locks currently alive on the target. Files that
// do not parse as locks (like the .keep placeholder) are skipped.
func (h *LockHandler) activeLocks() ([]Lock, error) {
	remotes, err := h.target.List(lockDirName)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}
	cutoff := NowMillis(h.clock) - h.TTL.Milliseconds()
	var locks []Lock
	for _, r := range remotes {
		lock, ok := parseLockFilename(path.Base(r.Path))
		if !ok {
			continue
		}
		if r.UpdatedTime < cutoff {
			continue
		}
		lock.UpdatedTime = r.UpdatedTime
		locks = append(locks, lock)
	}
	return locks, nil
}

// HasActiveLock reports whether a live lock matching the given fields
// exists. Zero values act as wildcards.
func (h *LockHandler) HasActiveLock(kind LockKind, appType AppType, clientID string) (bool, error) {
	locks, err := h.activeLocks()
	if err != nil {
		return false, err
	}
	for _, l := range locks {
		if kind != "" && l.Kind != kind {
			continue
		}
		if appType != "" && l.AppType != appType {
			continue
		}
		if clientID != "" && l.ClientID != clientID {
			continue
		}
		return true, nil
	}
	return false, nil
}

// AcquireLock writes the lock file and double-checks that no competing
// lock appeared while it was being written.
func (h *LockHandler) AcquireLock(kind LockKind, appType AppType, clientID string) (Lock, error) {
	lock := Lock{Kind: kind, AppType: appType, ClientID: clientID}
	switch kind {
	case LockSync:
		return h.acquireSyncLock(lock)
	case LockExclusive:
		return h.acquireExclusiveLock(lock)
	}
	return Lock{}, fmt.Errorf("acquiring lock: unknown kind %q", kind)
}

func (h *LockHandler) acquireSyncLock(lock Lock) (Lock, error) {
	if err := h.checkNoExclusiveLock(lock); err != nil {
		return Lock{}, err
	}
	written, err := h.writeLock(lock)
	if err != nil {
		return Lock{}, err
	}
	// an exclusive lock may have been acquired between the check and the
	// write; back off if so
	if err := h.checkNoExclusiveLock(lock); err != nil {
		_ = h.ReleaseLock(written)
		return Lock{}, err
	}
	return written, nil
}

func (h *LockHandler) acquireExclusiveLock(lock Lock) (Lock, error) {
	if err := h.checkNoCompetingLocks(lock); err != nil {
		return Lock{}, err
	}
	written, err := h.writeLock(lock)
	if err != nil {
		return Lock{}, err
	}
	if err := h.checkNoCompetingLocks(lock); err != nil {
		_ = h.ReleaseLock(written)
		return Lock{}, err
	}
	return written, nil
}

func (h *LockHandler) checkNoExclusiveLock(own Lock) error {
	locks, err := h.activeLocks()
	if err != nil {
		return err
	}
	for _, l := range locks {
		if l.Kind == LockExclusive && !sameClient(l, own) {
			return NewError(CodeHasExclusiveLock, fmt.Sprintf("sync target is locked for exclusive use by client %s (%s)", l.ClientID, l.AppType))
		}
	}
	return nil
}

func (h *LockHandler) checkNoCompetingLocks(own Lock) error {
	locks, err := h.activeLocks()
	if err != nil {
		return err
	}
	for _, l := range locks {
		if sameClient(l, own) {
			continue
		}
		switch l.Kind {
		case LockExclusive:
			return NewError(CodeHasExclusiveLock, fmt.Sprintf("sync target is locked for exclusive use by client %s (%s)", l.ClientID, l.AppType))
		case LockSync:
			return NewError(CodeHasSyncLock, fmt.Sprintf("client %s (%s) is currently syncing", l.ClientID, l.AppType))
		}
	}
	return nil
}

func sameClient(a, b Lock) bool {
	return a.AppType == b.AppType && a.ClientID == b.ClientID
}

func (h *LockHandler) writeLock(lock Lock) (Lock, error) {
	lock.UpdatedTime = NowMillis(h.clock)
	data, err := json.Marshal(lock)
	if err != nil {
		return Lock{}, fmt.Errorf("encoding lock: %w", err)
	}
	if err := h.target.Put(lockFilePath(lock), data, nil); err != nil {
		return Lock{}, fmt.Errorf("writing lock file: %w", err)
	}
	return lock, nil
}

// ReleaseLock removes the lock file. Releasing a lock that is already
// gone is not an error.
func (h *LockHandler) ReleaseLock(lock Lock) error {
	if err := h.target.Delete(lockFilePath(lock)); err != nil && !HasCode(err, CodeFileNotFound) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// RefreshLock re-acquires the lock, pushing its expiry forward.
func (h *LockHandler) RefreshLock(lock Lock) (Lock, error) {
	return h.AcquireLock(lock.Kind, lock.AppType, lock.ClientID)
}

// StartAutoLockRefresh refreshes the lock on a timer until stopped. The
// first refresh failure is passed to onError and the timer stops: by
// then the run is being torn down anyway.
func (h *LockHandler) StartAutoLockRefresh(lock Lock, onError func(error)) {
	h.mu.Lock()
	if h.refreshDone != nil {
		close(h.refreshDone)
	}
	done := make(chan struct{})
	h.refreshDone = done
	h.mu.Unlock()

	ticker := time.NewTicker(h.RefreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := h.RefreshLock(lock); err != nil {
					h.logger.Warn("could not refresh sync lock", "error", err)
					onError(err)
					return
				}
				h.logger.Debug("refreshed sync lock", "clientId", lock.ClientID)
			}
		}
	}()
}

// StopAutoLockRefresh stops the refresh timer started by
// StartAutoLockRefresh.
func (h *LockHandler) StopAutoLockRefresh() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refreshDone != nil {
		close(h.refreshDone)
		h.refreshDone = nil
	}
}

// LockErrorStatus inspects the target to classify a suspected lock loss:
// either another client took an exclusive lock, or our own lock expired
// and vanished.
func (h *LockHandler) LockErrorStatus(own Lock) (Code, error) {
	locks, err := h.activeLocks()
	if err != nil {
		return "", err
	}
	holdingOwn := false
	for _, l := range locks {
		if l.Kind == LockExclusive && !sameClient(l, own) {
			return CodeHasExclusiveLock, nil
		}
		if l.Kind == own.Kind && sameClient(l, own) {
			holdingOwn = true
		}
	}
	if !holdingOwn {
		return CodeSyncLockGone, nil
	}
	return "", nil
}
