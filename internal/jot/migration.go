package jot

import (
	"encoding/json"
	"fmt"
)

// Target layout paths. Everything under the sync metadata directory is
// invisible to delta walks.
const (
	lockDirName  = ".sync/locks"
	tempDirName  = ".sync/temp"
	infoFilePath = ".sync/info.json"
)

// SyncTargetVersion is the target layout version this client reads and
// writes.
const SyncTargetVersion = 2

// SyncTargetInfo is the content of the target's info file.
type SyncTargetInfo struct {
	Version int `json:"version"`
}

// MigrationHandler checks and upgrades the layout of a sync target.
type MigrationHandler struct {
	target      Target
	lockHandler *LockHandler
	logger      Logger
	appType     AppType
	clientID    string
}

func NewMigrationHandler(target Target, lockHandler *LockHandler, logger Logger, appType AppType, clientID string) *MigrationHandler {
	return &MigrationHandler{
		target:      target,
		lockHandler: lockHandler,
		logger:      logger,
		appType:     appType,
		clientID:    clientID,
	}
}

// TargetInfo reads the target's info file. An absent file means version
// 0: a target that was never initialized.
func (h *MigrationHandler) TargetInfo() (*SyncTargetInfo, error) {
	data, err := h.target.Get(infoFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading target info: %w", err)
	}
	if data == nil {
		return &SyncTargetInfo{Version: 0}, nil
	}
	var info SyncTargetInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing target info: %w", err)
	}
	return &info, nil
}

// CheckCanSync verifies the target layout is one this client can work
// with. Uninitialized targets pass: the synchronizer bootstraps them
// before the first run.
func (h *MigrationHandler) CheckCanSync() (*SyncTargetInfo, error) {
	info, err := h.TargetInfo()
	if err != nil {
		return nil, err
	}
	if info.Version != 0 && info.Version != SyncTargetVersion {
		return info, NewError(CodeOutdatedSyncTarget,
			fmt.Sprintf("sync target version is %d but this client supports version %d", info.Version, SyncTargetVersion))
	}
	return info, nil
}

// Upgrade brings the target layout up to the supported version, holding
// the exclusive lock for the whole chain.
func (h *MigrationHandler) Upgrade() error {
	lock, err := h.lockHandler.AcquireLock(LockExclusive, h.appType, h.clientID)
	if err != nil {
		return fmt.Errorf("acquiring exclusive lock: %w", err)
	}
	defer h.lockHandler.ReleaseLock(lock)

	info, err := h.TargetInfo()
	if err != nil {
		return err
	}
	if info.Version > SyncTargetVersion {
		return NewError(CodeOutdatedSyncTarget,
			fmt.Sprintf("cannot downgrade sync target from version %d to %d", info.Version, SyncTargetVersion))
	}
	for version := info.Version + 1; version <= SyncTargetVersion; version++ {
		h.logger.Info("upgrading sync target", "version", version)
		if err := h.applyMigration(version); err != nil {
			return fmt.Errorf("upgrading sync target to version %d: %w", version, err)
		}
		if err := h.writeInfo(&SyncTargetInfo{Version: version}); err != nil {
			return err
		}
	}
	return nil
}

func (h *MigrationHandler) applyMigration(version int) error {
	switch version {
	case 1:
		// base layout: items at the root, resources in their directory
		return h.target.Initialize()
	case 2:
		if err := h.target.Put(lockDirName+"/.keep", []byte{}, nil); err != nil {
			return err
		}
		return h.target.Put(tempDirName+"/.keep", []byte{}, nil)
	}
	return fmt.Errorf("no migration defined for version %d", version)
}

func (h *MigrationHandler) writeInfo(info *SyncTargetInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding target info: %w", err)
	}
	if err := h.target.Put(infoFilePath, data, nil); err != nil {
		return fmt.Errorf("writing target info: %w", err)
	}
	return nil
}
