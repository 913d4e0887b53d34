package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"jot-go/internal/config"
	"jot-go/internal/encryption"
	"jot-go/internal/jot"
	"jot-go/internal/store"
	"jot-go/internal/target"
)

// JotApp is the application layer between the CLI and the sync engine.
// It constructs all collaborators from config, exposes the high-level
// operations the commands need, and manages the store and log lifecycle
// on Close.
type JotApp struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	target    jot.Target
	encryptor jot.Encryptor
	syncer    *jot.Synchronizer
	clientID  string
	logger    *slog.Logger
	logCloser io.Closer
}

// NewJotApp creates a fully wired JotApp from the given config. The
// caller must call Close when done.
func NewJotApp(cfg *config.Config) (*JotApp, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logCloser, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	clock := jot.RealClock{}
	idgen := jot.UUIDGenerator{}

	st, err := store.NewStoreFromConfig(cfg.Database, filepath.Join(cfg.BaseDir, "resources"), clock, idgen)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("opening item store: %w", err)
	}
	if err := st.MigrateUp(); err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("migrating item store: %w", err)
	}

	clientID, err := ensureClientID(st, idgen)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, err
	}

	tc, err := cfg.ActiveTarget()
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, err
	}
	tgt, err := target.NewTargetFromConfig(*tc, clock)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating sync target: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption, st)
	if err != nil {
		st.Close()
		logCloser.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	engineLog := &slogAdapter{l: logger}
	appType := appTypeFromConfig(cfg.AppType)
	syncer := jot.NewSynchronizer(st, tgt, &eventLogger{l: logger}, engineLog, clock, jot.SynchronizerConfig{
		AppType:                appType,
		ClientID:               clientID,
		MaxResourceSize:        cfg.Sync.MaxResourceSize,
		DisableWipeOutFailSafe: cfg.Sync.DisableWipeOutFailSafe,
	})
	syncer.SetEncryptor(enc)

	return &JotApp{
		cfg:       cfg,
		store:     st,
		target:    tgt,
		encryptor: enc,
		syncer:    syncer,
		clientID:  clientID,
		logger:    logger,
		logCloser: logCloser,
	}, nil
}

// ensureClientID returns this profile's client id, generating and
// persisting one on first use.
func ensureClientID(st jot.Store, idgen jot.IDGenerator) (string, error) {
	id, err := st.Setting(jot.SettingClientID)
	if err != nil {
		return "", fmt.Errorf("reading client id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = idgen.New()
	if err := st.SetSetting(jot.SettingClientID, id); err != nil {
		return "", fmt.Errorf("saving client id: %w", err)
	}
	return id, nil
}

func appTypeFromConfig(s string) jot.AppType {
	switch s {
	case "desktop":
		return jot.AppTypeDesktop
	case "mobile":
		return jot.AppTypeMobile
	default:
		return jot.AppTypeCLI
	}
}

// ClientID returns the persistent id identifying this profile on sync
// targets.
func (a *JotApp) ClientID() string { return a.clientID }

// syncContextKey is the settings key the sync continuation is stored
// under, one per target.
func (a *JotApp) syncContextKey() string {
	return fmt.Sprintf("sync.%d.context", a.target.SyncTargetID())
}

func (a *JotApp) loadSyncContext() *jot.RunContext {
	raw, err := a.store.Setting(a.syncContextKey())
	if err != nil {
		a.logger.Warn("reading sync context", "error", err)
		return nil
	}
	if raw == "" {
		return nil
	}
	var rc jot.RunContext
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		a.logger.Warn("discarding unreadable sync context", "error", err)
		return nil
	}
	return &rc
}

func (a *JotApp) saveSyncContext(rc *jot.RunContext) error {
	data, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encoding sync context: %w", err)
	}
	return a.store.SetSetting(a.syncContextKey(), string(data))
}

// Sync runs one full sync against the configured target, resuming from
// the last persisted continuation. Per-run problems are collected in the
// returned report; the error is reserved for failing to run at all.
func (a *JotApp) Sync(onProgress func(jot.Report)) (jot.Report, error) {
	rc, err := a.syncer.Start(jot.StartOptions{
		Context:     a.loadSyncContext(),
		OnProgress:  onProgress,
		SaveContext: a.saveSyncContext,
	})
	report := a.syncer.Report()
	if err != nil {
		return report, err
	}
	if rc != nil {
		if err := a.saveSyncContext(rc); err != nil {
			a.logger.Warn("persisting sync context", "error", err)
		}
	}
	return report, nil
}

// CancelSync asks a running sync to stop and waits until it has.
func (a *JotApp) CancelSync() { a.syncer.Cancel() }

// TargetStatus describes the remote layout as seen by the status
// command.
type TargetStatus struct {
	Version          int
	SupportedVersion int
	UpgradeRequired  bool
	SyncLocked       bool
	ExclusiveLocked  bool
}

// TargetStatus inspects the configured target without modifying it.
func (a *JotApp) TargetStatus() (*TargetStatus, error) {
	info, err := a.syncer.MigrationHandler().TargetInfo()
	if err != nil {
		return nil, err
	}
	locks := a.syncer.LockHandler()
	syncLocked, err := locks.HasActiveLock(jot.LockSync, "", "")
	if err != nil {
		return nil, err
	}
	exclusiveLocked, err := locks.HasActiveLock(jot.LockExclusive, "", "")
	if err != nil {
		return nil, err
	}
	return &TargetStatus{
		Version:          info.Version,
		SupportedVersion: jot.SyncTargetVersion,
		UpgradeRequired:  info.Version != 0 && info.Version < jot.SyncTargetVersion,
		SyncLocked:       syncLocked,
		ExclusiveLocked:  exclusiveLocked,
	}, nil
}

// UpgradeTarget brings the target layout up to the supported version,
// initializing a fresh target along the way. It takes the exclusive lock,
// so it fails while other clients are syncing.
func (a *JotApp) UpgradeTarget() error {
	return a.syncer.MigrationHandler().Upgrade()
}

// E2EEStatus reports the end-to-end encryption state of this client.
type E2EEStatus struct {
	Enabled     bool
	ActiveKeyID string
	MasterKeys  int
}

func (a *JotApp) E2EEStatus() (*E2EEStatus, error) {
	keyID, err := a.store.Setting(encryption.SettingActiveKeyID)
	if err != nil {
		return nil, fmt.Errorf("reading active master key id: %w", err)
	}
	count, err := a.store.MasterKeyCount()
	if err != nil {
		return nil, fmt.Errorf("counting master keys: %w", err)
	}
	return &E2EEStatus{
		Enabled:     a.encryptor.Enabled(),
		ActiveKeyID: keyID,
		MasterKeys:  count,
	}, nil
}

// EnableE2EE generates a master key protected by the passphrase, saves
// it as a sync item, and makes it the active key. The key reaches other
// clients through the next sync; they enable encryption when it arrives.
func (a *JotApp) EnableE2EE(passphrase string) (string, error) {
	if a.cfg.Encryption.Type == "none" {
		return "", fmt.Errorf("encryption is disabled in the config, set encryption.type to %q", "age")
	}
	if a.encryptor.Enabled() {
		return "", fmt.Errorf("encryption is already enabled")
	}

	mk, err := encryption.GenerateMasterKey(passphrase)
	if err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	if err := a.store.SaveItem(mk, jot.SaveOptions{AutoTimestamp: true}); err != nil {
		return "", fmt.Errorf("saving master key: %w", err)
	}
	if err := a.encryptor.EnableEncryption(mk); err != nil {
		return "", fmt.Errorf("enabling encryption: %w", err)
	}
	return mk.ID, nil
}

// Close releases the store and the log file.
func (a *JotApp) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}
