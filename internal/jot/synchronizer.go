package jot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jot-go/internal/model"
)

const (
	uploadBatchSize     = 100
	downloadConcurrency = 5

	// maxResourceSizeMobile caps resource downloads on memory-constrained
	// clients.
	maxResourceSizeMobile = 100_000_000

	reportUpdateInterval = time.Second
)

// Setting keys the engine reads and writes through the store.
const (
	SettingClientID     = "clientId"
	SettingUpgradeState = "sync.upgradeState"
)

// Values recorded under SettingUpgradeState.
const (
	UpgradeStateIdle     = "IDLE"
	UpgradeStateShouldDo = "SHOULD_DO"
)

// SyncStep names one phase of a run.
type SyncStep string

const (
	StepUpdateRemote SyncStep = "update_remote"
	StepDeleteRemote SyncStep = "delete_remote"
	StepDelta        SyncStep = "delta"
)

// RunContext is the resumable continuation of the delta walk. It is
// JSON-serializable; callers persist it through the SaveContext hook and
// hand it back on the next run so an interrupted walk resumes instead of
// re-scanning.
type RunContext struct {
	Delta *DeltaContext `json:"delta,omitempty"`
}

// StartOptions configures one sync run.
type StartOptions struct {
	// Steps selects which phases run, in order. Empty means a full sync:
	// upload, remote deletions, delta.
	Steps []SyncStep

	// Context is the RunContext returned by the previous run, or nil.
	Context *RunContext

	// FailOnError makes Start return the first run-fatal error instead of
	// only recording it in the report. alreadyStarted is always returned.
	FailOnError bool

	// OnProgress receives report snapshots, throttled to one per second,
	// plus a final one when the run completes.
	OnProgress func(Report)

	// SaveContext persists the continuation after every completed delta
	// page.
	SaveContext func(*RunContext) error
}

// SynchronizerConfig carries the client identity and tuning knobs.
type SynchronizerConfig struct {
	AppType  AppType
	ClientID string

	// MaxResourceSize caps downloaded resource sizes in bytes. 0 derives
	// the default from AppType: 100 MB on mobile, unbounded elsewhere.
	MaxResourceSize int64

	// DisableWipeOutFailSafe turns off the guard that aborts a delta walk
	// which would delete most local items.
	DisableWipeOutFailSafe bool
}

// Synchronizer drives two-way synchronization between the local item
// store and one sync target. A single instance serves one target; runs
// are strictly sequential.
type Synchronizer struct {
	store      Store
	api        Target
	dispatcher Dispatcher
	logger     Logger
	clock      Clock

	appType         AppType
	clientID        string
	maxResourceSize int64
	wipeOutFailSafe bool

	lockHandler      *LockHandler
	migrationHandler *MigrationHandler
	encryptor        Encryptor
	shareService     ShareService

	mu            sync.Mutex
	state         SyncState
	idleCh        chan struct{} // closed on every transition to idle
	downloadQueue *DownloadQueue

	cancelRequested atomic.Bool
	targetLocked    atomic.Bool

	reportMu         sync.Mutex
	report           Report
	lastReportUpdate time.Time

	onProgress  func(Report)
	saveContext func(*RunContext) error

	testHooks map[Hook]bool
}

// NewSynchronizer wires a synchronizer for one target. dispatcher, logger
// and clock may be nil, in which case no-op implementations are used.
func NewSynchronizer(store Store, target Target, dispatcher Dispatcher, logger Logger, clock Clock, cfg SynchronizerConfig) *Synchronizer {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	maxResourceSize := cfg.MaxResourceSize
	if maxResourceSize == 0 {
		if cfg.AppType == AppTypeMobile {
			maxResourceSize = maxResourceSizeMobile
		} else {
			maxResourceSize = -1
		}
	}

	idleCh := make(chan struct{})
	close(idleCh)

	s := &Synchronizer{
		store:           store,
		api:             target,
		dispatcher:      dispatcher,
		logger:          logger,
		clock:           clock,
		appType:         cfg.AppType,
		clientID:        cfg.ClientID,
		maxResourceSize: maxResourceSize,
		wipeOutFailSafe: !cfg.DisableWipeOutFailSafe,
		encryptor:       NopEncryptor{},
		state:           StateIdle,
		idleCh:          idleCh,
	}
	s.lockHandler = NewLockHandler(target, clock, logger)
	s.migrationHandler = NewMigrationHandler(target, s.lockHandler, logger, cfg.AppType, cfg.ClientID)
	return s
}

// SetEncryptor wires the end-to-end encryption implementation.
func (s *Synchronizer) SetEncryptor(e Encryptor) {
	if e != nil {
		s.encryptor = e
	}
}

// SetShareService wires the optional share housekeeping service.
func (s *Synchronizer) SetShareService(svc ShareService) {
	s.shareService = svc
}

// LockHandler returns the lock handler, mainly for status commands.
func (s *Synchronizer) LockHandler() *LockHandler { return s.lockHandler }

// MigrationHandler returns the migration handler for target init and
// upgrade commands.
func (s *Synchronizer) MigrationHandler() *MigrationHandler { return s.migrationHandler }

// State returns the current coarse state.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Report returns a snapshot of the current run's report, or of the last
// run's once the synchronizer is idle.
func (s *Synchronizer) Report() Report {
	return s.reportSnapshot()
}

// Start runs a sync and returns the continuation context for the next
// one. Only one run may be in progress; a second Start fails with an
// alreadyStarted coded error.
func (s *Synchronizer) Start(opts StartOptions) (*RunContext, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, NewError(CodeAlreadyStarted, "a sync run is already in progress")
	}
	s.state = StateInProgress
	s.idleCh = make(chan struct{})
	s.mu.Unlock()

	s.cancelRequested.Store(false)
	s.targetLocked.Store(false)
	s.reportMu.Lock()
	s.report = Report{State: StateInProgress, StartTime: s.clock.Now()}
	s.reportMu.Unlock()
	s.lastReportUpdate = time.Time{}
	s.onProgress = opts.OnProgress
	s.saveContext = opts.SaveContext

	steps := opts.Steps
	if len(steps) == 0 {
		steps = []SyncStep{StepUpdateRemote, StepDeleteRemote, StepDelta}
	}
	runContext := opts.Context
	if runContext == nil {
		runContext = &RunContext{}
	}

	s.logger.Info("starting sync", "targetId", s.api.SyncTargetID(), "steps", len(steps))
	s.dispatcher.Dispatch(Event{Kind: EventSyncStarted})
	s.api.SetTempDirName(tempDirName)

	lock, runErr := s.runSteps(steps, runContext)

	if lock != nil {
		s.lockHandler.StopAutoLockRefresh()
		if runErr != nil {
			// classify before releasing; once the own lock file is gone the
			// status check can only report a loss
			runErr = s.reclassifyLockLoss(runErr, lock)
		}
		if err := s.lockHandler.ReleaseLock(*lock); err != nil {
			s.logger.Warn("could not release sync lock", "error", err)
		}
	}

	if runErr == nil && !s.cancelled() && s.shareService != nil {
		if err := s.shareService.Maintenance(); err != nil {
			s.logger.Error("share maintenance failed", "error", err)
		}
	}

	var returnErr error
	if runErr != nil {
		s.recordRunError(runErr)
		if opts.FailOnError {
			returnErr = runErr
		}
	}

	s.reportMu.Lock()
	s.report.State = StateIdle
	s.report.CompletedTime = s.clock.Now()
	duration := s.report.CompletedTime.Sub(s.report.StartTime)
	errCount := len(s.report.Errors)
	s.reportMu.Unlock()

	s.logger.Info("sync completed", "duration", duration, "errors", errCount, "cancelled", s.cancelled())
	s.maybeReportUpdate(true)
	s.dispatcher.Dispatch(Event{Kind: EventSyncCompleted, IsFullSync: len(steps) == 3, WithErrors: errCount > 0})

	s.onProgress = nil
	s.saveContext = nil

	s.mu.Lock()
	s.state = StateIdle
	s.downloadQueue = nil
	close(s.idleCh)
	s.mu.Unlock()
	s.cancelRequested.Store(false)

	return runContext, returnErr
}

// runSteps checks the target, takes the sync lock and runs the selected
// phases. The acquired lock is returned even on error so Start can
// classify the failure and release it.
func (s *Synchronizer) runSteps(steps []SyncStep, runContext *RunContext) (*Lock, error) {
	info, err := s.migrationHandler.CheckCanSync()
	if err != nil {
		return nil, err
	}
	if info.Version == 0 {
		s.logger.Info("sync target is empty, initializing it")
		if err := s.migrationHandler.Upgrade(); err != nil {
			return nil, fmt.Errorf("initializing sync target: %w", err)
		}
	}

	lock, err := s.lockHandler.AcquireLock(LockSync, s.appType, s.clientID)
	if err != nil {
		return nil, err
	}
	s.lockHandler.StartAutoLockRefresh(lock, func(error) {
		s.targetLocked.Store(true)
		s.requestCancel()
	})

	api := &lockedTarget{api: s.api, locked: &s.targetLocked}
	for _, step := range steps {
		if s.cancelled() {
			break
		}
		var err error
		switch step {
		case StepUpdateRemote:
			err = s.uploadStep(api)
		case StepDeleteRemote:
			err = s.deleteRemoteStep(api)
		case StepDelta:
			err = s.deltaStep(api, runContext)
		default:
			err = fmt.Errorf("unknown sync step %q", step)
		}
		if err != nil {
			return &lock, err
		}
	}
	return &lock, nil
}

// Cancel requests the in-progress run to stop and waits until the
// synchronizer is idle. Cancelling an idle synchronizer is a no-op.
func (s *Synchronizer) Cancel() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	idle := s.idleCh
	s.mu.Unlock()

	s.logger.Info("cancelling sync")
	s.requestCancel()
	<-idle
}

// WaitForSyncToFinish blocks until any in-progress run reaches idle.
func (s *Synchronizer) WaitForSyncToFinish() {
	s.mu.Lock()
	idle := s.idleCh
	s.mu.Unlock()
	<-idle
}

func (s *Synchronizer) cancelled() bool {
	return s.cancelRequested.Load()
}

// requestCancel flips the cancellation flag and stops the download queue
// without waiting for idle, so it is safe to call from the auto-refresh
// goroutine.
func (s *Synchronizer) requestCancel() {
	if s.cancelRequested.Swap(true) {
		return
	}
	s.mu.Lock()
	queue := s.downloadQueue
	s.mu.Unlock()
	if queue != nil {
		queue.Stop()
	}
}

// reclassifyLockLoss inspects the target's locks when a run failed while
// the lock was in doubt, narrowing a generic lock error down to what
// actually happened. It must run while the own lock file is still in
// place: after release the check can only report the lock as gone.
func (s *Synchronizer) reclassifyLockLoss(runErr error, lock *Lock) error {
	if lock == nil {
		return runErr
	}
	if !s.targetLocked.Load() && !isLockCode(ErrorCode(runErr)) {
		return runErr
	}
	status, err := s.lockHandler.LockErrorStatus(*lock)
	if err != nil {
		s.logger.Warn("could not check lock status", "error", err)
		return runErr
	}
	if status == "" {
		return runErr
	}
	return NewError(status, runErr.Error())
}

// recordRunError logs and reports a run-fatal error according to its
// kind. Expected interruptions log at info level; lock losses and
// fail-safe aborts also dump the recent target requests.
func (s *Synchronizer) recordRunError(err error) {
	code := ErrorCode(err)
	switch {
	case code == CodeFailSafe:
		s.logger.Info("sync aborted by fail-safe", "error", err)
		s.reportError(err)
		s.logLastRequests()
	case isLockCode(code):
		s.logger.Info("sync target lock lost", "error", err)
		s.reportError(err)
		s.logLastRequests()
	case code == CodeOutdatedSyncTarget:
		s.logger.Info("sync target needs an upgrade", "error", err)
		if serr := s.store.SetSetting(SettingUpgradeState, UpgradeStateShouldDo); serr != nil {
			s.logger.Error("could not record upgrade state", "error", serr)
		}
		s.reportError(err)
	case code == CodeUnknownItemType:
		s.logger.Info("downloaded item of unknown type", "error", err)
		s.reportError(errors.New("downloaded an item of an unknown type, please upgrade the application"))
	case code == CodeCannotEncryptEncrypted, code == CodeNoActiveMasterKey, code == CodeProcessingPathTwice:
		s.logger.Info("sync interrupted", "code", string(code), "error", err)
	default:
		s.logger.Error("sync failed", "error", err)
		if !isRetryable(err) {
			s.reportError(err)
		}
	}
}

// handleCannotSyncItem flags one item as permanently unsyncable and lets
// the run continue. The user is notified through the dispatcher.
func (s *Synchronizer) handleCannotSyncItem(itemID, reason string) error {
	s.logger.Warn("disabling sync for item", "id", itemID, "reason", reason)
	if err := s.store.DisableItemSync(itemID, s.api.SyncTargetID(), reason); err != nil {
		return fmt.Errorf("disabling sync for item %s: %w", itemID, err)
	}
	s.dispatcher.Dispatch(Event{Kind: EventHasDisabledSyncItems})
	return nil
}

func (s *Synchronizer) logLastRequests() {
	for _, r := range s.api.LastRequests() {
		s.logger.Info("recent target request", "method", r.Method, "path", r.Path, "at", r.Time.Format(time.RFC3339Nano))
	}
}

func (s *Synchronizer) progress(action SyncAction) {
	s.reportMu.Lock()
	s.report.Bump(action)
	s.reportMu.Unlock()
	s.maybeReportUpdate(false)
}

func (s *Synchronizer) fetchScheduled() {
	s.reportMu.Lock()
	s.report.FetchingTotal++
	s.reportMu.Unlock()
	s.maybeReportUpdate(false)
}

func (s *Synchronizer) fetchProcessed() {
	s.reportMu.Lock()
	s.report.FetchingProcessed++
	s.reportMu.Unlock()
	s.maybeReportUpdate(false)
}

func (s *Synchronizer) reportError(err error) {
	s.reportMu.Lock()
	s.report.Errors = append(s.report.Errors, err)
	s.reportMu.Unlock()
}

func (s *Synchronizer) reportSnapshot() Report {
	s.reportMu.Lock()
	snap := s.report.Snapshot()
	s.reportMu.Unlock()
	snap.Cancelling = s.cancelRequested.Load() && snap.State == StateInProgress
	return snap
}

// maybeReportUpdate delivers a report snapshot to the progress callback
// and the dispatcher, at most once per second unless forced.
func (s *Synchronizer) maybeReportUpdate(force bool) {
	now := s.clock.Now()
	if !force && now.Sub(s.lastReportUpdate) < reportUpdateInterval {
		return
	}
	s.lastReportUpdate = now
	snap := s.reportSnapshot()
	if s.onProgress != nil {
		s.onProgress(snap)
	}
	s.dispatcher.Dispatch(Event{Kind: EventReportUpdate, Report: snap})
}

func unserializeRemote(data []byte) (*model.Item, error) {
	item, err := model.Unserialize(string(data))
	if err != nil {
		if errors.Is(err, model.ErrUnknownType) {
			return nil, NewError(CodeUnknownItemType, err.Error())
		}
		return nil, fmt.Errorf("parsing remote item: %w", err)
	}
	return item, nil
}

// lockedTarget wraps the raw target with a fail-fast check: once the
// sync lock is known to be lost, every further call aborts immediately
// instead of racing whichever client holds the target now.
type lockedTarget struct {
	api    Target
	locked *atomic.Bool
}

var _ Target = (*lockedTarget)(nil)

func (t *lockedTarget) check() error {
	if t.locked.Load() {
		return NewError(CodeLockError, "sync target lock was lost, aborting")
	}
	return nil
}

func (t *lockedTarget) Initialize() error {
	if err := t.check(); err != nil {
		return err
	}
	return t.api.Initialize()
}

func (t *lockedTarget) SetTempDirName(name string) {
	t.api.SetTempDirName(name)
}

func (t *lockedTarget) Stat(path string) (*RemoteItem, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.api.Stat(path)
}

func (t *lockedTarget) Get(path string) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.api.Get(path)
}

func (t *lockedTarget) Put(path string, content []byte, opts *PutOptions) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.api.Put(path, content, opts)
}

func (t *lockedTarget) MultiPut(items []BatchItem) (map[string]error, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.api.MultiPut(items)
}

func (t *lockedTarget) Delete(path string) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.api.Delete(path)
}

func (t *lockedTarget) List(path string) ([]RemoteItem, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.api.List(path)
}

func (t *lockedTarget) Delta(path string, opts DeltaOptions) (*DeltaPage, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.api.Delta(path, opts)
}

func (t *lockedTarget) SyncTargetID() int { return t.api.SyncTargetID() }

func (t *lockedTarget) SupportsAccurateTimestamp() bool { return t.api.SupportsAccurateTimestamp() }

func (t *lockedTarget) SupportsMultiPut() bool { return t.api.SupportsMultiPut() }

func (t *lockedTarget) LastRequests() []Request { return t.api.LastRequests() }
