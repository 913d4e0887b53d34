package jot

import (
	"fmt"

	"jot-go/internal/model"
)

// deltaState carries what the delta walk accumulates across pages.
type deltaState struct {
	queue             *DownloadQueue
	foldersToDelete   []string
	hadMasterKeys     bool
	enabledEncryption bool
}

// deltaStep pulls remote changes and applies them locally, page by page.
// The continuation in runContext is updated after every completed page so
// an interrupted walk resumes instead of starting over.
func (s *Synchronizer) deltaStep(api Target, runContext *RunContext) error {
	targetID := api.SyncTargetID()

	queue := NewDownloadQueue(s.logger, downloadConcurrency)
	s.mu.Lock()
	s.downloadQueue = queue
	s.mu.Unlock()
	defer queue.Stop()
	if s.cancelled() {
		return nil
	}

	keyCount, err := s.store.MasterKeyCount()
	if err != nil {
		return fmt.Errorf("counting master keys: %w", err)
	}
	st := &deltaState{queue: queue, hadMasterKeys: keyCount > 0}

	context := runContext.Delta
	loopCount := 0
	for {
		if s.cancelled() {
			break
		}
		loopCount++
		if loopCount == 2 && s.hookEnabled(HookCancelDeltaLoop2) {
			s.requestCancel()
			break
		}

		page, err := api.Delta("", DeltaOptions{
			Context:         context,
			AllItemIDs:      func() ([]string, error) { return s.store.SyncedItemIDs(targetID) },
			WipeOutFailSafe: s.wipeOutFailSafe,
			Logger:          s.logger,
		})
		if err != nil {
			return fmt.Errorf("fetching remote changes: %w", err)
		}
		s.logger.Debug("delta page", "items", len(page.Items), "hasMore", page.HasMore)

		for i := range page.Items {
			r := &page.Items[i]
			if r.ID == "" && model.IsItemPath(r.Path) {
				r.ID = model.ItemIDFromPath(r.Path)
			}
		}

		// Schedule downloads ahead of processing so network fetches
		// overlap with local writes.
		for _, remote := range page.Items {
			if s.cancelled() {
				break
			}
			if remote.IsDeleted || !model.IsItemPath(remote.Path) {
				continue
			}
			local, err := s.store.Item(remote.ID)
			if err != nil {
				return fmt.Errorf("loading local item %s: %w", remote.ID, err)
			}
			if !needsDownload(api, remote, local) {
				continue
			}
			path := remote.Path
			queue.Push(path, func() ([]byte, error) { return api.Get(path) })
			s.fetchScheduled()
		}

		for _, remote := range page.Items {
			if s.cancelled() {
				break
			}
			if err := s.processRemoteChange(api, st, remote); err != nil {
				return err
			}
		}

		if !s.cancelled() {
			context = page.Context
			runContext.Delta = context
			s.saveRunContext(runContext)
		}
		if !page.HasMore || s.cancelled() {
			break
		}
	}

	if s.cancelled() {
		return nil
	}

	for _, folderID := range st.foldersToDelete {
		if s.cancelled() {
			return nil
		}
		if err := s.deleteLocalFolder(folderID); err != nil {
			return err
		}
	}
	if err := s.store.PurgeOrphanedSyncItems(targetID); err != nil {
		return fmt.Errorf("purging orphaned sync rows: %w", err)
	}
	return nil
}

// needsDownload decides whether a remote file's content must be fetched.
// Targets with accurate timestamps let us skip files whose content
// timestamp matches the local row.
func needsDownload(api Target, remote RemoteItem, local *model.Item) bool {
	if !api.SupportsAccurateTimestamp() || remote.ItemUpdatedTime == 0 {
		return true
	}
	return local == nil || local.UpdatedTime != remote.ItemUpdatedTime
}

// saveRunContext persists the delta continuation. Persistence failures
// are not fatal; the next run falls back to a full scan.
func (s *Synchronizer) saveRunContext(runContext *RunContext) {
	if s.saveContext == nil {
		return
	}
	clean := &RunContext{Delta: runContext.Delta.Clean()}
	if err := s.saveContext(clean); err != nil {
		s.logger.Warn("could not persist sync context", "error", err)
	}
}

// processRemoteChange applies one remote change to the local store.
func (s *Synchronizer) processRemoteChange(api Target, st *deltaState, remote RemoteItem) error {
	if !model.IsItemPath(remote.Path) {
		return nil
	}
	targetID := api.SyncTargetID()

	local, err := s.store.Item(remote.ID)
	if err != nil {
		return fmt.Errorf("loading local item %s: %w", remote.ID, err)
	}

	if remote.IsDeleted {
		return s.processRemoteDeletion(st, local)
	}
	if !needsDownload(api, remote, local) {
		return nil
	}

	data, err := st.queue.WaitForResult(remote.Path)
	s.fetchProcessed()
	if err != nil {
		if IsTimeout(err) {
			return s.handleCannotSyncItem(remote.ID, err.Error())
		}
		return fmt.Errorf("downloading %s: %w", remote.Path, err)
	}
	if data == nil {
		// Deleted between listing and download; a later delta page will
		// report the deletion.
		return nil
	}

	content, err := unserializeRemote(data)
	if err != nil {
		return err
	}

	var action SyncAction
	switch {
	case local == nil:
		action = ActionCreateLocal
	case content.UpdatedTime > local.UpdatedTime:
		action = ActionUpdateLocal
	default:
		return nil
	}

	if content.Kind == model.KindRevision && s.hookEnabled(HookSkipRevisions) {
		return nil
	}

	if content.Kind == model.KindResource && s.maxResourceSize >= 0 && content.Size >= s.maxResourceSize {
		reason := fmt.Sprintf("resource is %d bytes which exceeds the limit of %d bytes", content.Size, s.maxResourceSize)
		return s.handleCannotSyncItem(content.ID, reason)
	}

	if err := s.store.SaveItemFromSync(content, targetID, NowMillis(s.clock)); err != nil {
		return fmt.Errorf("saving remote item %s: %w", content.ID, err)
	}

	if content.Kind == model.KindResource {
		if err := s.store.SetResourceFetchStatus(content.ID, FetchStatusIdle); err != nil {
			return fmt.Errorf("resetting fetch status for %s: %w", content.ID, err)
		}
		s.dispatcher.Dispatch(Event{Kind: EventCreatedOrUpdatedResource, ResourceID: content.ID})
	}
	if content.Kind == model.KindMasterKey {
		s.handleReceivedMasterKey(st, content)
	}
	// A master key announces encrypted content even though the key file
	// itself travels in clear.
	if content.EncryptionApplied || content.Kind == model.KindMasterKey {
		s.dispatcher.Dispatch(Event{Kind: EventGotEncryptedItem})
	}

	s.progress(action)
	return nil
}

// processRemoteDeletion mirrors a remote deletion locally. Folder
// deletions are deferred to the end of the walk so notes that moved out
// of the folder are seen first.
func (s *Synchronizer) processRemoteDeletion(st *deltaState, local *model.Item) error {
	if local == nil {
		return nil
	}
	if local.Kind == model.KindFolder {
		st.foldersToDelete = append(st.foldersToDelete, local.ID)
		return nil
	}
	if err := s.store.DeleteItem(local.ID, DeleteOptions{}); err != nil {
		return fmt.Errorf("applying remote deletion of %s: %w", local.ID, err)
	}
	s.progress(ActionDeleteLocal)
	return nil
}

// deleteLocalFolder removes a folder that was deleted remotely. Notes
// still inside it were created or changed after the remote deletion, so
// they are kept as conflicts rather than dropped with the folder.
func (s *Synchronizer) deleteLocalFolder(folderID string) error {
	noteIDs, err := s.store.NoteIDsInFolder(folderID)
	if err != nil {
		return fmt.Errorf("listing notes in folder %s: %w", folderID, err)
	}
	if len(noteIDs) > 0 {
		s.logger.Info("keeping notes from remotely deleted folder as conflicts", "folderId", folderID, "notes", len(noteIDs))
		if err := s.store.MarkNotesAsConflict(noteIDs); err != nil {
			return fmt.Errorf("marking notes in folder %s as conflicts: %w", folderID, err)
		}
	}
	if err := s.store.DeleteItem(folderID, DeleteOptions{}); err != nil {
		return fmt.Errorf("deleting local folder %s: %w", folderID, err)
	}
	s.progress(ActionDeleteLocal)
	return nil
}

// handleReceivedMasterKey turns on end-to-end encryption when a master
// key arrives on a client that never had one: another client enabled
// encryption, and writing plaintext from here on would defeat it.
func (s *Synchronizer) handleReceivedMasterKey(st *deltaState, masterKey *model.Item) {
	if !st.hadMasterKeys && !st.enabledEncryption {
		st.enabledEncryption = true
		s.logger.Info("got master key from remote, enabling encryption", "id", masterKey.ID)
		if err := s.encryptor.EnableEncryption(masterKey); err != nil {
			s.logger.Error("could not auto-enable encryption", "error", err)
			return
		}
	}
	if err := s.encryptor.ReloadMasterKeys(); err != nil {
		s.logger.Error("could not reload master keys", "error", err)
	}
}
