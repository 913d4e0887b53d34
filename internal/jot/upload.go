package jot

import (
	"fmt"

	"jot-go/internal/model"
)

// uploadStep pushes every locally changed item to the target, resolving
// conflicts against the remote state as it goes. Items are processed in
// batches until the store reports nothing left.
func (s *Synchronizer) uploadStep(api Target) error {
	targetID := api.SyncTargetID()
	uploader := NewItemUploader(api, s.encryptor, s.logger)

	// Seeing the same path twice within one run means an item kept
	// changing under us, or reconciliation failed to settle it. Either
	// way, continuing would loop.
	donePaths := make(map[string]bool)

	for {
		if s.cancelled() {
			return nil
		}
		batch, err := s.store.ItemsNeedingSync(targetID, uploadBatchSize)
		if err != nil {
			return fmt.Errorf("listing items needing sync: %w", err)
		}
		if len(batch.Items) == 0 {
			return nil
		}
		s.logger.Debug("upload batch", "items", len(batch.Items), "hasMore", batch.HasMore)

		var neverSynced []*model.Item
		for _, u := range batch.Items {
			if u.SyncTime == 0 {
				neverSynced = append(neverSynced, u.Item)
			}
		}
		if err := uploader.PreUpload(neverSynced); err != nil {
			return err
		}

		for _, u := range batch.Items {
			if s.cancelled() {
				return nil
			}
			if err := s.uploadItem(api, uploader, donePaths, u); err != nil {
				return err
			}
		}
		if !batch.HasMore {
			return nil
		}
	}
}

// uploadItem reconciles one locally changed item against the remote
// state and performs the resulting action.
func (s *Synchronizer) uploadItem(api Target, uploader *ItemUploader, donePaths map[string]bool, u UnsyncedItem) error {
	local := u.Item
	path := model.SystemPath(local)
	if donePaths[path] {
		return NewError(CodeProcessingPathTwice, fmt.Sprintf("processing path %s twice in one sync run", path))
	}
	donePaths[path] = true

	// Never-synced items skip the remote check entirely: nothing we
	// uploaded can be there, so anything that is was left by a failed
	// earlier attempt and is safe to overwrite.
	var remote *RemoteItem
	if u.SyncTime > 0 {
		var err error
		remote, err = api.Stat(path)
		if err != nil {
			return fmt.Errorf("checking remote item %s: %w", path, err)
		}
	}

	var action SyncAction
	var remoteContent *model.Item

	switch {
	case remote == nil && u.SyncTime == 0:
		action = ActionCreateRemote
	case remote == nil:
		// Previously synced but gone remotely: another client deleted it
		// while we changed it.
		action = conflictActionForKind(local.Kind)
	default:
		data, err := api.Get(path)
		if err != nil {
			return fmt.Errorf("fetching remote item %s: %w", path, err)
		}
		if data == nil {
			action = conflictActionForKind(local.Kind)
			break
		}
		remoteContent, err = unserializeRemote(data)
		if err != nil {
			return err
		}
		if remoteContent.UpdatedTime > u.SyncTime {
			action = conflictActionForKind(local.Kind)
		} else {
			action = ActionUpdateRemote
		}
	}

	s.logger.Debug("sync item", "id", local.ID, "kind", local.Kind.String(), "action", string(action))

	switch action {
	case ActionCreateRemote, ActionUpdateRemote:
		return s.uploadLocalItem(api, uploader, local, path, action)
	case ActionNoteConflict:
		if err := s.resolveNoteConflict(local, remoteContent); err != nil {
			return err
		}
	case ActionResourceConflict:
		if err := s.resolveResourceConflict(local, remoteContent); err != nil {
			return err
		}
	default:
		if err := s.resolveItemConflict(local, remoteContent); err != nil {
			return err
		}
	}
	s.progress(action)
	return nil
}

func conflictActionForKind(kind model.Kind) SyncAction {
	switch kind {
	case model.KindNote:
		return ActionNoteConflict
	case model.KindResource:
		return ActionResourceConflict
	default:
		return ActionItemConflict
	}
}

// uploadLocalItem serializes and uploads one item, then records its
// sync time. Resources upload their blob first. A rejected or timed-out
// upload disables the item instead of failing the run; the batch keeps
// going.
func (s *Synchronizer) uploadLocalItem(api Target, uploader *ItemUploader, local *model.Item, path string, action SyncAction) error {
	// Captured before the upload: an edit that lands mid-upload bumps
	// updated_time past this value and the item stays dirty.
	updatedTime := local.UpdatedTime

	if local.Kind == model.KindResource {
		uploaded, err := s.uploadResourceBlob(api, local)
		if err != nil || !uploaded {
			return err
		}
	}

	err := uploader.SerializeAndUpload(local, path)
	if err == nil && local.Kind == model.KindNote && s.hookEnabled(HookNotesRejectedByTarget) {
		err = NewError(CodeRejectedByTarget, "upload refused by test hook")
	}
	if err != nil {
		if HasCode(err, CodeRejectedByTarget) || IsTimeout(err) {
			return s.handleCannotSyncItem(local.ID, err.Error())
		}
		return err
	}

	if err := s.store.SaveSyncTime(api.SyncTargetID(), local.ID, updatedTime); err != nil {
		return fmt.Errorf("saving sync time for %s: %w", local.ID, err)
	}
	s.progress(action)
	return nil
}

// uploadResourceBlob pushes the binary content of a resource ahead of
// its metadata. Returns false when the item was disabled instead of
// uploaded.
func (s *Synchronizer) uploadResourceBlob(api Target, local *model.Item) (bool, error) {
	status, err := s.store.ResourceFetchStatus(local.ID)
	if err != nil {
		return false, fmt.Errorf("reading fetch status for resource %s: %w", local.ID, err)
	}
	if status != FetchStatusDone {
		if err := s.handleCannotSyncItem(local.ID, "resource blob is not available locally yet"); err != nil {
			return false, err
		}
		return false, nil
	}

	opts := &PutOptions{
		SourcePath: s.store.ResourceBlobPath(local.ID),
		ShareID:    local.ShareID,
	}
	if err := api.Put(model.ResourcePath(local.ID), nil, opts); err != nil {
		if HasCode(err, CodeRejectedByTarget) || HasCode(err, CodeFileNotFound) || IsTimeout(err) {
			if derr := s.handleCannotSyncItem(local.ID, err.Error()); derr != nil {
				return false, derr
			}
			return false, nil
		}
		return false, fmt.Errorf("uploading blob for resource %s: %w", local.ID, err)
	}
	return true, nil
}

// resolveItemConflict applies last-writer-wins for item kinds that have
// no dedicated conflict representation: the remote version overwrites
// the local one, or the local copy is dropped when the remote side
// deleted it.
func (s *Synchronizer) resolveItemConflict(local, remoteContent *model.Item) error {
	if remoteContent != nil {
		if err := s.store.SaveItemFromSync(remoteContent, s.api.SyncTargetID(), NowMillis(s.clock)); err != nil {
			return fmt.Errorf("overwriting local item %s from remote: %w", local.ID, err)
		}
		return nil
	}
	if err := s.store.DeleteItem(local.ID, DeleteOptions{}); err != nil {
		return fmt.Errorf("deleting conflicted item %s: %w", local.ID, err)
	}
	s.progress(ActionDeleteLocal)
	return nil
}

// resolveNoteConflict preserves the local version as a conflict note
// when its content meaningfully differs from the remote version, then
// lets the remote version win.
func (s *Synchronizer) resolveNoteConflict(local, remoteContent *model.Item) error {
	if remoteContent == nil || model.MustHandleConflict(local, remoteContent) {
		if err := s.store.CreateConflictNote(local); err != nil {
			return fmt.Errorf("creating conflict note for %s: %w", local.ID, err)
		}
		s.progress(ActionCreateLocal)
	}
	return s.resolveItemConflict(local, remoteContent)
}

// resolveResourceConflict always keeps the local file: binary contents
// cannot be merged, so the local resource is duplicated into a conflict
// note before the remote version wins.
func (s *Synchronizer) resolveResourceConflict(local, remoteContent *model.Item) error {
	if err := s.store.CreateResourceConflictNote(local); err != nil {
		return fmt.Errorf("creating resource conflict note for %s: %w", local.ID, err)
	}
	s.progress(ActionCreateLocal)

	if remoteContent == nil {
		if err := s.store.DeleteItem(local.ID, DeleteOptions{}); err != nil {
			return fmt.Errorf("deleting conflicted resource %s: %w", local.ID, err)
		}
		s.progress(ActionDeleteLocal)
		return nil
	}
	if err := s.store.SaveItemFromSync(remoteContent, s.api.SyncTargetID(), NowMillis(s.clock)); err != nil {
		return fmt.Errorf("overwriting local resource %s from remote: %w", local.ID, err)
	}
	if err := s.store.SetResourceFetchStatus(local.ID, FetchStatusIdle); err != nil {
		return fmt.Errorf("resetting fetch status for %s: %w", local.ID, err)
	}
	return nil
}
