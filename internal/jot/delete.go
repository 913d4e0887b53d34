package jot

import (
	"fmt"

	"jot-go/internal/model"
)

// deleteRemoteStep propagates local deletions to the target, dropping
// each record from the local deletion queue once the remote file is
// gone.
func (s *Synchronizer) deleteRemoteStep(api Target) error {
	targetID := api.SyncTargetID()
	rows, err := s.store.DeletedItems(targetID)
	if err != nil {
		return fmt.Errorf("listing local deletions: %w", err)
	}

	for _, row := range rows {
		if s.cancelled() {
			return nil
		}
		s.logger.Debug("deleting remote item", "id", row.ItemID, "kind", row.ItemKind.String())

		if err := s.deleteRemotePath(api, model.SystemPathForID(row.ItemID)); err != nil {
			return err
		}
		if row.ItemKind == model.KindResource {
			if err := s.deleteRemotePath(api, model.ResourcePath(row.ItemID)); err != nil {
				return err
			}
		}
		if err := s.store.RemoveDeletedItemRecord(row.ItemID, targetID); err != nil {
			return fmt.Errorf("clearing deletion record for %s: %w", row.ItemID, err)
		}
		s.progress(ActionDeleteRemote)
	}
	return nil
}

// deleteRemotePath deletes one remote file, treating an already-absent
// file as success so interrupted runs converge.
func (s *Synchronizer) deleteRemotePath(api Target, path string) error {
	err := api.Delete(path)
	if err == nil || HasCode(err, CodeFileNotFound) {
		return nil
	}
	return fmt.Errorf("deleting remote file %s: %w", path, err)
}
