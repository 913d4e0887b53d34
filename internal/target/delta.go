package target

import (
	"fmt"
	"math"
	"sort"

	"jot-go/internal/jot"
	"jot-go/internal/model"
)

const deltaOutputLimit = 50

// BasicDelta computes one page of remote changes for drivers whose
// backend has no native change feed. It lists the whole target once,
// sorts the listing by modification time, and walks it across calls
// using the context's (timestamp, filesAtTimestamp) cursor. The paths
// modified in the same millisecond as the cursor are tracked explicitly
// so a file changing while the walk runs is neither skipped nor
// reported twice.
func BasicDelta(list func() ([]jot.RemoteItem, error), opts jot.DeltaOptions) (*jot.DeltaPage, error) {
	logger := opts.Logger
	if logger == nil {
		logger = jot.NewNopLogger()
	}

	var inTimestamp int64
	var inFiles []string
	var statsCache []jot.RemoteItem
	deletedProcessed := false
	if opts.Context != nil {
		inTimestamp = opts.Context.Timestamp
		inFiles = opts.Context.FilesAtTimestamp
		statsCache = opts.Context.StatsCache
		deletedProcessed = opts.Context.DeletedItemsProcessed
	}

	out := &jot.DeltaContext{
		Timestamp:             inTimestamp,
		FilesAtTimestamp:      append([]string(nil), inFiles...),
		DeletedItemsProcessed: deletedProcessed,
	}

	// The listing is cached in the context until every item has been
	// handed out, so all pages of one walk see a single consistent
	// snapshot.
	if statsCache == nil {
		items, err := list()
		if err != nil {
			return nil, fmt.Errorf("listing sync target: %w", err)
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].UpdatedTime != items[j].UpdatedTime {
				return items[i].UpdatedTime < items[j].UpdatedTime
			}
			return items[i].Path < items[j].Path
		})
		statsCache = items
	}
	out.StatsCache = statsCache

	inFilesSet := make(map[string]bool, len(inFiles))
	for _, p := range inFiles {
		inFilesSet[p] = true
	}

	older, equal := 0, 0
	var output []jot.RemoteItem
	for _, stat := range statsCache {
		if stat.UpdatedTime < inTimestamp {
			older++
			continue
		}
		if stat.UpdatedTime == inTimestamp && inFilesSet[stat.Path] {
			equal++
			continue
		}
		if stat.UpdatedTime > out.Timestamp {
			out.Timestamp = stat.UpdatedTime
			out.FilesAtTimestamp = nil
		}
		out.FilesAtTimestamp = append(out.FilesAtTimestamp, stat.Path)
		output = append(output, stat)
		if len(output) >= deltaOutputLimit {
			break
		}
	}
	logger.Debug("delta walk", "cursor", inTimestamp, "older", older, "equal", equal, "changed", len(output))

	if !out.DeletedItemsProcessed && opts.AllItemIDs != nil {
		itemIDs, err := opts.AllItemIDs()
		if err != nil {
			return nil, fmt.Errorf("listing local item ids: %w", err)
		}

		remoteIDs := make(map[string]bool, len(statsCache))
		for _, stat := range statsCache {
			if model.IsItemPath(stat.Path) {
				remoteIDs[model.ItemIDFromPath(stat.Path)] = true
			}
		}

		var deleted []jot.RemoteItem
		for _, id := range itemIDs {
			if remoteIDs[id] {
				continue
			}
			deleted = append(deleted, jot.RemoteItem{
				ID:        id,
				Path:      model.SystemPathForID(id),
				IsDeleted: true,
			})
		}

		// A target that suddenly reports most of our items gone is more
		// likely wiped or misconfigured than right, for example after the
		// user pointed the client at a fresh location.
		if opts.WipeOutFailSafe && len(itemIDs) > 1 {
			percent := float64(len(deleted)) / float64(len(itemIDs))
			if percent >= 0.9 {
				return nil, jot.NewError(jot.CodeFailSafe, fmt.Sprintf(
					"sync was interrupted because %d%% of the data (%d items) is about to be deleted; to override this, disable the fail-safe in the sync settings",
					int(math.Round(percent*100)), len(deleted)))
			}
		}

		// Deletions can push the page past the limit. That is acceptable,
		// delete operations are cheap.
		output = append(output, deleted...)
	}
	out.DeletedItemsProcessed = true

	hasMore := len(output) >= deltaOutputLimit
	if !hasMore {
		// Walk complete: drop the snapshot so the next run lists afresh
		// and re-runs the deletion diff.
		out.StatsCache = nil
		out.DeletedItemsProcessed = false
	}

	return &jot.DeltaPage{Items: output, Context: out, HasMore: hasMore}, nil
}
