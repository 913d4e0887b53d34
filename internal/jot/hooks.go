package jot

// Hook names a point where tests can alter engine behavior. Hooks are
// settable from test builds only.
type Hook string

const (
	// HookCancelDeltaLoop2 cancels the run when the delta walk requests
	// its second page, exercising context rollback.
	HookCancelDeltaLoop2 Hook = "cancelDeltaLoop2"
	// HookNotesRejectedByTarget makes every note upload fail as rejected
	// by the target.
	HookNotesRejectedByTarget Hook = "notesRejectedByTarget"
	// HookSkipRevisions drops revision items from delta processing.
	HookSkipRevisions Hook = "skipRevisions"
)

func (s *Synchronizer) hookEnabled(h Hook) bool {
	return s.testHooks[h]
}

func (s *Synchronizer) setTestHook(h Hook, enabled bool) {
	if s.testHooks == nil {
		s.testHooks = make(map[Hook]bool)
	}
	s.testHooks[h] = enabled
}
