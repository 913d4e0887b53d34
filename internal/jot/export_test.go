package jot

// SetTestHook toggles a behavior override from tests.
func (s *Synchronizer) SetTestHook(h Hook, enabled bool) {
	s.setTestHook(h, enabled)
}
