package testutil

import (
	"jot-go/internal/jot"
	"jot-go/internal/target"
)

// NewTestTarget creates an in-memory sync target for testing. A nil
// clock gets the fixed test clock, keeping remote timestamps
// deterministic.
func NewTestTarget(clock jot.Clock) *target.MemoryTarget {
	if clock == nil {
		clock = FixedClock()
	}
	return target.NewMemoryTarget(target.TargetIDMemory, clock)
}

// FaultyTarget wraps a Target and redirects selected operations to test
// functions. Nil functions delegate to the wrapped target.
type FaultyTarget struct {
	jot.Target

	StatFunc     func(path string) (*jot.RemoteItem, error)
	GetFunc      func(path string) ([]byte, error)
	PutFunc      func(path string, content []byte, opts *jot.PutOptions) error
	DeleteFunc   func(path string) error
	DeltaFunc    func(dir string, opts jot.DeltaOptions) (*jot.DeltaPage, error)
	MultiPutFunc func(items []jot.BatchItem) (map[string]error, error)
}

func (f *FaultyTarget) Stat(path string) (*jot.RemoteItem, error) {
	if f.StatFunc != nil {
		return f.StatFunc(path)
	}
	return f.Target.Stat(path)
}

func (f *FaultyTarget) Get(path string) ([]byte, error) {
	if f.GetFunc != nil {
		return f.GetFunc(path)
	}
	return f.Target.Get(path)
}

func (f *FaultyTarget) Put(path string, content []byte, opts *jot.PutOptions) error {
	if f.PutFunc != nil {
		return f.PutFunc(path, content, opts)
	}
	return f.Target.Put(path, content, opts)
}

func (f *FaultyTarget) Delete(path string) error {
	if f.DeleteFunc != nil {
		return f.DeleteFunc(path)
	}
	return f.Target.Delete(path)
}

func (f *FaultyTarget) Delta(dir string, opts jot.DeltaOptions) (*jot.DeltaPage, error) {
	if f.DeltaFunc != nil {
		return f.DeltaFunc(dir, opts)
	}
	return f.Target.Delta(dir, opts)
}

func (f *FaultyTarget) MultiPut(items []jot.BatchItem) (map[string]error, error) {
	if f.MultiPutFunc != nil {
		return f.MultiPutFunc(items)
	}
	return f.Target.MultiPut(items)
}
