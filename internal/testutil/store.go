package testutil

import (
	"testing"

	"budget-go/internal/budget"
	"budget-go/internal/storage"
)

// DefaultTestCapacity is the capacity of stores returned by NewTestStore.
const DefaultTestCapacity = storage.DefaultCapacity

// NewTestStore returns an empty in-memory store with the default capacity.
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.NewMemoryStore("budget", DefaultTestCapacity)
}

// NewTestStoreWithCapacity returns an empty in-memory store of the given capacity.
func NewTestStoreWithCapacity(t *testing.T, capacity int64) *storage.Store {
	t.Helper()
	return storage.NewMemoryStore("budget", capacity)
}

// NewTestRepository returns a repository over a fresh in-memory store along
// with the clock, ID generator and logger it uses.
func NewTestRepository(t *testing.T) (*budget.ScenarioRepository, *ManualClock, *RecordingLogger) {
	t.Helper()
	clock := FixedClock()
	logger := NewRecordingLogger()
	repo := budget.NewScenarioRepository(NewTestStore(t), budget.NewCodec(), logger, clock, NewStubIDGenerator())
	return repo, clock, logger
}
