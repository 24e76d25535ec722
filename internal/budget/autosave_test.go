package budget_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"budget-go/internal/budget"
	"budget-go/internal/testutil"
)

// fakeUpdater records the updates the auto-saver writes.
type fakeUpdater struct {
	clock budget.Clock

	mu          sync.Mutex
	calls       []budget.ScenarioUpdate
	at          []time.Time
	err         error
	inFlight    int
	maxInFlight int

	// When block is set, each call signals started and then waits on block.
	block   chan struct{}
	started chan struct{}
}

func (f *fakeUpdater) Update(id string, updates budget.ScenarioUpdate) (*budget.Scenario, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	block, started := f.block, f.started
	f.mu.Unlock()

	if block != nil {
		started <- struct{}{}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.calls = append(f.calls, updates)
	f.at = append(f.at, f.clock.Now())
	if f.err != nil {
		return nil, f.err
	}
	return &budget.Scenario{ID: id}, nil
}

func (f *fakeUpdater) snapshot() ([]budget.ScenarioUpdate, []time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]budget.ScenarioUpdate(nil), f.calls...), append([]time.Time(nil), f.at...)
}

func (f *fakeUpdater) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newAutoSaverFixture(t *testing.T) (*budget.AutoSaver, *fakeUpdater, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.FixedClock()
	updater := &fakeUpdater{clock: clock}
	saver := budget.NewAutoSaver(updater, clock, budget.NewNopLogger(), 2*time.Second, 5*time.Second)
	return saver, updater, clock
}

func named(name string) budget.ScenarioUpdate {
	return budget.ScenarioUpdate{Name: &name}
}

func TestAutoSaver_CoalescesRapidUpdates(t *testing.T) {
	saver, updater, clock := newAutoSaverFixture(t)

	saver.Schedule("s1", named("A"))
	clock.Advance(500 * time.Millisecond)
	saver.Schedule("s1", named("B"))
	clock.Advance(500 * time.Millisecond)
	saver.Schedule("s1", named("C"))

	if state, _ := saver.Status("s1"); state != budget.StatePendingWrite {
		t.Errorf("Status() = %v, want %v", state, budget.StatePendingWrite)
	}

	clock.Advance(1999 * time.Millisecond)
	if calls, _ := updater.snapshot(); len(calls) != 0 {
		t.Fatalf("wrote %d times before the debounce elapsed", len(calls))
	}

	clock.Advance(time.Millisecond)
	calls, _ := updater.snapshot()
	if len(calls) != 1 {
		t.Fatalf("got %d writes, want 1", len(calls))
	}
	if *calls[0].Name != "C" {
		t.Errorf("written name = %q, want %q", *calls[0].Name, "C")
	}
	if state, err := saver.Status("s1"); state != budget.StateIdle || err != nil {
		t.Errorf("Status() = %v, %v; want idle, nil", state, err)
	}
}

func TestAutoSaver_MaxWaitForcesWrite(t *testing.T) {
	saver, updater, clock := newAutoSaverFixture(t)
	start := clock.Now()

	// A schedule every second never lets the 2s debounce elapse.
	for i := 0; i < 5; i++ {
		saver.Schedule("s1", named(string(rune('a'+i))))
		clock.Advance(time.Second)
	}

	calls, at := updater.snapshot()
	if len(calls) != 1 {
		t.Fatalf("got %d writes, want 1", len(calls))
	}
	if !at[0].Equal(start.Add(5 * time.Second)) {
		t.Errorf("write at %v, want %v", at[0].Sub(start), 5*time.Second)
	}
	if *calls[0].Name != "e" {
		t.Errorf("written name = %q, want %q", *calls[0].Name, "e")
	}
}

func TestAutoSaver_IndependentScenarios(t *testing.T) {
	saver, updater, clock := newAutoSaverFixture(t)

	saver.Schedule("s1", named("one"))
	clock.Advance(time.Second)
	saver.Schedule("s2", named("two"))
	clock.Advance(time.Second)

	calls, _ := updater.snapshot()
	if len(calls) != 1 || *calls[0].Name != "one" {
		t.Fatalf("after 2s calls = %d, want only s1 written", len(calls))
	}

	clock.Advance(time.Second)
	calls, _ = updater.snapshot()
	if len(calls) != 2 || *calls[1].Name != "two" {
		t.Errorf("after 3s calls = %d, want s2 written", len(calls))
	}
}

func TestAutoSaver_FailureIsNotRetried(t *testing.T) {
	saver, updater, clock := newAutoSaverFixture(t)
	boom := errors.New("disk full")
	updater.setErr(boom)

	saver.Schedule("s1", named("A"))
	clock.Advance(2 * time.Second)

	state, err := saver.Status("s1")
	if state != budget.StateFailed {
		t.Errorf("Status() = %v, want %v", state, budget.StateFailed)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Status() error = %v, want %v", err, boom)
	}

	clock.Advance(time.Minute)
	if calls, _ := updater.snapshot(); len(calls) != 1 {
		t.Errorf("got %d writes, failed write was retried", len(calls))
	}

	// The next edit starts a fresh attempt.
	updater.setErr(nil)
	saver.Schedule("s1", named("B"))
	clock.Advance(2 * time.Second)
	if state, err := saver.Status("s1"); state != budget.StateIdle || err != nil {
		t.Errorf("Status() = %v, %v; want idle, nil", state, err)
	}
}

func TestAutoSaver_OneWriteInFlight(t *testing.T) {
	clock := testutil.FixedClock()
	updater := &fakeUpdater{
		clock:   clock,
		block:   make(chan struct{}),
		started: make(chan struct{}, 2),
	}
	saver := budget.NewAutoSaver(updater, clock, budget.NewNopLogger(), 2*time.Second, 5*time.Second)

	saver.Schedule("s1", named("first"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		clock.Advance(2 * time.Second)
	}()
	<-updater.started

	if state, _ := saver.Status("s1"); state != budget.StateWriting {
		t.Errorf("Status() = %v, want %v", state, budget.StateWriting)
	}

	// Its timer fires while the first write is still running.
	saver.Schedule("s1", named("second"))
	clock.Advance(2 * time.Second)
	if calls, _ := updater.snapshot(); len(calls) != 0 {
		t.Fatalf("got %d completed writes while blocked", len(calls))
	}

	updater.block <- struct{}{}
	<-updater.started
	updater.block <- struct{}{}
	<-done

	calls, _ := updater.snapshot()
	if len(calls) != 2 {
		t.Fatalf("got %d writes, want 2", len(calls))
	}
	if *calls[0].Name != "first" || *calls[1].Name != "second" {
		t.Errorf("writes = [%s %s], want [first second]", *calls[0].Name, *calls[1].Name)
	}
	updater.mu.Lock()
	maxInFlight := updater.maxInFlight
	updater.mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("max concurrent writes = %d, want 1", maxInFlight)
	}
}

func TestAutoSaver_Flush(t *testing.T) {
	saver, updater, clock := newAutoSaverFixture(t)

	if err := saver.Flush("nothing"); err != nil {
		t.Errorf("Flush() with nothing pending error = %v", err)
	}

	saver.Schedule("s1", named("now"))
	if err := saver.Flush("s1"); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	calls, _ := updater.snapshot()
	if len(calls) != 1 {
		t.Fatalf("got %d writes, want 1", len(calls))
	}
	if clock.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d after Flush, want 0", clock.PendingTimers())
	}

	clock.Advance(time.Minute)
	if calls, _ := updater.snapshot(); len(calls) != 1 {
		t.Errorf("got %d writes, flushed update was written again", len(calls))
	}
}

func TestAutoSaver_FlushReportsFailure(t *testing.T) {
	saver, updater, _ := newAutoSaverFixture(t)
	updater.setErr(errors.New("quota"))

	saver.Schedule("s1", named("x"))
	if err := saver.Flush("s1"); err == nil {
		t.Error("Flush() error = nil, want the write failure")
	}
}

func TestAutoSaver_Close(t *testing.T) {
	saver, updater, clock := newAutoSaverFixture(t)
	updater.setErr(nil)

	saver.Schedule("s2", named("b"))
	saver.Schedule("s1", named("a"))
	if err := saver.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	calls, _ := updater.snapshot()
	if len(calls) != 2 {
		t.Fatalf("got %d writes, want 2", len(calls))
	}
	if *calls[0].Name != "a" || *calls[1].Name != "b" {
		t.Errorf("writes = [%s %s], want id order", *calls[0].Name, *calls[1].Name)
	}
	if clock.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d after Close, want 0", clock.PendingTimers())
	}
}

func TestAutoSaver_WithRepository(t *testing.T) {
	repo, clock, _ := testutil.NewTestRepository(t)
	s, err := repo.Create(budget.ScenarioInput{Name: "draft"})
	if err != nil {
		t.Fatal(err)
	}

	saver := budget.NewAutoSaver(repo, clock, budget.NewNopLogger(), 0, 0)
	saver.Schedule(s.ID, named("typed"))
	saver.Schedule(s.ID, named("typed more"))
	clock.Advance(budget.DefaultDebounce)

	got, err := repo.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "typed more" {
		t.Errorf("Name = %q, want %q", got.Name, "typed more")
	}
	if !got.UpdatedAt.After(s.UpdatedAt) {
		t.Errorf("UpdatedAt %v not after %v", got.UpdatedAt, s.UpdatedAt)
	}
}

func TestAutoSaver_UnknownScenarioFails(t *testing.T) {
	repo, clock, _ := testutil.NewTestRepository(t)
	saver := budget.NewAutoSaver(repo, clock, budget.NewNopLogger(), time.Second, 2*time.Second)

	saver.Schedule("ghost", named("x"))
	clock.Advance(time.Second)

	state, err := saver.Status("ghost")
	if state != budget.StateFailed || !errors.Is(err, budget.ErrNotFound) {
		t.Errorf("Status() = %v, %v; want failed, ErrNotFound", state, err)
	}
}
