package budget

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Default auto-save timings.
const (
	DefaultDebounce = 2 * time.Second
	DefaultMaxWait  = 5 * time.Second
)

// SaveState is the auto-save state of a single scenario.
type SaveState int

const (
	StateIdle SaveState = iota
	StatePendingWrite
	StateWriting
	StateFailed
)

func (s SaveState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingWrite:
		return "pending"
	case StateWriting:
		return "writing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ScenarioUpdater applies a partial update to a scenario.
// *ScenarioRepository satisfies it.
type ScenarioUpdater interface {
	Update(id string, updates ScenarioUpdate) (*Scenario, error)
}

// AutoSaver coalesces rapid updates to the same scenario into one delayed
// write. The latest update wins; there is no queue. A write is forced once
// maxWait has passed since the first unflushed update, even if updates keep
// arriving. At most one write per scenario is in flight, and a failed write
// is never retried automatically.
type AutoSaver struct {
	repo     ScenarioUpdater
	clock    TimerClock
	logger   Logger
	debounce time.Duration
	maxWait  time.Duration

	mu      sync.Mutex
	entries map[string]*saveEntry
}

type saveEntry struct {
	state     SaveState
	pending   *ScenarioUpdate
	firstSeen time.Time // first Schedule since the last write started
	timer     Timer
	gen       uint64        // invalidates callbacks of superseded timers
	due       bool          // timer fired while a write was in flight
	settled   chan struct{} // closed when the in-flight write finishes
	lastErr   error
}

// NewAutoSaver creates an AutoSaver. Non-positive durations fall back to
// DefaultDebounce and DefaultMaxWait.
func NewAutoSaver(repo ScenarioUpdater, clock TimerClock, logger Logger, debounce, maxWait time.Duration) *AutoSaver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &AutoSaver{
		repo:     repo,
		clock:    clock,
		logger:   logger,
		debounce: debounce,
		maxWait:  maxWait,
		entries:  make(map[string]*saveEntry),
	}
}

// Schedule records updates as the pending write for id and (re)starts its
// debounce timer. A pending update that has not been written yet is replaced.
func (a *AutoSaver) Schedule(id string, updates ScenarioUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[id]
	if !ok {
		e = &saveEntry{}
		a.entries[id] = e
	}

	now := a.clock.Now()
	e.pending = &updates
	if e.firstSeen.IsZero() {
		e.firstSeen = now
	}
	if e.state != StateWriting {
		e.state = StatePendingWrite
	}

	delay := a.debounce
	if remaining := a.maxWait - now.Sub(e.firstSeen); remaining < delay {
		delay = max(remaining, 0)
	}
	a.armLocked(id, e, delay)
}

// Status returns the current state of id and the error of its last failed
// write, if the failure has not been superseded by a successful one.
func (a *AutoSaver) Status(id string) (SaveState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[id]
	if !ok {
		return StateIdle, nil
	}
	return e.state, e.lastErr
}

// Flush writes the pending update for id now instead of waiting for its
// timer. If a write is in flight it waits for that write first.
// Returns the error of the resulting write, or nil if nothing was pending.
func (a *AutoSaver) Flush(id string) error {
	for {
		a.mu.Lock()
		e, ok := a.entries[id]
		if !ok {
			a.mu.Unlock()
			return nil
		}
		if e.state == StateWriting {
			settled := e.settled
			a.mu.Unlock()
			<-settled
			continue
		}
		if e.pending == nil {
			a.mu.Unlock()
			return nil
		}
		updates := a.beginWriteLocked(e)
		a.mu.Unlock()

		a.write(id, updates)

		a.mu.Lock()
		err := e.lastErr
		a.mu.Unlock()
		return err
	}
}

// FlushAll flushes every scenario with a pending update, in id order.
func (a *AutoSaver) FlushAll() error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := a.Flush(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close writes every pending update now. Once it returns no timer is left
// armed for anything scheduled before the call.
func (a *AutoSaver) Close() error {
	return a.FlushAll()
}

// armLocked replaces the timer of e. Caller holds a.mu.
func (a *AutoSaver) armLocked(id string, e *saveEntry, delay time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = a.clock.AfterFunc(delay, func() { a.fire(id, gen) })
}

func (a *AutoSaver) fire(id string, gen uint64) {
	a.mu.Lock()
	e, ok := a.entries[id]
	if !ok || e.gen != gen || e.pending == nil {
		a.mu.Unlock()
		return
	}
	e.timer = nil
	if e.state == StateWriting {
		e.due = true
		a.mu.Unlock()
		return
	}
	updates := a.beginWriteLocked(e)
	a.mu.Unlock()

	a.write(id, updates)
}

// beginWriteLocked takes the pending update and moves e to Writing.
// Caller holds a.mu.
func (a *AutoSaver) beginWriteLocked(e *saveEntry) ScenarioUpdate {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	updates := *e.pending
	e.pending = nil
	e.firstSeen = time.Time{}
	e.due = false
	e.state = StateWriting
	e.settled = make(chan struct{})
	return updates
}

// write runs the repository update for id, then any update whose timer came
// due while it was running.
func (a *AutoSaver) write(id string, updates ScenarioUpdate) {
	for {
		_, err := a.repo.Update(id, updates)

		a.mu.Lock()
		e := a.entries[id]
		if err != nil {
			e.lastErr = err
			e.state = StateFailed
			a.logger.Error("auto-save failed", "id", id, "error", err)
		} else {
			e.lastErr = nil
			e.state = StateIdle
			a.logger.Debug("auto-saved scenario", "id", id)
		}

		if e.pending != nil && e.due {
			settled := e.settled
			updates = a.beginWriteLocked(e)
			e.settled = settled
			a.mu.Unlock()
			continue
		}
		if e.pending != nil {
			// Its timer is still armed; it will start the next write.
			e.state = StatePendingWrite
		}
		close(e.settled)
		a.mu.Unlock()
		return
	}
}
