package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiagofranzen/pi-traffic-light/errors"
)

// slot holds the latest snapshot of one monitor. The snapshot pointer is
// swapped atomically so a reader never observes a torn snapshot.
type slot struct {
	maxAge time.Duration
	snap   atomic.Pointer[Snapshot]
}

// Store is the single exchange point between monitors and the controller.
// Each monitor writes only its own registered slot; the controller reads a
// consistent Set of fresh snapshots without blocking any monitor.
type Store struct {
	mu    sync.RWMutex // guards the slot map shape, not the snapshots
	slots map[string]*slot
}

// NewStore creates an empty snapshot store
func NewStore() *Store {
	return &Store{slots: make(map[string]*slot)}
}

// Register creates the slot for a monitor. maxAge bounds how long a snapshot
// feeds mode selection; zero means snapshots never go stale.
func (st *Store) Register(name string, maxAge time.Duration) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "Register", "monitor name validation")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.slots[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("monitor %q already registered", name),
			"Store", "Register", "duplicate slot check")
	}
	st.slots[name] = &slot{maxAge: maxAge}
	return nil
}

// Publish stores the latest snapshot for its monitor. Only the owning
// monitor's runner may publish to a slot.
func (st *Store) Publish(snap Snapshot) error {
	st.mu.RLock()
	sl, ok := st.slots[snap.Monitor]
	st.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("monitor %q has no registered slot", snap.Monitor),
			"Store", "Publish", "slot lookup")
	}
	sl.snap.Store(&snap)
	return nil
}

// Latest returns the last published snapshot for a monitor, stale or not
func (st *Store) Latest(name string) (Snapshot, bool) {
	st.mu.RLock()
	sl, ok := st.slots[name]
	st.mu.RUnlock()

	if !ok {
		return Snapshot{}, false
	}
	p := sl.snap.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// Current returns the set of fresh snapshots at now. Stale and unavailable
// monitors are excluded; the controller consumes whatever is left.
func (st *Store) Current(now time.Time) Set {
	st.mu.RLock()
	defer st.mu.RUnlock()

	fresh := make(map[string]Snapshot, len(st.slots))
	for name, sl := range st.slots {
		p := sl.snap.Load()
		if p == nil {
			continue
		}
		if p.Stale(now, sl.maxAge) {
			continue
		}
		fresh[name] = *p
	}
	return NewSet(fresh)
}

// Describe returns every registered monitor's latest snapshot together with
// its staleness, for the status endpoint.
func (st *Store) Describe(now time.Time) map[string]SnapshotStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make(map[string]SnapshotStatus, len(st.slots))
	for name, sl := range st.slots {
		status := SnapshotStatus{Stale: true}
		if p := sl.snap.Load(); p != nil {
			status.Snapshot = *p
			status.Stale = p.Stale(now, sl.maxAge)
		} else {
			status.Snapshot = Unavailable(name, now)
		}
		out[name] = status
	}
	return out
}

// SnapshotStatus pairs a snapshot with its computed staleness
type SnapshotStatus struct {
	Snapshot Snapshot `json:"snapshot"`
	Stale    bool     `json:"stale"`
}
