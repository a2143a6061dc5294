package engine

import (
	"sync"

	"github.com/Aman-CERP/notegraph/internal/links"
)

// State is the synchronization state of one page id.
type State int

const (
	// Absent: no page, no index entries.
	Absent State = iota
	// Writing: the page store holds a new version that the indices do not yet reflect.
	Writing
	// Consistent: both indices reflect the stored version.
	Consistent
	// Deleting: the page is gone from the store and is being removed from the indices.
	Deleting
	// Degraded: one index update failed and is being retried in the background.
	Degraded
	// Inconsistent: retries were exhausted. Needs Retry or Repair.
	Inconsistent
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Writing:
		return "writing"
	case Consistent:
		return "consistent"
	case Deleting:
		return "deleting"
	case Degraded:
		return "degraded"
	case Inconsistent:
		return "inconsistent"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Side names an index that can fall behind.
type Side string

// Index sides.
const (
	SideGraph Side = "graph"
	SideText  Side = "text"
)

// entry tracks a page id that is not in a steady state.
// Steady ids (Absent, Consistent) have no entry.
type entry struct {
	state   State
	version int64
	deleted bool
	content string
	refs    []links.Ref

	pendingGraph bool
	pendingText  bool

	token    string
	attempts int
	lastErr  error

	// done is closed when the entry leaves the table or becomes Inconsistent.
	done chan struct{}
}

func newEntry(state State, version int64) *entry {
	return &entry{state: state, version: version, done: make(chan struct{})}
}

func (e *entry) pendingSides() []Side {
	var sides []Side
	if e.pendingGraph {
		sides = append(sides, SideGraph)
	}
	if e.pendingText {
		sides = append(sides, SideText)
	}
	return sides
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed when no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (k *keyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
