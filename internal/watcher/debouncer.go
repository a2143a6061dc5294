package watcher

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Debouncer coalesces events per path and emits them in batches once no new
// event has arrived for the debounce window.
//
//	create + modify = create
//	create + delete = nothing
//	modify + delete = delete
//	delete + create = modify
type Debouncer struct {
	window time.Duration
	output chan []Event

	mu      sync.Mutex
	pending map[string]pendingEvent
	timer   *time.Timer
	stopped bool
	stopCh  chan struct{}
}

type pendingEvent struct {
	event   Event
	firstOp Operation
}

// NewDebouncer creates a debouncer whose Output holds up to buffer batches.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	return &Debouncer{
		window:  window,
		output:  make(chan []Event, max(buffer, 1)),
		pending: make(map[string]pendingEvent),
		stopCh:  make(chan struct{}),
	}
}

// Add records ev and restarts the quiet window.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		merged, keep := coalesce(prev, ev)
		if keep {
			d.pending[ev.Path] = pendingEvent{event: merged, firstOp: prev.firstOp}
		} else {
			delete(d.pending, ev.Path)
		}
	} else {
		d.pending[ev.Path] = pendingEvent{event: ev, firstOp: ev.Op}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges next into prev. keep is false when the two cancel out.
func coalesce(prev pendingEvent, next Event) (merged Event, keep bool) {
	switch prev.firstOp {
	case OpCreate:
		switch next.Op {
		case OpModify:
			next.Op = OpCreate
			return next, true
		case OpDelete:
			return Event{}, false
		}
	case OpDelete:
		if next.Op == OpCreate {
			next.Op = OpModify
			return next, true
		}
	}
	return next, true
}

// flush emits pending events sorted by path. Delivery blocks until the
// consumer reads the batch or the debouncer stops.
func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(d.pending))
	for _, pe := range d.pending {
		batch = append(batch, pe.event)
	}
	d.pending = make(map[string]pendingEvent)
	d.mu.Unlock()

	slices.SortFunc(batch, func(a, b Event) int { return cmp.Compare(a.Path, b.Path) })
	select {
	case d.output <- batch:
	case <-d.stopCh:
	}
}

// Output returns the batch channel. It is never closed; stop reading once
// the debouncer is stopped.
func (d *Debouncer) Output() <-chan []Event {
	return d.output
}

// Pending returns the number of paths waiting for their window to close.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop discards pending events. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
}
