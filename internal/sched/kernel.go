// Package sched provides the discrete-event kernel that drives simulated
// time. Callbacks run one at a time, in time order, FIFO among events
// scheduled for the same instant.
package sched

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Scheduler schedules callbacks at simulated times.
type Scheduler interface {
	// Schedule registers f to run at simulated time at. Times in the past
	// run at the current time. The returned id can be passed to Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. It is a no-op if the id is unknown or
	// the event already ran.
	Cancel(id string)

	// Now returns the current simulated time.
	Now() time.Time
}

// Metrics receives kernel activity. *observability.SchedulerCollector
// implements it.
type Metrics interface {
	SetPendingEvents(n int)
	IncEventsExecuted()
	IncEventsCancelled()
	ObserveHandler(d time.Duration)
}

type event struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Kernel is the Scheduler implementation used by simulations and tests.
// Time only moves when the owner calls AdvanceTo or Step.
type Kernel struct {
	mu      sync.Mutex
	epoch   time.Time
	now     time.Time
	counter uint64

	// ordered by when, then by insertion
	events []*event
	index  map[string]*event

	metrics Metrics
}

// KernelOption configures a Kernel.
type KernelOption func(*Kernel)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) KernelOption {
	return func(k *Kernel) { k.metrics = m }
}

// NewKernel creates a kernel whose clock starts at start.
func NewKernel(start time.Time, opts ...KernelOption) *Kernel {
	k := &Kernel{
		epoch: start,
		now:   start,
		index: make(map[string]*event),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Epoch returns the start time of the kernel.
func (k *Kernel) Epoch() time.Time { return k.epoch }

// Now returns the current simulated time.
func (k *Kernel) Now() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// Elapsed returns the simulated seconds since the epoch.
func (k *Kernel) Elapsed() float64 {
	return k.Now().Sub(k.epoch).Seconds()
}

// Schedule registers f to run at the given time.
func (k *Kernel) Schedule(at time.Time, f func()) (id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if at.Before(k.now) {
		at = k.now
	}

	k.counter++
	id = fmt.Sprintf("ev-%d", k.counter)
	ev := &event{id: id, when: at, f: f}

	// Insert after any event with the same time to keep FIFO order.
	idx := sort.Search(len(k.events), func(i int) bool {
		return k.events[i].when.After(at)
	})
	k.events = append(k.events, nil)
	copy(k.events[idx+1:], k.events[idx:])
	k.events[idx] = ev

	k.index[id] = ev
	k.reportPendingLocked()
	return id
}

// After schedules f to run d after the current time.
func (k *Kernel) After(d time.Duration, f func()) string {
	return k.Schedule(k.Now().Add(d), f)
}

// Cancel drops a pending event.
func (k *Kernel) Cancel(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	ev, ok := k.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(k.index, id)
	// Removal from k.events is lazy; popLocked skips cancelled events.
	if k.metrics != nil {
		k.metrics.IncEventsCancelled()
	}
	k.reportPendingLocked()
}

// Len returns the number of pending, non-cancelled events.
func (k *Kernel) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.index)
}

// Pending reports whether the event with the given id is still queued.
func (k *Kernel) Pending(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.index[id]
	return ok
}

// Next returns the time of the earliest pending event.
func (k *Kernel) Next() (time.Time, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, ev := range k.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

// popLocked removes and returns the earliest pending event due at or
// before limit. Caller must hold k.mu.
func (k *Kernel) popLocked(limit time.Time) *event {
	for len(k.events) > 0 {
		ev := k.events[0]
		if ev.cancelled {
			k.events = k.events[1:]
			continue
		}
		if ev.when.After(limit) {
			return nil
		}
		k.events = k.events[1:]
		delete(k.index, ev.id)
		return ev
	}
	return nil
}

// run moves the clock to the event time and executes the callback outside
// the lock so handlers may schedule and cancel.
func (k *Kernel) run(ev *event) {
	k.mu.Lock()
	if ev.when.After(k.now) {
		k.now = ev.when
	}
	k.reportPendingLocked()
	k.mu.Unlock()

	if ev.f == nil {
		return
	}
	start := time.Now()
	ev.f()
	if k.metrics != nil {
		k.metrics.IncEventsExecuted()
		k.metrics.ObserveHandler(time.Since(start))
	}
}

// RunDue executes every event due at or before the current time and
// returns how many ran.
func (k *Kernel) RunDue() int {
	ran := 0
	for {
		k.mu.Lock()
		ev := k.popLocked(k.now)
		k.mu.Unlock()
		if ev == nil {
			return ran
		}
		k.run(ev)
		ran++
	}
}

// AdvanceTo runs every event due at or before t, each at its own time, and
// leaves the clock at t. Time never goes backwards.
func (k *Kernel) AdvanceTo(t time.Time) int {
	ran := 0
	for {
		k.mu.Lock()
		if t.Before(k.now) {
			k.mu.Unlock()
			return ran
		}
		ev := k.popLocked(t)
		if ev == nil {
			k.now = t
			k.mu.Unlock()
			return ran
		}
		k.mu.Unlock()
		k.run(ev)
		ran++
	}
}

// Advance moves the clock forward by d.
func (k *Kernel) Advance(d time.Duration) int {
	return k.AdvanceTo(k.Now().Add(d))
}

// Step runs the earliest pending event, moving the clock to its time. It
// returns false when nothing is pending.
func (k *Kernel) Step() bool {
	k.mu.Lock()
	var ev *event
	for len(k.events) > 0 {
		head := k.events[0]
		k.events = k.events[1:]
		if head.cancelled {
			continue
		}
		delete(k.index, head.id)
		ev = head
		break
	}
	k.mu.Unlock()
	if ev == nil {
		return false
	}
	k.run(ev)
	return true
}

func (k *Kernel) reportPendingLocked() {
	if k.metrics != nil {
		k.metrics.SetPendingEvents(len(k.index))
	}
}
