package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Components that
// only read time depend on it rather than on a concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
	// elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how a TimeController paces simulation time.
type Mode int

const (
	// RealTime advances one Tick per Tick/Speed of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances by Tick as fast as the listeners allow.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case Accelerated:
		return "accelerated"
	default:
		return "realtime"
	}
}

// ParseMode maps "realtime" or "accelerated" to a Mode. Anything else,
// including the batch clock of the CLI, selects RealTime.
func ParseMode(s string) Mode {
	if s == Accelerated.String() {
		return Accelerated
	}
	return RealTime
}

type timer struct {
	at time.Time
	ch chan time.Time
}

// TimeController drives simulation time and calls its listeners on every
// tick. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Speed is the number of simulated seconds per wall-clock second in
	// RealTime mode. Values below or equal to zero mean 1.
	Speed float64

	currentTime time.Time

	listeners []func(time.Time)
	timers    []timer
}

// NewTimeController returns a controller at start advancing by tick.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		Speed:       1,
		currentTime: start,
	}
}

// wallTick is the wall-clock period between RealTime ticks.
func (tc *TimeController) wallTick() time.Duration {
	if tc.Speed <= 0 {
		return tc.Tick
	}
	d := time.Duration(float64(tc.Tick) / tc.Speed)
	if d <= 0 {
		d = time.Nanosecond
	}
	return d
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the clock to t without notifying listeners. Due timers
// fire.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.dueLocked(t)
	tc.mu.Unlock()
	fire(due, t)
}

// After returns a channel that receives the simulation time once d has
// elapsed. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	at := tc.currentTime.Add(d)
	if d <= 0 {
		now := tc.currentTime
		tc.mu.Unlock()
		ch <- now
		return ch
	}
	tc.timers = append(tc.timers, timer{at: at, ch: ch})
	tc.mu.Unlock()
	return ch
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller for duration in a separate goroutine and
// returns a channel closed when it stops. A non-positive duration runs
// forever.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	return tc.RunContext(context.Background(), duration)
}

// RunContext is Start with cancellation. The last tick is shortened so the
// clock stops exactly at StartTime+duration.
func (tc *TimeController) RunContext(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		now := tc.StartTime
		tc.currentTime = now
		tc.mu.Unlock()
		end := now.Add(duration)

		var wall <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.wallTick())
			defer ticker.Stop()
			wall = ticker.C
		}

		for duration <= 0 || now.Before(end) {
			if wall != nil {
				select {
				case <-ctx.Done():
					return
				case <-wall:
				}
			} else if ctx.Err() != nil {
				return
			}

			now = now.Add(tc.Tick)
			if duration > 0 && now.After(end) {
				now = end
			}
			tc.advance(now)
		}
	}()
	return done
}

func (tc *TimeController) advance(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	listeners := append([]func(time.Time){}, tc.listeners...)
	due := tc.dueLocked(t)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	fire(due, t)
}

// dueLocked removes and returns the timers due at t. Caller must hold tc.mu.
func (tc *TimeController) dueLocked(t time.Time) []timer {
	var due []timer
	kept := tc.timers[:0]
	for _, tm := range tc.timers {
		if !tm.at.After(t) {
			due = append(due, tm)
			continue
		}
		kept = append(kept, tm)
	}
	tc.timers = kept
	return due
}

func fire(due []timer, t time.Time) {
	for _, tm := range due {
		tm.ch <- t
	}
}
