// Package timeutil provides a stoppable, resettable timer with introspectable state.
package timeutil

import (
	"sync"
	"time"
)

// TimerState represents the current state of a [Timer].
type TimerState string

const (
	TimerStateRunning TimerState = "running"
	TimerStateStopped TimerState = "stopped"
	TimerStateExpired TimerState = "expired"
)

// Timer wraps [time.Timer] and tracks its start time, duration and state.
// The callback runs at most once per start; Reset starts a new run.
type Timer struct {
	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	state    TimerState
	run      uint64
	callback func()
	real     *time.Timer
}

// AfterFunc starts a timer that calls f in its own goroutine after d elapses.
func AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{callback: f}
	t.mu.Lock()
	t.startUnsafe(d)
	t.mu.Unlock()
	return t
}

func (t *Timer) startUnsafe(d time.Duration) {
	t.run++
	run := t.run
	t.start = time.Now()
	t.duration = d
	t.state = TimerStateRunning
	t.real = time.AfterFunc(d, func() { t.fire(run) })
}

func (t *Timer) fire(run uint64) {
	t.mu.Lock()
	if t.run != run || t.state != TimerStateRunning {
		t.mu.Unlock()
		return
	}
	t.state = TimerStateExpired
	cb := t.callback
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Stop prevents the timer from firing.
// It returns false if the timer already expired or was stopped.
// Calling Stop more than once is safe.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return false
	}
	t.state = TimerStateStopped
	if t.real != nil {
		t.real.Stop()
	}
	return true
}

// Reset stops the timer and starts it again with duration d.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.real != nil {
		t.real.Stop()
	}
	t.startUnsafe(d)
}

func (t *Timer) State() TimerState {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) Duration() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Left returns the time remaining until expiration.
// It is zero for stopped or expired timers.
func (t *Timer) Left() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return 0
	}
	return max(t.duration-time.Since(t.start), 0)
}
