package opsboard

import (
	"sync"
	"time"
)

// IdleTimer schedules a single deferred expiry callback. Reset cancels the
// pending timer and arms a fresh one, so only the most recent reset matters.
// The callback fires at most once; Stop after firing is a no-op, and firing
// after Stop cannot happen.
type IdleTimer struct {
	mu       sync.Mutex
	duration time.Duration
	onExpire func()
	timer    *time.Timer
	done     bool
}

// NewIdleTimer creates the timer and arms it immediately.
func NewIdleTimer(duration time.Duration, onExpire func()) *IdleTimer {
	t := &IdleTimer{
		duration: duration,
		onExpire: onExpire,
	}
	t.Reset()
	return t
}

// Reset cancels the pending expiry and schedules a new one a full duration
// out. No-op once the timer has fired or been stopped.
func (t *IdleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.duration, t.fire)
}

// Stop cancels the timer permanently.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *IdleTimer) fire() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.timer = nil
	t.mu.Unlock()

	t.onExpire()
}
