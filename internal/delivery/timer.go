package delivery

import "sync"

// Timer counts down whole seconds on explicit Tick calls. The host owns the
// clock (a ticker goroutine in production, direct calls in tests).
type Timer struct {
	mu        sync.Mutex
	remaining int
	active    bool
	onExpire  func()
}

// NewTimer returns an inert timer that calls onExpire at most once per Start.
func NewTimer(onExpire func()) *Timer {
	return &Timer{onExpire: onExpire}
}

// Start replaces any running countdown. A non-positive duration leaves the
// timer inert.
func (t *Timer) Start(seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds <= 0 {
		t.remaining = 0
		t.active = false
		return
	}
	t.remaining = seconds
	t.active = true
}

// Stop cancels the countdown without firing.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.active = false
	t.remaining = 0
	t.mu.Unlock()
}

// Tick advances the countdown by one second and reports whether it fired.
// The expiry callback runs outside the timer lock.
func (t *Timer) Tick() bool {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return false
	}
	t.remaining--
	if t.remaining > 0 {
		t.mu.Unlock()
		return false
	}
	t.remaining = 0
	t.active = false
	fire := t.onExpire
	t.mu.Unlock()

	if fire != nil {
		fire()
	}
	return true
}

// Remaining returns the seconds left and whether the timer is counting.
func (t *Timer) Remaining() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining, t.active
}
