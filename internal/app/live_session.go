package app

import (
	"context"
	"sync"
	"time"

	"quiz-delivery-service/internal/delivery"
)

// LiveSession is an attempt being delivered in this process, together with
// the clients watching it.
type LiveSession struct {
	resultID int64
	userID   int64
	session  *delivery.Session
	now      func() time.Time

	mu          sync.RWMutex
	lastActive  time.Time
	subscribers map[chan delivery.View]struct{}
	owner       string
	renewedAt   time.Time
}

// NewLiveSession wraps s with the wall clock. The service builds its sessions
// through Attach; session repositories use this in their tests.
func NewLiveSession(resultID, userID int64, s *delivery.Session) *LiveSession {
	return newLiveSessionWithClock(resultID, userID, s, time.Now)
}

func newLiveSessionWithClock(resultID, userID int64, s *delivery.Session, now func() time.Time) *LiveSession {
	return &LiveSession{
		resultID:    resultID,
		userID:      userID,
		session:     s,
		now:         now,
		lastActive:  now(),
		subscribers: make(map[chan delivery.View]struct{}),
	}
}

func (l *LiveSession) ResultID() int64 { return l.resultID }

func (l *LiveSession) UserID() int64 { return l.userID }

func (l *LiveSession) State() delivery.State { return l.session.State() }

func (l *LiveSession) View() delivery.View { return l.session.View() }

// Start begins delivery and pushes the first question to subscribers.
func (l *LiveSession) Start(ctx context.Context) (delivery.View, error) {
	return l.do(func() error { return l.session.Start(ctx) })
}

func (l *LiveSession) Select(ctx context.Context, answerID int64) (delivery.View, error) {
	return l.do(func() error { return l.session.Select(ctx, answerID) })
}

func (l *LiveSession) Advance(ctx context.Context, confirm bool) (delivery.View, error) {
	return l.do(func() error { return l.session.Advance(ctx, confirm) })
}

func (l *LiveSession) Submit(ctx context.Context) (delivery.View, error) {
	return l.do(func() error { return l.session.Submit(ctx) })
}

func (l *LiveSession) Exit(ctx context.Context) (delivery.View, error) {
	return l.do(func() error { return l.session.Exit(ctx) })
}

// tick advances the session clock. Subscribers get a fresh view whenever the
// session is counting down or a timer fired.
func (l *LiveSession) tick(ctx context.Context) (bool, error) {
	fired, err := l.session.Tick(ctx)
	if fired || l.session.State() == delivery.StateInProgress {
		l.mu.Lock()
		l.broadcastLocked(l.session.View())
		l.mu.Unlock()
	}
	return fired, err
}

func (l *LiveSession) do(fn func() error) (delivery.View, error) {
	err := fn()
	view := l.session.View()

	l.mu.Lock()
	l.lastActive = l.now()
	if err == nil {
		l.broadcastLocked(view)
	}
	l.mu.Unlock()
	return view, err
}

// claim records owner as the connection driving the session.
func (l *LiveSession) claim(owner string) {
	l.mu.Lock()
	l.owner = owner
	l.renewedAt = l.now()
	l.mu.Unlock()
}

// release forgets owner unless another connection took over meanwhile.
func (l *LiveSession) release(owner string) {
	l.mu.Lock()
	if l.owner == owner {
		l.owner = ""
	}
	l.mu.Unlock()
}

// leaseDue returns the owner whose lock is older than every, if any.
func (l *LiveSession) leaseDue(every time.Duration) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.owner == "" || l.now().Sub(l.renewedAt) < every {
		return "", false
	}
	return l.owner, true
}

func (l *LiveSession) renewed(owner string) {
	l.mu.Lock()
	if l.owner == owner {
		l.renewedAt = l.now()
	}
	l.mu.Unlock()
}

// IdleFor reports how long nobody acted on the session.
func (l *LiveSession) IdleFor() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.now().Sub(l.lastActive)
}

// Subscribe returns a channel of session views, primed with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (l *LiveSession) Subscribe() (<-chan delivery.View, func()) {
	ch := make(chan delivery.View, 8)

	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	ch <- l.session.View()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subscribers[ch]; ok {
			delete(l.subscribers, ch)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

func (l *LiveSession) subscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}

// IsIdle reports whether nobody watches the session any more.
func (l *LiveSession) IsIdle() bool {
	return l.subscriberCount() == 0
}

func (l *LiveSession) broadcastLocked(v delivery.View) {
	for ch := range l.subscribers {
		select {
		case ch <- v:
		default:
			// Slow subscriber: replace its oldest pending view with the latest.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}
