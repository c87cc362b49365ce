package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/logging"
	"quiz-delivery-service/internal/telemetry"
)

const (
	defaultPoolSize  = 1024
	defaultWorkers   = 2
	defaultQueueSize = 256
	defaultTimeout   = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Publisher is the producing side of the bus, narrowed for callers that only emit.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Lane picks the goroutines a handler runs on.
type Lane int

const (
	// Inline handlers share a bounded pool; Publish waits for a free slot.
	Inline Lane = iota
	// Background handlers are queued for a fixed set of workers. Publish never
	// waits on them and drops the event when the queue is full.
	Background
)

func (l Lane) String() string {
	if l == Background {
		return "background"
	}
	return "inline"
}

type SubscribeOption func(*subscription)

// OnLane moves a handler off the inline pool. Use Background for handlers
// that talk to the network.
func OnLane(l Lane) SubscribeOption {
	return func(s *subscription) { s.lane = l }
}

// WithTimeout bounds a single handler call.
func WithTimeout(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type subscription struct {
	handler Handler
	lane    Lane
	timeout time.Duration
}

type job struct {
	ctx   context.Context
	sub   subscription
	event Event
}

type Config struct {
	// PoolSize caps concurrent inline handlers.
	PoolSize int
	// Workers drain the background queue.
	Workers   int
	QueueSize int
}

// Bus is an in-memory event bus.
type Bus struct {
	pool    chan struct{}
	queue   chan job
	inline  sync.WaitGroup
	workers sync.WaitGroup

	mu      sync.RWMutex
	subs    map[string][]subscription
	stopped bool
}

// NewBus starts the background workers. Zero config values fall back to
// defaults. Call Stop to drain both lanes.
func NewBus(c Config) *Bus {
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	b := &Bus{
		pool:  make(chan struct{}, c.PoolSize),
		queue: make(chan job, c.QueueSize),
		subs:  make(map[string][]subscription),
	}
	b.workers.Add(c.Workers)
	for i := 0; i < c.Workers; i++ {
		go b.work()
	}
	return b
}

// Subscribe registers h for events called name. Handlers run inline with the
// default timeout unless opts say otherwise.
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscribeOption) {
	s := subscription{handler: h, lane: Inline, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], s)
}

// Publish hands e to every handler subscribed to its name. Events published
// after Stop are dropped.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		b.drop(ctx, e, "stopped")
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, s := range b.subs[e.Name()] {
		if s.lane == Background {
			b.enqueue(ctx, s, e)
			continue
		}
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) enqueue(ctx context.Context, s subscription, e Event) {
	select {
	case b.queue <- job{ctx: ctx, sub: s, event: e}:
	default:
		b.drop(ctx, e, "queue full")
	}
}

func (b *Bus) drop(ctx context.Context, e Event, reason string) {
	telemetry.EventsDropped.WithLabelValues(e.Name()).Inc()
	logging.WithContext(ctx).WithFields(logrus.Fields{
		"event":  e.Name(),
		"reason": reason,
	}).Warn("event: dropped")
}

func (b *Bus) dispatch(ctx context.Context, s subscription, e Event) {
	b.inline.Add(1)
	b.pool <- struct{}{}

	go func() {
		defer func() {
			<-b.pool
			b.inline.Done()
		}()
		run(ctx, s, e)
	}()
}

func (b *Bus) work() {
	defer b.workers.Done()
	for j := range b.queue {
		run(j.ctx, j.sub, j.event)
	}
}

func run(ctx context.Context, s subscription, e Event) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	log := logging.WithContext(ctx).WithFields(logrus.Fields{
		"event": e.Name(),
		"lane":  s.lane.String(),
	})
	defer func() {
		if r := recover(); r != nil {
			log.WithError(fmt.Errorf("%v, stack: %s", r, debug.Stack())).Error("event: handler panic")
		}
	}()

	if err := s.handler(ctx, e); err != nil {
		log.WithError(err).Error("event: handle event failed")
	}
}

// Stop refuses new events, then waits for inline handlers and the queued
// background work. It is safe to call more than once.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.queue)
	b.mu.Unlock()

	b.inline.Wait()
	b.workers.Wait()
}
