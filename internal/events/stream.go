// Package events implements the core's publish/subscribe event stream: a
// totally ordered, per-session event log fanned out to any number of
// asynchronous subscribers (console renderer, socket pusher, durable
// store) with at-most-once delivery and no stall on a slow consumer.
//
// Grounded on the teacher's internal/agent/event_sink.go BackpressureSink
// (bounded per-consumer channel, non-blocking send, atomic drop counter)
// and event_emitter.go (atomic monotonic sequencing), generalized into an
// explicit multi-subscriber Stream with subscribe/unsubscribe handles and
// the SUBSCRIBER_LAG notification SPEC_FULL.md §4.1 requires.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wireloop/agentplane/pkg/models"
)

// Handler is invoked once per event, in publish order, on the subscriber's
// dedicated worker goroutine. Handlers may block (e.g. a network write);
// doing so only delays that subscriber's own queue.
type Handler func(models.Event)

// Handle identifies a subscription for Unsubscribe.
type Handle uint64

// Config tunes the stream's buffering and backpressure behavior.
type Config struct {
	// BufferSize is the bounded channel capacity per subscriber.
	BufferSize int
	// WriteTimeout is how long publish waits on a full subscriber channel
	// before marking it slow and dropping the event for that subscriber.
	WriteTimeout time.Duration
}

// DefaultConfig returns the documented defaults (buffer 256, a small
// write-timeout so the shared publish path never stalls on one consumer).
func DefaultConfig() Config {
	return Config{BufferSize: 256, WriteTimeout: 50 * time.Millisecond}
}

type subscriber struct {
	handle  Handle
	inbox   chan models.Event
	handler Handler
	done    chan struct{}
	dropped uint64
}

// Stream is a single-session publish/subscribe event log.
type Stream struct {
	cfg Config

	mu        sync.RWMutex
	subs      map[Handle]*subscriber
	nextHandle uint64
	seq        uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a Stream with the given config. A zero Config is replaced
// with DefaultConfig.
func New(cfg Config) *Stream {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Stream{cfg: cfg, subs: make(map[Handle]*subscriber)}
}

// Subscribe registers handler to be invoked once per event from this point
// forward, in publish order. The returned Handle is used to Unsubscribe.
func (s *Stream) Subscribe(handler Handler) Handle {
	s.mu.Lock()
	s.nextHandle++
	h := Handle(s.nextHandle)
	sub := &subscriber{
		handle:  h,
		inbox:   make(chan models.Event, s.cfg.BufferSize),
		handler: handler,
		done:    make(chan struct{}),
	}
	s.subs[h] = sub
	s.mu.Unlock()

	go s.workerLoop(sub)
	return h
}

// Unsubscribe removes the handler for h. Further published events skip it;
// events already queued in its inbox at the time of the call still
// deliver before the worker exits.
func (s *Stream) Unsubscribe(h Handle) {
	s.mu.Lock()
	sub, ok := s.subs[h]
	if ok {
		delete(s.subs, h)
	}
	s.mu.Unlock()
	if ok {
		close(sub.inbox)
	}
}

func (s *Stream) workerLoop(sub *subscriber) {
	defer close(sub.done)
	for e := range sub.inbox {
		s.invoke(sub, e)
	}
}

// invoke calls the handler and isolates a panic so one bad subscriber
// cannot affect any other.
func (s *Stream) invoke(sub *subscriber, e models.Event) {
	defer func() {
		if r := recover(); r != nil {
			// Swallow: a handler panic must not affect other subscribers
			// or the publish path. A production build would log r here.
			_ = r
		}
	}()
	sub.handler(e)
}

// Publish enqueues one event for delivery to every current subscriber and
// returns immediately; it never blocks on a slow consumer beyond the
// configured WriteTimeout, and never fails visibly.
func (s *Stream) Publish(e models.Event) {
	if s.closed.Load() {
		return
	}
	e.Seq = atomic.AddUint64(&s.seq, 1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		s.deliver(sub, e, targets)
	}
}

func (s *Stream) deliver(sub *subscriber, e models.Event, all []*subscriber) {
	select {
	case sub.inbox <- e:
		return
	default:
	}

	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case sub.inbox <- e:
		return
	case <-timer.C:
		atomic.AddUint64(&sub.dropped, 1)
		s.notifyLag(sub, e.Seq, all)
	}
}

// notifyLag publishes a SUBSCRIBER_LAG event to every subscriber other
// than the one that just dropped an event. It is a best-effort,
// non-blocking notification: it never recurses into another lag wait.
func (s *Stream) notifyLag(lagged *subscriber, droppedSeq uint64, all []*subscriber) {
	lagEvent := models.NewEvent(models.EventSubscriberLag, "", map[string]any{
		"subscriber_id": uint64(lagged.handle),
		"dropped_seq":   droppedSeq,
	})
	lagEvent.Seq = atomic.AddUint64(&s.seq, 1)
	lagEvent.Timestamp = time.Now()

	for _, other := range all {
		if other.handle == lagged.handle {
			continue
		}
		select {
		case other.inbox <- lagEvent:
		default:
			// Other subscriber is also saturated; count against it too
			// rather than retrying and risking a publish-path stall.
			atomic.AddUint64(&other.dropped, 1)
		}
	}
}

// Dropped returns how many events have been dropped for the subscriber
// identified by h, or 0 if h is unknown.
func (s *Stream) Dropped(h Handle) uint64 {
	s.mu.RLock()
	sub, ok := s.subs[h]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(&sub.dropped)
}

// Drain blocks until every currently-enqueued event has been delivered to
// every current subscriber's handler, or timeout/ctx cancellation ends the
// wait first. It polls each subscriber's inbox length, which (given
// per-subscriber FIFO delivery) reaches zero only once every event queued
// at the time of the call has been handed to the handler.
func (s *Stream) Drain(ctx context.Context, timeout time.Duration) bool {
	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		return true
	}

	deadline := time.Now().Add(timeout)
	var wg sync.WaitGroup
	ok := atomic.Bool{}
	ok.Store(true)

	for _, sub := range targets {
		wg.Add(1)
		go func(sub *subscriber) {
			defer wg.Done()
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			for {
				if len(sub.inbox) == 0 {
					return
				}
				select {
				case <-time.After(time.Millisecond):
				case <-timer.C:
					ok.Store(false)
					return
				case <-ctx.Done():
					ok.Store(false)
					return
				}
			}
		}(sub)
	}
	wg.Wait()
	return ok.Load()
}

// Close refuses further publishes, waits briefly for queued events to
// drain, and releases every subscriber. Close is idempotent.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Drain(context.Background(), 2*time.Second)

		s.mu.Lock()
		subs := s.subs
		s.subs = make(map[Handle]*subscriber)
		s.mu.Unlock()

		for _, sub := range subs {
			close(sub.inbox)
		}
	})
}
