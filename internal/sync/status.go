package sync

import (
	gosync "sync"
	"time"
)

// StatusKind is the kind of a status event.
type StatusKind string

const (
	StatusSyncing StatusKind = "syncing"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
	StatusOnline  StatusKind = "online"
	StatusOffline StatusKind = "offline"
)

// Status is one status event. Events are values; subscribers get copies.
type Status struct {
	Kind        StatusKind `json:"type" yaml:"type"`
	Strategy    Strategy   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Message     string     `json:"message,omitempty" yaml:"message,omitempty"`
	SyncedCount int        `json:"syncedCount,omitempty" yaml:"syncedCount,omitempty"`
	Timestamp   time.Time  `json:"timestamp" yaml:"timestamp"`
}

// subscriberQueue is the number of undelivered events kept per subscriber.
// When it is full the oldest event is dropped.
const subscriberQueue = 64

// Bus fans status events out to subscribers in publish order. A slow
// subscriber never blocks the publisher or other subscribers; it loses its
// oldest undelivered events instead.
type Bus struct {
	mu     gosync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription is a handle on a stream of events. Close it to unsubscribe.
type Subscription struct {
	// C delivers events in publish order. It is closed after Close.
	C <-chan Status

	ch     chan Status
	notify chan struct{}
	done   chan struct{}

	mu      gosync.Mutex
	queue   []Status
	dropped int
	closed  bool

	bus  *Bus
	id   uint64
	once gosync.Once
}

// Subscribe registers a new subscriber. Subscribing to a closed bus returns
// a subscription whose channel is already closed.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Status)
	s := &Subscription{
		C:      ch,
		ch:     ch,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		bus:    b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.closed = true
		close(s.done)
		close(ch)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.run()
	return s
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.enqueue(ev)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later subscriptions are closed at once.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// Close unsubscribes. Events not yet received are dropped. Idempotent.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.shutdown()
}

// Dropped returns how many events were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) enqueue(ev Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= subscriberQueue {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// run moves queued events to the subscriber channel.
func (s *Subscription) run() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// OnStatusChange calls fn for every event published after the call, in
// order, on a dedicated goroutine. The returned func unsubscribes; a
// callback already running when it is called may still complete.
func (b *Bus) OnStatusChange(fn func(Status)) (unsubscribe func()) {
	sub := b.Subscribe()
	go func() {
		for ev := range sub.C {
			fn(ev)
		}
	}()
	return sub.Close
}
