package ipc

import (
	"sync"
	"sync/atomic"

	"github.com/empower1/nodefabric/internal/telemetry"
)

// DefaultQueueCapacity is the default bounded queue size for a new
// subscription when the caller does not specify one.
const DefaultQueueCapacity = 256

// Filter selects which events a Subscription receives: the set of topics
// (empty means "all") and, optionally, the set of producing subsystem ids
// (empty means "all").
type Filter struct {
	Topics  map[Topic]struct{}
	Sources map[SubsystemID]struct{}
}

// NewFilter builds a Filter from variadic topics and sources; pass none of
// either to match everything.
func NewFilter(topics []Topic, sources []SubsystemID) Filter {
	f := Filter{}
	if len(topics) > 0 {
		f.Topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			f.Topics[t] = struct{}{}
		}
	}
	if len(sources) > 0 {
		f.Sources = make(map[SubsystemID]struct{}, len(sources))
		for _, s := range sources {
			f.Sources[s] = struct{}{}
		}
	}
	return f
}

func (f Filter) matches(event Event) bool {
	if f.Topics != nil {
		if _, ok := f.Topics[event.Payload.Topic()]; !ok {
			return false
		}
	}
	if f.Sources != nil {
		if _, ok := f.Sources[event.SenderID]; !ok {
			return false
		}
	}
	return true
}

// RecvResult is what Subscription.Recv yields: either an Event, or a
// Lagged(n) signal reporting that n events were dropped under
// back-pressure since the last signal.
type RecvResult struct {
	Event  Event
	Lagged uint64
}

// Subscription is a bounded, filtered view onto the bus. A slow consumer
// never blocks the producer: the oldest buffered event is dropped to make
// room for the newest, and the drop count surfaces as a Lagged signal.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan Event
	lag    atomic.Uint64
	seen   atomic.Uint64 // last lag count already reported via Recv
	closed atomic.Bool
	done   chan struct{}
}

func newSubscription(id uint64, filter Filter, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Subscription{
		id:     id,
		filter: filter,
		ch:     make(chan Event, capacity),
		done:   make(chan struct{}),
	}
}

// deliver attempts a non-blocking send, evicting the oldest buffered event
// first if the queue is full. Producers never block here.
func (s *Subscription) deliver(event Event) {
	select {
	case s.ch <- event:
		return
	default:
	}
	select {
	case <-s.ch:
		s.lag.Add(1)
		telemetry.EventsDropped.Inc()
	default:
	}
	select {
	case s.ch <- event:
	default:
		s.lag.Add(1)
		telemetry.EventsDropped.Inc()
	}
}

// Recv blocks until the next Event or Lagged signal is available, or the
// subscription is closed (ok == false).
func (s *Subscription) Recv() (RecvResult, bool) {
	if cur, prev := s.lag.Load(), s.seen.Load(); cur > prev {
		s.seen.Store(cur)
		return RecvResult{Lagged: cur - prev}, true
	}
	select {
	case e, ok := <-s.ch:
		if !ok {
			return RecvResult{}, false
		}
		return RecvResult{Event: e}, true
	case <-s.done:
		// Drain whatever remains before reporting closure, so no event
		// published before Close is silently lost.
		select {
		case e, ok := <-s.ch:
			if ok {
				return RecvResult{Event: e}, true
			}
		default:
		}
		return RecvResult{}, false
	}
}

// C exposes the raw channel for callers that want to select alongside
// other work (e.g. a shutdown context) instead of calling Recv in a loop.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
		close(s.ch)
	}
}

// Bus is the in-process multi-producer/multi-consumer publish/subscribe
// fabric. Every inter-subsystem broadcast (BlockValidated,
// MerkleRootComputed, ...) is published here; subscribers filter by topic
// and source.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe allocates a bounded queue matching filter.
func (b *Bus) Subscribe(filter Filter, capacity int) *Subscription {
	id := b.nextID.Add(1)
	sub := newSubscription(id, filter, capacity)
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe closes sub and removes it from the bus. Safe to call more
// than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

// Publish multicasts event to every subscription whose filter matches it,
// returning the number of receivers reached. Events from a single
// producer are observed in publish order by each subscriber; no
// cross-producer ordering is promised.
func (b *Bus) Publish(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	receivers := 0
	for _, sub := range b.subs {
		if sub.filter.matches(event) {
			sub.deliver(event)
			receivers++
		}
	}
	telemetry.EventsPublished.WithLabelValues(string(event.Payload.Topic())).Inc()
	return receivers
}

// Shutdown closes every live subscription. Call once, at process
// shutdown.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
}
