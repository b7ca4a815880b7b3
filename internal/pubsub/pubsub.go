// Package pubsub is a small typed publish/subscribe bus used to surface
// protocol events (leader changes, state machine updates, membership) to host
// code without an untyped event bus.
package pubsub

import (
	"sync"
	"sync/atomic"
)

// EventType is the kind of event subscribers are listening for. Each package
// that publishes events defines its own constants.
type EventType int

// SubscriberID identifies a single subscription. It is returned by Subscribe
// and required to Unsubscribe.
type SubscriberID uint64

var nextSubscriberID atomic.Uint64

// Event is a generic event with compile-time type safety for payloads. Each
// instantiation is a distinct concrete type (Event[string] != Event[int]).
type Event[T any] struct {
	Type    EventType
	Payload T
}

// SubscriptionOptions configures delivery behavior for one subscriber.
type SubscriptionOptions struct {
	// Blocking makes the bus wait for the subscriber's channel when it is
	// full. This guarantees delivery but lets one slow subscriber stall the
	// whole bus; leave it false unless you know better.
	Blocking bool
}

// subscriber is the type-erased registry entry. Typed channels of different
// Event[T] instantiations cannot share a map, so we store closures with a
// homogeneous signature that capture the typed channel instead. The type
// assertion happens once here, not at every receive site.
type subscriber struct {
	send    func(eventType EventType, payload any) bool
	close   func()
	opts    SubscriptionOptions
	dropped atomic.Uint64
}

type envelope struct {
	eventType EventType
	payload   any
}

// Bus implements the publish/subscribe pattern and is safe for concurrent
// use. Publishing goes through a buffered channel so publishers never wait on
// subscriber fan-out.
type Bus struct {
	mu sync.RWMutex
	wg sync.WaitGroup

	registry map[EventType]map[SubscriberID]*subscriber

	publishCh chan envelope
	closed    atomic.Bool
}

// New creates a Bus and starts its delivery goroutine.
func New() *Bus {
	b := &Bus{
		registry:  make(map[EventType]map[SubscriberID]*subscriber),
		publishCh: make(chan envelope, 128),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers ch to receive events of the given type. The caller owns
// the channel and chooses its buffer size.
//
// This is a free function because Go does not allow methods to declare their
// own type parameters; a generic Subscribe must be top-level, taking the bus
// as its first argument.
func Subscribe[T any](b *Bus, eventType EventType, ch chan Event[T], opts SubscriptionOptions) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriberID(nextSubscriberID.Add(1))

	sub := &subscriber{
		opts: opts,
		send: func(evType EventType, payload any) bool {
			typed, ok := payload.(T)
			if !ok {
				return false
			}
			ev := Event[T]{Type: evType, Payload: typed}
			if opts.Blocking {
				ch <- ev
				return true
			}
			select {
			case ch <- ev:
				return true
			default:
				// Non-blocking subscribers lose events when their channel is
				// full; the alternative is stalling every other subscriber.
				return false
			}
		},
		close: func() { close(ch) },
	}

	if _, ok := b.registry[eventType]; !ok {
		b.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	b.registry[eventType][id] = sub
	return id
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.registry[eventType]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.registry, eventType)
	}
	sub.close()
}

// Publish broadcasts an event to all subscribers of its type. Events
// published after Close are dropped.
//
// A free function for the same reason as Subscribe.
func Publish[T any](b *Bus, eventType EventType, payload T) {
	// Holding the read lock here means Close cannot close publishCh under our
	// feet: Close takes the write lock, which waits for all readers. Without
	// this, a send on a just-closed channel would panic.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return
	}
	b.publishCh <- envelope{eventType: eventType, payload: payload}
}

// Close stops accepting publishes, drains buffered events to subscribers, and
// waits for the delivery goroutine to exit. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed.Store(true)
	close(b.publishCh)
	b.mu.Unlock()

	b.wg.Wait()
}

// Dropped returns how many events were dropped for a subscriber because its
// channel was full.
func (b *Bus) Dropped(eventType EventType, id SubscriberID) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.registry[eventType][id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// run is the delivery goroutine: it fans each published event out to the
// type-erased subscribers registered for it.
func (b *Bus) run() {
	defer b.wg.Done()

	for msg := range b.publishCh {
		b.mu.RLock()
		for _, sub := range b.registry[msg.eventType] {
			if !sub.send(msg.eventType, msg.payload) && !sub.opts.Blocking {
				sub.dropped.Add(1)
			}
		}
		b.mu.RUnlock()
	}
}
