// Package notify provides non-blocking fan-out of acquisition events to
// multiple subscribers.
//
// The capture worker publishes started/stopped/error notifications,
// display-throttled frames and statistics snapshots to the bus; the MQTT
// emitter, the WebSocket preview server and any test harness subscribe
// with their own buffered channels. If a subscriber's channel is full the
// event is dropped for that subscriber rather than queued: the worker
// must never block on a slow observer, and a stale preview frame is worth
// less than a fresh one.
//
// All methods are safe for concurrent use. Publish completes without
// blocking even when every subscriber is stalled.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jjhhyyg/JAI-SW8000Q-Capture/internal/types"
)

var (
	// ErrSubscriberExists is returned when Subscribe reuses an id.
	ErrSubscriberExists = errors.New("notify: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe misses.
	ErrSubscriberNotFound = errors.New("notify: subscriber id not found")

	// ErrBusClosed is returned for Subscribe/Unsubscribe on a closed bus.
	ErrBusClosed = errors.New("notify: bus is closed")
)

// Bus distributes events to registered subscribers with a per-subscriber
// drop policy.
type Bus interface {
	// Subscribe registers a channel to receive events. The caller owns
	// the channel and chooses its buffer depth.
	Subscribe(id string, ch chan<- types.Event) error

	// Unsubscribe removes a subscriber. The channel is not closed; that
	// stays the subscriber's job.
	Unsubscribe(id string) error

	// Publish delivers the event to every subscriber whose channel has
	// space and drops it for the rest. Never blocks. Publishing on a
	// closed bus delivers nothing.
	Publish(ev types.Event)

	// Stats returns a snapshot of delivery counters.
	Stats() BusStats

	// Close stops the bus. Idempotent. Subscriber channels stay open.
	Close() error
}

// BusStats is a delivery-counter snapshot.
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// SubscriberStats tracks one subscriber's delivery counters.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriberCounters struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- types.Event
	counters    map[string]*subscriberCounters
	closed      bool

	totalPublished atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() Bus {
	return &bus{
		subscribers: make(map[string]chan<- types.Event),
		counters:    make(map[string]*subscriberCounters),
	}
}

func (b *bus) Subscribe(id string, ch chan<- types.Event) error {
	if ch == nil {
		return errors.New("notify: subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = ch
	b.counters[id] = &subscriberCounters{}
	return nil
}

func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	delete(b.counters, id)
	return nil
}

func (b *bus) Publish(ev types.Event) {
	b.totalPublished.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	// The capture worker publishes its stopped notification while the
	// service is tearing down; a closed bus swallows events instead of
	// failing the worker.
	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
			b.counters[id].sent.Add(1)
		default:
			b.counters[id].dropped.Add(1)
		}
	}
}

func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.counters)),
	}

	for id, c := range b.counters {
		sent := c.sent.Load()
		dropped := c.dropped.Load()
		result.TotalSent += sent
		result.TotalDropped += dropped
		result.Subscribers[id] = SubscriberStats{Sent: sent, Dropped: dropped}
	}

	return result
}

func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return nil
}
