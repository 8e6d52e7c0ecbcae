package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/cuemby/lobby/pkg/types"
)

const (
	// DefaultBufferSize is the publish queue length
	DefaultBufferSize = 256
	// SubscriberBufferSize is the per-subscriber queue length
	SubscriberBufferSize = 128
)

var (
	// ErrNotStarted is reported by Err before Start
	ErrNotStarted = errors.New("event broker not started")
	// ErrStopped is reported by Err after Stop
	ErrStopped = errors.New("event broker stopped")
)

// Subscriber is a channel that receives events
type Subscriber chan *types.AdminEvent

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *types.AdminEvent
	stopCh      chan struct{}
	stopOnce    sync.Once
	started     atomic.Bool
	dropped     atomic.Uint64
}

// NewBroker creates a new event broker. A bufferSize <= 0 uses DefaultBufferSize.
func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *types.AdminEvent, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	if b.started.CompareAndSwap(false, true) {
		go b.run()
	}
}

// Err reports whether the broker is distributing events: nil while running,
// ErrNotStarted or ErrStopped otherwise
func (b *Broker) Err() error {
	select {
	case <-b.stopCh:
		return ErrStopped
	default:
	}
	if !b.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// Stop stops the broker. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, SubscriberBufferSize)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event for all subscribers. Events from one goroutine are
// delivered in publish order. Publishing after Stop is a no-op.
func (b *Broker) Publish(event *types.AdminEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.eventCh <- event:
		metrics.EventsPublished.WithLabelValues(string(event.Kind)).Inc()
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *types.AdminEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
			b.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues("bus").Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
