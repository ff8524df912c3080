// Package events fans committed domain events out to observers.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/punchamoorthee/tcr/internal/domain"
	"github.com/punchamoorthee/tcr/internal/metrics"
)

const defaultBuffer = 256

// Broker delivers events to in-process subscribers. A subscriber whose
// buffer is full is dropped rather than allowed to stall the publisher.
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]chan domain.Event
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger
}

func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[uint64]chan domain.Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a channel of events and a cancel func. The channel is
// closed on cancel, on Close, or when the subscriber falls behind.
func (b *Broker) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	metrics.EventSubscribers.Inc()

	return ch, func() { b.remove(id) }
}

func (b *Broker) Publish(_ context.Context, events []domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	for id, ch := range b.subs {
	deliver:
		for _, e := range events {
			select {
			case ch <- e:
				sent++
			default:
				b.logger.Warn("dropping slow event subscriber", "subscriber", id)
				metrics.EventsPublished.WithLabelValues("broker", "dropped").Inc()
				b.removeLocked(id)
				break deliver
			}
		}
	}
	metrics.EventsPublished.WithLabelValues("broker", "ok").Add(float64(sent))
}

// Subscribers is the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subs {
		b.removeLocked(id)
	}
	b.closed = true
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Broker) removeLocked(id uint64) {
	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
	metrics.EventSubscribers.Dec()
}
