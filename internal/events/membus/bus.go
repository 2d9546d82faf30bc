// Package membus is an in-process publisher for tests and development mode.
package membus

import (
	"context"
	"sync"

	"github.com/stratos-brokerage/paycore/pkg/payment"
)

// Subscriber receives published lifecycle events in publish order.
type Subscriber func(event payment.LifecycleEvent)

// Bus implements payment.Publisher. Delivery is synchronous, so per-payment
// ordering follows transition order by construction.
type Bus struct {
	mu          sync.Mutex
	subscribers []Subscriber
	published   []payment.LifecycleEvent
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber for every future event.
func (bus *Bus) Subscribe(subscriber Subscriber) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers = append(bus.subscribers, subscriber)
}

// Publish delivers the event to every subscriber and records it.
func (bus *Bus) Publish(ctx context.Context, event payment.LifecycleEvent) error {
	bus.mu.Lock()
	bus.published = append(bus.published, event)
	subscribers := make([]Subscriber, len(bus.subscribers))
	copy(subscribers, bus.subscribers)
	bus.mu.Unlock()

	for _, subscriber := range subscribers {
		subscriber(event)
	}
	return nil
}

// Published returns a copy of everything published so far.
func (bus *Bus) Published() []payment.LifecycleEvent {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	copied := make([]payment.LifecycleEvent, len(bus.published))
	copy(copied, bus.published)
	return copied
}
