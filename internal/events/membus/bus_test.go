package membus_test

import (
	"context"
	"testing"

	"github.com/stratos-brokerage/paycore/internal/events/membus"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

func TestPublishDeliversInOrder(test *testing.T) {
	test.Parallel()
	bus := membus.New()

	var received []string
	bus.Subscribe(func(event payment.LifecycleEvent) {
		received = append(received, event.Topic)
	})

	topics := []string{payment.TopicInitialized, payment.TopicAuthorized, payment.TopicCaptured}
	for _, topic := range topics {
		if err := bus.Publish(context.Background(), payment.LifecycleEvent{Topic: topic, PaymentID: "pay-1"}); err != nil {
			test.Fatalf("publish %s: %v", topic, err)
		}
	}

	if len(received) != len(topics) {
		test.Fatalf("received %d events, want %d", len(received), len(topics))
	}
	for index := range topics {
		if received[index] != topics[index] {
			test.Fatalf("received = %v, want %v", received, topics)
		}
	}
}

func TestPublishedReturnsCopy(test *testing.T) {
	test.Parallel()
	bus := membus.New()

	if err := bus.Publish(context.Background(), payment.LifecycleEvent{Topic: payment.TopicInitialized}); err != nil {
		test.Fatalf("publish: %v", err)
	}

	first := bus.Published()
	first[0].Topic = "mutated"
	second := bus.Published()
	if second[0].Topic != payment.TopicInitialized {
		test.Fatal("Published must return an independent copy")
	}
}

func TestSubscribersAddedLaterMissEarlierEvents(test *testing.T) {
	test.Parallel()
	bus := membus.New()

	if err := bus.Publish(context.Background(), payment.LifecycleEvent{Topic: payment.TopicInitialized}); err != nil {
		test.Fatalf("publish: %v", err)
	}

	var count int
	bus.Subscribe(func(event payment.LifecycleEvent) { count++ })
	if err := bus.Publish(context.Background(), payment.LifecycleEvent{Topic: payment.TopicAuthorized}); err != nil {
		test.Fatalf("publish: %v", err)
	}

	if count != 1 {
		test.Fatalf("late subscriber saw %d events, want 1", count)
	}
}
