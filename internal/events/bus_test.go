package events

import (
	"testing"
	"time"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSlotCreated)
	other := bus.Subscribe(EventSlotDeleted)

	bus.Publish(EventSlotCreated, Payload{"slot_id": "s1"})

	select {
	case got := <-sub:
		if got["slot_id"] != "s1" {
			t.Fatalf("unexpected payload %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case got := <-other:
		t.Fatalf("unexpected event on other subscriber: %v", got)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPeriodUpdated)

	for range 20 {
		bus.Publish(EventPeriodUpdated, Payload{})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("expected buffer to be full, got %d of %d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSlotBatchFailed)
	bus.Unsubscribe(EventSlotBatchFailed, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(EventSlotBatchFailed, Payload{})
}

func TestPayloadRemote(t *testing.T) {
	if (Payload{"slot_id": "s1"}).Remote() {
		t.Fatal("local payload reported as remote")
	}
	if !(Payload{PayloadOrigin: "node-b"}).Remote() {
		t.Fatal("payload with origin should be remote")
	}
}
