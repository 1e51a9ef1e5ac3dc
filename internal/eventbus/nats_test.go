package eventbus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/events"
)

func TestNATSMessageRoundTrip(t *testing.T) {
	data, err := marshalNATSMessage(events.EventSlotCreated, events.Payload{"slot_id": "s1"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := unmarshalNATSMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != events.EventSlotCreated || msg.NodeID != "node-a" || msg.Payload["slot_id"] != "s1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.MessageID == "" {
		t.Fatal("expected message id")
	}
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	if _, err := unmarshalNATSMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := unmarshalNATSMessage([]byte(`not json`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(events.EventSlotBatchFailed); got != "anomalyops.events.slot.batch_failed" {
		t.Fatalf("Subject = %q", got)
	}
}

func newLocalOnlyBus(t *testing.T) *NATSBus {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.MaxReconnects = 0
	cfg.Timeout = 100 * time.Millisecond
	return NewNATSBus(cfg, events.NewBus(), zerolog.Nop())
}

func TestNATSBusFallsBackToLocal(t *testing.T) {
	nb := newLocalOnlyBus(t)
	if nb.Connected() {
		t.Fatal("expected disconnected bus")
	}

	sub := nb.Subscribe(events.EventSlotCreated)
	nb.Publish(events.EventSlotCreated, events.Payload{"slot_id": "s1"})

	select {
	case got := <-sub:
		if got["slot_id"] != "s1" {
			t.Fatalf("unexpected payload %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
	if err := nb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHandleSkipsOwnMessages(t *testing.T) {
	nb := newLocalOnlyBus(t)
	sub := nb.Subscribe(events.EventPeriodUpdated)

	own, _ := marshalNATSMessage(events.EventPeriodUpdated, events.Payload{"from": "self"}, nb.nodeID)
	nb.handle(&nats.Msg{Subject: Subject(events.EventPeriodUpdated), Data: own})
	select {
	case got := <-sub:
		t.Fatalf("own message re-delivered: %v", got)
	default:
	}

	remote, _ := marshalNATSMessage(events.EventPeriodUpdated, events.Payload{"from": "peer"}, "other-node")
	nb.handle(&nats.Msg{Subject: Subject(events.EventPeriodUpdated), Data: remote})
	select {
	case got := <-sub:
		if got["from"] != "peer" || !got.Remote() || got[events.PayloadOrigin] != "other-node" {
			t.Fatalf("unexpected payload %v", got)
		}
	default:
		t.Fatal("expected remote message to be delivered")
	}
}
