package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ch, unsubscribe := eb.Subscribe(context.Background(), 4)
	t.Cleanup(unsubscribe)

	if ok := eb.Publish(context.Background(), Event{Type: EventDelivered, EventID: "m-1"}); !ok {
		t.Fatal("expected publish to succeed")
	}

	select {
	case event := <-ch:
		if event.Type != EventDelivered {
			t.Fatalf("event type = %q, want %q", event.Type, EventDelivered)
		}
		if event.EventID != "m-1" {
			t.Fatalf("event id = %q, want m-1", event.EventID)
		}
		if event.At.IsZero() {
			t.Fatal("expected publish to stamp event time")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	_, unsubscribe := eb.Subscribe(context.Background(), 1)
	t.Cleanup(unsubscribe)

	if ok := eb.Publish(context.Background(), Event{Type: EventDelivered}); !ok {
		t.Fatal("expected first publish to succeed")
	}
	// Second publish must not block even though the buffer is full.
	if ok := eb.Publish(context.Background(), Event{Type: EventFailed}); !ok {
		t.Fatal("expected second publish to succeed")
	}
}

func TestCloseStopsPublishing(t *testing.T) {
	eb := NewEventBus()
	eb.Close()

	if ok := eb.Publish(context.Background(), Event{Type: EventDelivered}); ok {
		t.Fatal("expected publish to fail after close")
	}

	ch, _ := eb.Subscribe(context.Background(), 1)
	if _, open := <-ch; open {
		t.Fatal("expected subscription channel to be closed after bus close")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ch, unsubscribe := eb.Subscribe(context.Background(), 1)
	unsubscribe()

	if _, open := <-ch; open {
		t.Fatal("expected channel to close after unsubscribe")
	}
}

func TestCanceledContextFailsPublish(t *testing.T) {
	eb := NewEventBus()
	t.Cleanup(eb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := eb.Publish(ctx, Event{Type: EventDelivered}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
}
