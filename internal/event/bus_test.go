package event

import (
	"context"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan SessionEvent) SessionEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return event
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return SessionEvent{}
}

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus[SessionEvent](context.Background(), BusOptions{Name: "test"})
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(NewSessionEvent("s1", TypeStateChanged))
	event := receive(t, ch)
	if event.SessionID != "s1" || event.Type() != TypeStateChanged {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestBusSubscribeTypes(t *testing.T) {
	bus := NewBus[SessionEvent](context.Background(), BusOptions{})
	defer bus.Close()

	ch, cancel := bus.SubscribeTypes(TypeTeardownStep)
	defer cancel()

	bus.Publish(NewSessionEvent("s1", TypeStateChanged))
	bus.Publish(NewSessionEvent("s1", TypeTeardownStep))
	if event := receive(t, ch); event.Type() != TypeTeardownStep {
		t.Fatalf("expected teardown step, got %s", event.Type())
	}
}

func TestBusDropOnFull(t *testing.T) {
	bus := NewBus[SessionEvent](context.Background(), BusOptions{SubscriberBufferSize: 1})
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		bus.Publish(NewSessionEvent("s1", TypeStateChanged))
		bus.Publish(NewSessionEvent("s1", TypeStateChanged))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", bus.Dropped())
	}
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus[SessionEvent](context.Background(), BusOptions{})
	ch, _ := bus.Subscribe()
	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("expected subscribe after close to return a closed channel")
	}
}

func TestBusContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[SessionEvent](ctx, BusOptions{})
	ch, _ := bus.Subscribe()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("bus not closed after context cancel")
	}
}

func TestBusNilEventIgnored(t *testing.T) {
	bus := NewBus[*SessionEvent](context.Background(), BusOptions{})
	defer bus.Close()
	ch, _ := bus.Subscribe()
	bus.Publish(nil)
	select {
	case evt := <-ch:
		t.Fatalf("expected nil event to be ignored, got %+v", evt)
	default:
	}
}
