package conversation

import (
	"sync"
	"testing"
)

func TestEventBus_Subscribe(t *testing.T) {
	eb := NewEventBus()
	called := false

	eb.Subscribe(EventTurnStart, func(e Event) {
		called = true
	})
	eb.Publish(Event{Type: EventTurnComplete})
	if called {
		t.Error("handler called for a different event type")
	}

	eb.Publish(Event{Type: EventTurnStart})
	if !called {
		t.Error("handler was not called")
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	eb := NewEventBus()
	count := 0

	eb.SubscribeAll(func(e Event) {
		count++
	})

	eb.Publish(Event{Type: EventTurnStart})
	eb.Publish(Event{Type: EventProviderRequest})
	eb.Publish(Event{Type: EventTurnComplete})

	if count != 3 {
		t.Errorf("expected 3 calls, got %d", count)
	}
}

func TestEventBus_PublishWithData(t *testing.T) {
	eb := NewEventBus()
	var received Event

	eb.Subscribe(EventMemoryAdded, func(e Event) {
		received = e
	})

	eb.PublishWithData(EventMemoryAdded, "sess-123", "01J0TURN", map[string]interface{}{"id": int64(7)})

	if received.SessionID != "sess-123" || received.TurnID != "01J0TURN" {
		t.Errorf("unexpected identifiers %q/%q", received.SessionID, received.TurnID)
	}
	if received.Data["id"] != int64(7) {
		t.Error("data not properly passed")
	}
	if received.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestEventBus_SpecificBeforeAll(t *testing.T) {
	eb := NewEventBus()
	var order []string

	eb.SubscribeAll(func(e Event) { order = append(order, "all") })
	eb.Subscribe(EventProviderFailed, func(e Event) { order = append(order, "specific") })

	eb.Publish(Event{Type: EventProviderFailed})

	if len(order) != 2 || order[0] != "specific" || order[1] != "all" {
		t.Errorf("unexpected handler order %v", order)
	}
}

func TestEventBus_SubscribeFromHandler(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(EventTurnStart, func(e Event) {
		eb.Subscribe(EventTurnComplete, func(Event) {})
	})

	// Must not deadlock.
	eb.Publish(Event{Type: EventTurnStart})
}

func TestEventBus_Concurrent(t *testing.T) {
	eb := NewEventBus()
	var mu sync.Mutex
	count := 0

	eb.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eb.Publish(Event{Type: EventMemoryQueried})
		}()
	}
	wg.Wait()

	if count != 100 {
		t.Errorf("expected 100 calls, got %d", count)
	}
}
