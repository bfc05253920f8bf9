package events

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBus_PublishDeliversToTypedSubscriber(t *testing.T) {
	bus := New(zap.NewNop(), 2, 16)
	defer bus.Stop()

	received := make(chan Event, 1)
	bus.Subscribe(EventStrategyOpened, func(e Event) error {
		received <- e
		return nil
	})

	bus.Publish(StrategyOpenedEvent{
		BaseEvent:  BaseEvent{Type: EventStrategyOpened, Timestamp: time.Now()},
		StrategyId: "SPY_1", Code: "SPY",
	})

	select {
	case e := <-received:
		opened, ok := e.(StrategyOpenedEvent)
		if !ok || opened.Code != "SPY" {
			t.Fatalf("unexpected event: %#v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestBus_SubscribeAllReceivesEveryType(t *testing.T) {
	bus := New(zap.NewNop(), 2, 16)
	defer bus.Stop()

	received := make(chan EventType, 2)
	bus.SubscribeAll(func(e Event) error {
		received <- e.GetType()
		return nil
	})

	bus.Publish(StrategyOpenedEvent{BaseEvent: BaseEvent{Type: EventStrategyOpened, Timestamp: time.Now()}})
	bus.Publish(StrategyClosedEvent{BaseEvent: BaseEvent{Type: EventStrategyClosed, Timestamp: time.Now()}})

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case et := <-received:
			seen[et] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !seen[EventStrategyOpened] || !seen[EventStrategyClosed] {
		t.Fatalf("expected both event types delivered, got %v", seen)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New(zap.NewNop(), 2, 16)
	defer bus.Stop()

	received := make(chan Event, 4)
	sub := bus.Subscribe(EventOrderStatus, func(e Event) error {
		received <- e
		return nil
	})
	bus.Unsubscribe(sub)

	bus.Publish(OrderStatusEvent{BaseEvent: BaseEvent{Type: EventOrderStatus, Timestamp: time.Now()}})

	select {
	case <-received:
		t.Fatal("expected no delivery after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBus_GetStatsCountsPublished(t *testing.T) {
	bus := New(zap.NewNop(), 2, 16)
	defer bus.Stop()

	bus.Publish(EngineStateEvent{BaseEvent: BaseEvent{Type: EventEngineState, Timestamp: time.Now()}, State: "Running"})
	time.Sleep(50 * time.Millisecond)

	stats := bus.GetStats()
	if stats.Published != 1 {
		t.Fatalf("expected 1 published event, got %d", stats.Published)
	}
}
