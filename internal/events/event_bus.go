// Package events provides the engine's internal event bus: a worker-pool
// publish/subscribe router the Engine uses to fan strategy and order
// lifecycle events out to the HTTP/WebSocket API without coupling either
// side to the other's concrete types.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-quant/optopus-engine/pkg/types"
	"go.uber.org/zap"
)

// EventType categorizes an Event for subscription routing.
type EventType string

const (
	EventStrategyOpened   EventType = "strategy_opened"
	EventStrategyClosed   EventType = "strategy_closed"
	EventOrderStatus      EventType = "order_status"
	EventAlgorithmFailure EventType = "algorithm_failure"
	EventEngineState      EventType = "engine_state"
)

// Event is the common interface every published value satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
}

// BaseEvent carries the fields every Event needs.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// StrategyOpenedEvent announces that a strategy's legs are now fully
// matched by broker positions.
type StrategyOpenedEvent struct {
	BaseEvent
	StrategyId string `json:"strategyId"`
	Code       string `json:"code"`
}

// StrategyClosedEvent announces that a strategy has no remaining position.
type StrategyClosedEvent struct {
	BaseEvent
	StrategyId string `json:"strategyId"`
	Code       string `json:"code"`
}

// OrderStatusEvent mirrors a broker TradeUpdate onto the bus.
type OrderStatusEvent struct {
	BaseEvent
	OrderId   string            `json:"orderId"`
	Status    types.OrderStatus `json:"status"`
	Remaining int               `json:"remaining"`
}

// AlgorithmFailureEvent reports a registered algorithm's iteration failure.
type AlgorithmFailureEvent struct {
	BaseEvent
	Algorithm string `json:"algorithm"`
	Error     string `json:"error"`
}

// EngineStateEvent reports an Engine lifecycle transition.
type EngineStateEvent struct {
	BaseEvent
	State string `json:"state"`
}

// Handler processes one event. A returned error is logged, never retried.
type Handler func(event Event) error

// Filter selectively admits events to a subscription.
type Filter func(event Event) bool

// SubscriptionOptions configures how a subscription's handler runs.
type SubscriptionOptions struct {
	Filter Filter
	Async  bool
}

// Subscription is a handle returned by Subscribe, usable with Unsubscribe.
type Subscription struct {
	id        int64
	eventType EventType
	handler   Handler
	options   SubscriptionOptions
	active    atomic.Bool
}

// Stats summarizes the bus's lifetime counters.
type Stats struct {
	Published   int64 `json:"published"`
	Processed   int64 `json:"processed"`
	Dropped     int64 `json:"dropped"`
	HandlerErrs int64 `json:"handlerErrors"`
	Subscribers int64 `json:"subscribers"`
}

// Bus is a worker-pool publish/subscribe router, adapted from the
// teacher's high-throughput EventBus down to the scale this engine's
// single-threaded loop actually produces: a handful of lifecycle events
// per iteration rather than per-tick market data.
type Bus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan chan Event

	published   atomic.Int64
	processed   atomic.Int64
	dropped     atomic.Int64
	handlerErrs atomic.Int64
	subCount    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New starts a Bus with workerCount goroutines draining a channel of
// bufferSize capacity. Publish never blocks: a full buffer drops the event
// and counts it, rather than stalling the Engine's loop.
func New(logger *zap.Logger, workerCount, bufferSize int) *Bus {
	if workerCount <= 0 {
		workerCount = 4
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("events"),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventChan:
			b.dispatch(event)
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := append([]*Subscription{}, b.subscribers[event.GetType()]...)
	subs = append(subs, b.allSubscribers...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		if sub.options.Filter != nil && !sub.options.Filter(event) {
			continue
		}
		if sub.options.Async {
			go b.invoke(sub, event)
		} else {
			b.invoke(sub, event)
		}
	}
	b.processed.Add(1)
}

func (b *Bus) invoke(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerErrs.Add(1)
			b.logger.Error("event handler panicked", zap.Any("panic", r), zap.String("eventType", string(event.GetType())))
		}
	}()
	if err := sub.handler(event); err != nil {
		b.handlerErrs.Add(1)
		b.logger.Warn("event handler failed", zap.Error(err), zap.String("eventType", string(event.GetType())))
	}
}

var subIDs atomic.Int64

// Subscribe registers handler for eventType. Async defaults to true.
func (b *Bus) Subscribe(eventType EventType, handler Handler, opts ...SubscriptionOptions) *Subscription {
	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{id: subIDs.Add(1), eventType: eventType, handler: handler, options: options}
	sub.active.Store(true)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.mu.Unlock()
	b.subCount.Add(1)
	return sub
}

// SubscribeAll registers handler for every event type published.
func (b *Bus) SubscribeAll(handler Handler, opts ...SubscriptionOptions) *Subscription {
	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{id: subIDs.Add(1), handler: handler, options: options}
	sub.active.Store(true)

	b.mu.Lock()
	b.allSubscribers = append(b.allSubscribers, sub)
	b.mu.Unlock()
	b.subCount.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription; in-flight dispatches still
// complete, but no further events reach it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	b.subCount.Add(-1)
}

// Publish enqueues event for async dispatch, dropping it if the buffer is
// full rather than blocking the caller.
func (b *Bus) Publish(event Event) {
	select {
	case b.eventChan <- event:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, buffer full", zap.String("eventType", string(event.GetType())))
	}
}

// GetStats returns a snapshot of the bus's lifetime counters.
func (b *Bus) GetStats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Processed:   b.processed.Load(),
		Dropped:     b.dropped.Load(),
		HandlerErrs: b.handlerErrs.Load(),
		Subscribers: b.subCount.Load(),
	}
}

// Stop cancels all workers and waits up to 5 seconds for them to exit.
// Workers return as soon as they see the cancellation, so events still
// queued at that point may never be dispatched.
func (b *Bus) Stop() {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus shutdown timed out")
	}
}
