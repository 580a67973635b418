package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/rulesched/internal/logging"
	"github.com/sourcegraph/conc/panics"
)

// Handler is a function that handles an event.
type Handler func(Event)

// wildcard is the pseudo event type matched by SubscribeAll.
const wildcard = "*"

// subscription represents a registered event handler.
type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a simple synchronous pub-sub event bus.
// It allows components to communicate without direct dependencies.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	logger        atomic.Pointer[logging.Logger]
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
	}
	b.logger.Store(logging.NopLogger())
	return b
}

// SetLogger sets where recovered handler panics are reported.
func (b *Bus) SetLogger(logger *logging.Logger) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	b.logger.Store(logger.WithComponent("bus"))
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Specific handlers are called first, followed by wildcard handlers, each
// group in registration order. A panicking handler is recovered and logged
// and delivery continues with the remaining handlers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	eventType := event.EventType()
	targets := make([]subscription, 0, len(b.subscriptions[eventType])+len(b.subscriptions[wildcard]))
	targets = append(targets, b.subscriptions[eventType]...)
	targets = append(targets, b.subscriptions[wildcard]...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.safeCall(sub.handler, event)
	}
}

func (b *Bus) safeCall(handler Handler, event Event) {
	var pc panics.Catcher
	pc.Try(func() { handler(event) })
	if r := pc.Recovered(); r != nil {
		b.logger.Load().Error("event handler panicked",
			"event", event.EventType(),
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack))
	}
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
