package memory

import (
	"context"
	"sync"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
)

type subscription struct {
	id      uint64
	handler ports.EventHandler
}

// InMemoryEventBus implements EventBus with in-process handlers. Used for
// local mode and tests.
//
// It mirrors the Redis bus: an event on the messages topic goes to one
// subscriber, taken in turn, while other topics reach every subscriber.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      uint64
	turn        map[string]int
	workTopics  map[string]bool
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]subscription),
		turn:        make(map[string]int),
		workTopics:  map[string]bool{domain.TopicMessages: true},
	}
}

// Publish hands event to the topic's subscribers. Handlers run
// asynchronously and their errors are not reported back.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	for _, h := range e.targets(topic) {
		go func(h ports.EventHandler) {
			_ = h(context.WithoutCancel(ctx), event)
		}(h)
	}
	return nil
}

func (e *InMemoryEventBus) targets(topic string) []ports.EventHandler {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	if len(subs) == 0 {
		return nil
	}

	if e.workTopics[topic] {
		i := e.turn[topic] % len(subs)
		e.turn[topic] = i + 1
		return []ports.EventHandler{subs[i].handler}
	}

	handlers := make([]ports.EventHandler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	return handlers
}

// Subscribe registers handler on topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subscribers[topic] = append(e.subscribers[topic], subscription{id: id, handler: handler})
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(topic, id)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	delete(e.turn, topic)
	return nil
}

// Close drops every subscription
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]subscription)
	e.turn = make(map[string]int)
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func (e *InMemoryEventBus) remove(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}
