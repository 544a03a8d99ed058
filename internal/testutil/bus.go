package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/lockwatch/pkg/plugin"
)

var _ plugin.EventBus = (*MockBus)(nil)

// MockBus records every published event and hands it to subscribers on the
// publishing goroutine, so module tests see recon, pulse, media and vault
// events in a deterministic order. PublishAsync behaves like Publish.
type MockBus struct {
	mu     sync.Mutex
	events []plugin.Event
	subs   []mockSub
	nextID int
}

type mockSub struct {
	id      int
	topic   string // empty for SubscribeAll
	handler plugin.EventHandler
}

// NewMockBus returns an empty MockBus.
func NewMockBus() *MockBus {
	return &MockBus{}
}

func (b *MockBus) Publish(ctx context.Context, event plugin.Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	var handlers []plugin.EventHandler
	for _, s := range b.subs {
		if s.topic == "" || s.topic == event.Topic {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, event)
	}
	return nil
}

func (b *MockBus) PublishAsync(ctx context.Context, event plugin.Event) {
	_ = b.Publish(ctx, event)
}

func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	return b.add(topic, handler)
}

func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	return b.add("", handler)
}

func (b *MockBus) add(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, mockSub{id: id, topic: topic, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Events returns a copy of all recorded events.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Topics returns the topics of the recorded events in publish order.
func (b *MockBus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Topic)
	}
	return out
}

// Reset clears recorded events. Subscriptions are kept.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
