package events

import (
	"context"
	"sync"
)

// MemoryBroker dispatches events in-process. Tests assert on its Published
// log; dev runs without Redis use it as the live broker.
type MemoryBroker struct {
	mu        sync.RWMutex
	published []PublishedEvent
	handlers  map[string][]Handler
}

// PublishedEvent pairs an event with the channel it went to.
type PublishedEvent struct {
	Channel string
	Event   Event
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{handlers: make(map[string][]Handler)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, event Event) error {
	b.mu.Lock()
	b.published = append(b.published, PublishedEvent{Channel: channel, Event: event})
	handlers := append([]Handler(nil), b.handlers[channel]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

// Published returns a snapshot of everything published so far.
func (b *MemoryBroker) Published() []PublishedEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]PublishedEvent(nil), b.published...)
}
