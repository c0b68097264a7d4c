package broker

import (
	"context"
	"errors"
	"sync"
)

var ErrBusClosed = errors.New("bus closed")

// MemoryBus is an in-process Publisher and Subscriber. It backs
// broker.driver=memory for local runs and the tests. Every published
// message is also kept for inspection.
type MemoryBus struct {
	mu        sync.Mutex
	topics    map[string]bool
	messages  chan Message
	published []Message
	closed    bool
}

// NewMemoryBus delivers messages published on topics to its subscriber.
// Messages on other topics are recorded only.
func NewMemoryBus(buffer int, topics ...string) *MemoryBus {
	subscribed := make(map[string]bool, len(topics))
	for _, topic := range topics {
		subscribed[topic] = true
	}
	return &MemoryBus{
		topics:   subscribed,
		messages: make(chan Message, buffer),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, body []byte) error {
	msg := Message{Topic: topic, Key: key, Body: append([]byte(nil), body...)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.published = append(b.published, msg)
	deliver := b.topics[topic]
	b.mu.Unlock()

	if !deliver {
		return nil
	}
	select {
	case b.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.messages:
			if err := handler(ctx, msg); err != nil && !errors.Is(err, ErrUnprocessable) {
				return err
			}
		}
	}
}

// Published returns every message published so far, oldest first.
func (b *MemoryBus) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
