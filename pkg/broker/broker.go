// Package broker defines the transport-neutral publish/subscribe contract
// the pipeline uses on top of RabbitMQ or Kafka.
package broker

import (
	"context"
	"errors"
)

// ErrUnprocessable marks a message that will never succeed, so the
// transport should drop or dead-letter it instead of redelivering.
var ErrUnprocessable = errors.New("unprocessable message")

type Message struct {
	Topic string
	Key   string
	Body  []byte
}

// Handler processes one inbound message. Returning nil acknowledges it.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
	Close() error
}

// Subscriber delivers messages from its topics to handler until ctx is
// done or the transport fails.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
