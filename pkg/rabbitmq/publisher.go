package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"worker-preview/config"
)

// Publisher sends persistent JSON messages to the exchange with the topic
// as routing key.
type Publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, cfg); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, exchange: cfg.Exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{keyHeader: key},
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
