package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"worker-preview/config"
	"worker-preview/pkg/broker"
)

const keyHeader = "message-key"

// Subscriber consumes a durable queue bound to the exchange once per topic,
// with the topic name as routing key. Unprocessable messages are
// dead-lettered to <queue>_dlq.
type Subscriber struct {
	conn   *amqp.Connection
	cfg    *config.RabbitMQ
	topics []string
}

func NewSubscriber(conn *amqp.Connection, cfg *config.RabbitMQ, topics ...string) *Subscriber {
	return &Subscriber{
		conn:   conn,
		cfg:    cfg,
		topics: topics,
	}
}

func (s *Subscriber) Subscribe(ctx context.Context, handler broker.Handler) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareExchange(ch, s.cfg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", s.cfg.Exchange).Msg("failed to declare exchange")
		return err
	}

	queueName := s.cfg.Queue
	dlxName := s.cfg.Exchange + "_dlx"
	dlqName := queueName + "_dlq"
	dlqRoutingKey := "dlq." + queueName

	err = ch.ExchangeDeclare(dlxName, amqp.ExchangeDirect, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", dlxName).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", dlqName).Msg("failed to declare dlq")
		return err
	}

	err = ch.QueueBind(dlq.Name, dlqRoutingKey, dlxName, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", dlqName).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", queueName).Msg("failed to declare queue")
		return err
	}

	for _, topic := range s.topics {
		if err := ch.QueueBind(q.Name, topic, s.cfg.Exchange, false, nil); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("queue", queueName).Str("routing_key", topic).Msg("failed to bind queue")
			return err
		}
	}

	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", queueName).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", queueName).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", queueName).
		Str("exchange", s.cfg.Exchange).
		Strs("routing_keys", s.topics).
		Int("prefetch", s.cfg.Prefetch).
		Msg("rabbitmq subscriber started")

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed for queue %s", queueName)
			}
			s.handle(ctx, delivery, handler)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, delivery amqp.Delivery, handler broker.Handler) {
	msg := broker.Message{
		Topic: delivery.RoutingKey,
		Body:  delivery.Body,
	}
	if key, ok := delivery.Headers[keyHeader].(string); ok {
		msg.Key = key
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
		}
	case errors.Is(err, broker.ErrUnprocessable):
		zerolog.Ctx(ctx).Warn().Err(err).Str("routing_key", delivery.RoutingKey).Msg("dead-lettering unprocessable message")
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
	default:
		zerolog.Ctx(ctx).Error().Err(err).Str("routing_key", delivery.RoutingKey).Msg("failed to handle message, requeueing")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to requeue message")
		}
	}
}

// Close is a no-op; the connection is owned by whoever dialed it.
func (s *Subscriber) Close() error {
	return nil
}

func declareExchange(ch *amqp.Channel, cfg *config.RabbitMQ) error {
	return ch.ExchangeDeclare(cfg.Exchange, cfg.Kind, true, false, false, false, nil)
}
