// Package kafka carries pipeline messages over Kafka topics with a
// consumer group.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"worker-preview/config"
	"worker-preview/pkg/broker"
)

type Subscriber struct {
	reader *kafkago.Reader
	topics []string
}

func NewSubscriber(cfg *config.Kafka, topics ...string) *Subscriber {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})
	return &Subscriber{reader: reader, topics: topics}
}

// Subscribe commits each message once handler returns nil or reports it
// unprocessable. Any other handler error stops the subscriber with the
// offset uncommitted, so the message is redelivered to the group.
func (s *Subscriber) Subscribe(ctx context.Context, handler broker.Handler) error {
	zerolog.Ctx(ctx).Info().Strs("topics", s.topics).Msg("kafka subscriber started")

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zerolog.Ctx(ctx).Error().Err(err).Msg("kafka fetch failed")
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = handler(ctx, broker.Message{
			Topic: msg.Topic,
			Key:   string(msg.Key),
			Body:  msg.Value,
		})
		if err != nil && !errors.Is(err, broker.ErrUnprocessable) {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("topic", msg.Topic).
				Int64("offset", msg.Offset).
				Msg("failed to handle message, leaving uncommitted")
			return err
		}
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("skipping unprocessable message")
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("topic", msg.Topic).Msg("failed to commit message")
		}
	}
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}

// Publisher writes messages keyed by video id so one video's events land
// on one partition.
type Publisher struct {
	writer *kafkago.Writer
}

func NewPublisher(cfg *config.Kafka) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
