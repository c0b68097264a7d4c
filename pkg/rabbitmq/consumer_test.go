package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"worker-preview/config"
	"worker-preview/pkg/broker"
)

type ackRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func deliver(t *testing.T, handlerErr error) (*ackRecorder, broker.Message) {
	t.Helper()
	ack := &ackRecorder{}
	delivery := amqp.Delivery{
		Acknowledger: ack,
		RoutingKey:   "video.events",
		Headers:      amqp.Table{keyHeader: "42"},
		Body:         []byte(`{"eventType":"VideoUploaded"}`),
	}

	var got broker.Message
	s := NewSubscriber(nil, &config.RabbitMQ{Exchange: "video_exchange", Queue: "q"}, "video.events")
	s.handle(context.Background(), delivery, func(ctx context.Context, msg broker.Message) error {
		got = msg
		return handlerErr
	})
	return ack, got
}

func TestHandleAcksOnSuccess(t *testing.T) {
	ack, msg := deliver(t, nil)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	assert.Equal(t, "video.events", msg.Topic)
	assert.Equal(t, "42", msg.Key)
}

func TestHandleDeadLettersUnprocessable(t *testing.T) {
	ack, _ := deliver(t, errors.Join(broker.ErrUnprocessable, errors.New("bad json")))
	assert.False(t, ack.acked)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestHandleRequeuesOtherFailures(t *testing.T) {
	ack, _ := deliver(t, errors.New("pool closed"))
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue)
}
