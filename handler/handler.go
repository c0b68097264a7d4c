package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"worker-preview/dto"
	"worker-preview/pkg/broker"
	"worker-preview/pkg/metrics"
	"worker-preview/pkg/workerpool"
	"worker-preview/service"
)

type ServiceDependencies struct {
	PreviewService   service.PreviewService
	ThumbnailService service.ThumbnailService
}

// Submitter hands a job to the worker pool.
type Submitter interface {
	Submit(submitCtx, ctx context.Context, name string, job workerpool.Job) error
}

// Dispatcher routes decoded envelopes to the matching worker. It only
// queues work, so the transport acknowledges a message as soon as its job
// is accepted, not when the job finishes.
type Dispatcher struct {
	pool Submitter
	deps ServiceDependencies
}

func NewDispatcher(pool Submitter, deps ServiceDependencies) *Dispatcher {
	return &Dispatcher{pool: pool, deps: deps}
}

// Handle implements broker.Handler.
func (d *Dispatcher) Handle(ctx context.Context, msg broker.Message) error {
	env, event, err := dto.Decode(msg.Body)
	if err != nil {
		metrics.EventsDispatched.WithLabelValues("malformed", "rejected").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Str("topic", msg.Topic).Msg("rejecting malformed envelope")
		return errors.Join(broker.ErrUnprocessable, err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("event_type", env.EventType).
		Str("version", env.Version).
		Str("topic", msg.Topic).
		Logger()

	// Jobs outlive the delivery: they keep its logger but not its cancellation.
	jobCtx := logger.WithContext(context.WithoutCancel(ctx))

	switch e := event.(type) {
	case dto.VideoUploaded:
		logger.Info().Int64("video_id", e.VideoId).Str("file_name", e.FileName).Msg("video uploaded")
		return d.submit(ctx, jobCtx, env.EventType, fmt.Sprintf("preview:%d", e.VideoId), func(ctx context.Context) error {
			return d.deps.PreviewService.GeneratePreview(ctx, e)
		})

	case dto.PreviewUpdateEvent:
		if !e.Ready() {
			metrics.EventsDispatched.WithLabelValues(env.EventType, "ignored").Inc()
			logger.Debug().Int64("video_id", e.VideoId).Str("status", string(e.Status)).Msg("preview not ready, nothing to do")
			return nil
		}
		logger.Info().Int64("video_id", e.VideoId).Str("preview", e.Name).Msg("preview ready")
		return d.submit(ctx, jobCtx, env.EventType, fmt.Sprintf("thumbnail:%d", e.VideoId), func(ctx context.Context) error {
			return d.deps.ThumbnailService.GenerateThumbnail(ctx, e)
		})

	default:
		metrics.EventsDispatched.WithLabelValues(env.EventType, "ignored").Inc()
		logger.Debug().Msg("ignoring event")
		return nil
	}
}

func (d *Dispatcher) submit(ctx, jobCtx context.Context, eventType, name string, job workerpool.Job) error {
	if err := d.pool.Submit(ctx, jobCtx, name, job); err != nil {
		metrics.EventsDispatched.WithLabelValues(eventType, "rejected").Inc()
		zerolog.Ctx(ctx).Error().Err(err).Str("job", name).Msg("failed to submit job")
		return err
	}
	metrics.EventsDispatched.WithLabelValues(eventType, "dispatched").Inc()
	return nil
}
