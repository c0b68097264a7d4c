package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"worker-preview/constant"
	"worker-preview/dto"
	"worker-preview/entities"
	"worker-preview/pkg/broker"
	"worker-preview/pkg/metrics"
	"worker-preview/repository"
)

// Topics names the outbound topic for each derivative kind.
type Topics struct {
	Previews   string
	Thumbnails string
}

// JobStateMachine is the only writer of derivative status. Each transition
// is persisted first and then published as a snapshot; the database is
// authoritative when a publish is lost.
type JobStateMachine struct {
	repo      repository.DerivativeRepository
	publisher broker.Publisher
	topics    Topics

	maxPublishTries uint
	publishInterval time.Duration
}

func NewJobStateMachine(repo repository.DerivativeRepository, publisher broker.Publisher, topics Topics) *JobStateMachine {
	return &JobStateMachine{
		repo:            repo,
		publisher:       publisher,
		topics:          topics,
		maxPublishTries: 5,
		publishInterval: 200 * time.Millisecond,
	}
}

// Accept records a new PENDING derivative for an accepted trigger.
func (m *JobStateMachine) Accept(ctx context.Context, kind constant.DerivativeKind, videoId int64, sourceName string) (*entities.Derivative, error) {
	derivative := entities.NewDerivative(kind, videoId, sourceName)
	if err := m.repo.Create(ctx, derivative); err != nil {
		return nil, fmt.Errorf("accept %s job for video %d: %w", kind, videoId, err)
	}
	return derivative, nil
}

// Begin moves PENDING -> PROCESSING and publishes a "processing" snapshot.
func (m *JobStateMachine) Begin(ctx context.Context, derivative *entities.Derivative) error {
	next := *derivative
	if err := next.MarkProcessing(); err != nil {
		return err
	}
	if err := m.repo.Transition(ctx, &next, constant.JobStatusPending); err != nil {
		return fmt.Errorf("persist processing: %w", err)
	}
	*derivative = next

	metrics.ActiveJobs.WithLabelValues(derivative.Kind.String()).Inc()
	zerolog.Ctx(ctx).Info().Msg("job processing")
	m.publish(ctx, derivative)
	return nil
}

// Complete moves PROCESSING -> READY, setting name, size and creation time
// in the same write, then publishes a "ready" snapshot. The derivative is
// left untouched when persisting fails.
func (m *JobStateMachine) Complete(ctx context.Context, derivative *entities.Derivative, name string, size int64) error {
	next := *derivative
	if err := next.MarkReady(name, size, time.Now()); err != nil {
		return err
	}
	if err := m.repo.Transition(ctx, &next, constant.JobStatusProcessing); err != nil {
		return fmt.Errorf("persist ready: %w", err)
	}
	*derivative = next

	m.finished(derivative)
	zerolog.Ctx(ctx).Info().Str("name", name).Int64("size", size).Msg("job ready")
	m.publish(ctx, derivative)
	return nil
}

// Fail moves PROCESSING -> FAILED, publishes a "failed" snapshot and
// returns cause, joined with any error recording the failure.
func (m *JobStateMachine) Fail(ctx context.Context, derivative *entities.Derivative, cause error) error {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	next := *derivative
	if err := next.MarkFailed(reason); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("cannot mark job failed")
		return errors.Join(cause, err)
	}
	if err := m.repo.Transition(ctx, &next, constant.JobStatusProcessing); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist job failure")
		return errors.Join(cause, fmt.Errorf("persist failed: %w", err))
	}
	*derivative = next

	m.finished(derivative)
	zerolog.Ctx(ctx).Error().Err(cause).Msg("job failed")
	m.publish(ctx, derivative)
	return cause
}

func (m *JobStateMachine) finished(derivative *entities.Derivative) {
	kind := derivative.Kind.String()
	metrics.ActiveJobs.WithLabelValues(kind).Dec()
	metrics.JobsTotal.WithLabelValues(kind, derivative.Status.String()).Inc()
}

func (m *JobStateMachine) publish(ctx context.Context, derivative *entities.Derivative) {
	topic := m.topics.Previews
	if derivative.Kind == constant.DerivativeKindThumbnail {
		topic = m.topics.Thumbnails
	}

	body, err := dto.Encode(Snapshot(derivative), time.Now())
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to encode status snapshot")
		return
	}
	key := strconv.FormatInt(derivative.VideoId, 10)

	operation := func() (struct{}, error) {
		if err := m.publisher.Publish(ctx, topic, key, body); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("failed to publish status snapshot. Retrying...")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.publishInterval
	bo.MaxInterval = 10 * m.publishInterval
	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(m.maxPublishTries))
	if err != nil {
		metrics.PublishFailures.WithLabelValues(topic).Inc()
		zerolog.Ctx(ctx).Error().Err(err).
			Str("topic", topic).
			Str("status", derivative.Status.String()).
			Msg("giving up on status snapshot, database remains authoritative")
	}
}

// Snapshot renders the derivative as its kind's update event. Name, size
// and createdAt are only carried once the derivative is READY.
func Snapshot(derivative *entities.Derivative) dto.Event {
	status := derivative.Status.Wire()
	var (
		name      string
		size      int64
		createdAt *time.Time
	)
	if derivative.Status == constant.JobStatusReady {
		name = *derivative.Name
		size = *derivative.Size
		createdAt = derivative.CreatedAt
	}

	if derivative.Kind == constant.DerivativeKindThumbnail {
		return dto.ThumbnailUpdateEvent{
			VideoId:   derivative.VideoId,
			Name:      name,
			Size:      size,
			Status:    status,
			CreatedAt: createdAt,
		}
	}
	return dto.PreviewUpdateEvent{
		VideoId:   derivative.VideoId,
		Name:      name,
		Size:      size,
		Status:    status,
		CreatedAt: createdAt,
	}
}
