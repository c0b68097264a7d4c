package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"worker-preview/constant"
	"worker-preview/entities"
	"worker-preview/pkg/metrics"
	"worker-preview/pkg/scratch"
	"worker-preview/pkg/storage"
	"worker-preview/pkg/tracing"
)

var ErrPreviewNotReady = errors.New("preview is not ready")

// Transcoder is the subprocess-backed media toolchain.
type Transcoder interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractClips(ctx context.Context, input, outDir string, duration float64) ([]string, error)
	Concat(ctx context.Context, clips []string, output string) error
	ExtractFrame(ctx context.Context, input, output string, duration float64) error
}

func PreviewName(fileName string, at time.Time) string {
	return fileName + "_preview_" + at.UTC().Format(time.RFC3339Nano)
}

func ThumbnailName(previewName string, at time.Time) string {
	return previewName + "_thumbnail_" + at.UTC().Format(time.RFC3339Nano)
}

// jobContext attaches a job-scoped logger and a span to ctx.
func jobContext(ctx context.Context, derivative *entities.Derivative) (context.Context, func(error)) {
	logger := zerolog.Ctx(ctx).With().
		Str("job_id", derivative.ID.String()).
		Int64("video_id", derivative.VideoId).
		Str("kind", derivative.Kind.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	ctx, span := tracing.Start(ctx, derivative.Kind.String()+".job",
		attribute.String("job.id", derivative.ID.String()),
		attribute.Int64("video.id", derivative.VideoId),
	)
	return ctx, func(err error) { tracing.End(span, err) }
}

// runStage times fn under its own span.
func runStage(ctx context.Context, kind constant.DerivativeKind, stage string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := tracing.Start(ctx, kind.String()+"."+stage)
	err := fn(ctx)
	tracing.End(span, err)
	metrics.ObserveStage(kind.String(), stage, start)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("stage", stage).Msg("stage failed")
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("stage", stage).Dur("elapsed", time.Since(start)).Msg("stage finished")
	return nil
}

// stageObject copies length bytes of key from bucket into the job's
// scratch namespace.
func stageObject(ctx context.Context, space *scratch.Manager, bucket storage.Bucket, jobKey, key string, length int64) (string, error) {
	rc, err := bucket.GetInputStream(ctx, key, 0, length)
	if err != nil {
		return "", errors.Join(scratch.ErrStaging, err)
	}
	defer closeQuietly(ctx, rc)

	return space.Stage(ctx, rc, jobKey, key)
}

// release removes the job's scratch directory. Failures are logged inside
// scratch and never change the job's outcome.
func release(ctx context.Context, space *scratch.Manager, jobKey string) {
	_ = space.Release(ctx, jobKey)
}

// discard removes an uploaded object whose READY record could not be
// written, so no derivative exists without a READY row.
func discard(ctx context.Context, bucket storage.Bucket, key string) {
	if err := bucket.Delete(ctx, key); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("bucket", bucket.Name()).Str("key", key).Msg("failed to remove orphaned derivative")
	}
}

func closeQuietly(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("close failed")
	}
}

func describe(derivative *entities.Derivative) string {
	return fmt.Sprintf("%s job %s for video %d", derivative.Kind, derivative.ID, derivative.VideoId)
}
