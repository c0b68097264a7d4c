package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"worker-preview/constant"
	"worker-preview/dto"
	"worker-preview/pkg/ffmpeg"
	"worker-preview/pkg/scratch"
	"worker-preview/pkg/storage"
)

const thumbnailOutput = "thumbnail.png"

type ThumbnailService interface {
	GenerateThumbnail(ctx context.Context, event dto.PreviewUpdateEvent) error
}

type thumbnailService struct {
	jobs       *JobStateMachine
	scratch    *scratch.Manager
	transcoder Transcoder
	previews   storage.Bucket
	thumbnails storage.Bucket
}

func NewThumbnailService(jobs *JobStateMachine, space *scratch.Manager, transcoder Transcoder, previews, thumbnails storage.Bucket) ThumbnailService {
	return &thumbnailService{
		jobs:       jobs,
		scratch:    space,
		transcoder: transcoder,
		previews:   previews,
		thumbnails: thumbnails,
	}
}

// GenerateThumbnail extracts one frame a third into a READY preview and
// stores it as a PNG. Any other preview status is rejected before a job
// is created.
func (s *thumbnailService) GenerateThumbnail(ctx context.Context, event dto.PreviewUpdateEvent) (err error) {
	if !event.Ready() || event.Name == "" {
		return fmt.Errorf("%w: video %d status %q", ErrPreviewNotReady, event.VideoId, event.Status)
	}

	derivative, err := s.jobs.Accept(ctx, constant.DerivativeKindThumbnail, event.VideoId, event.Name)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("video_id", event.VideoId).Msg("failed to accept thumbnail job")
		return err
	}

	ctx, endSpan := jobContext(ctx, derivative)
	defer func() { endSpan(err) }()

	jobKey := derivative.ID.String()
	defer release(ctx, s.scratch, jobKey)

	if err = s.jobs.Begin(ctx, derivative); err != nil {
		return fmt.Errorf("%s: %w", describe(derivative), err)
	}

	var uploaded string
	defer func() {
		if err == nil {
			return
		}
		if uploaded != "" {
			discard(ctx, s.thumbnails, uploaded)
		}
		err = s.jobs.Fail(ctx, derivative, err)
	}()

	zerolog.Ctx(ctx).Info().Str("preview", event.Name).Int64("preview_size", event.Size).Msg("generating thumbnail")

	var local string
	if err = runStage(ctx, derivative.Kind, "stage", func(ctx context.Context) error {
		local, err = stageObject(ctx, s.scratch, s.previews, jobKey, event.Name, event.Size)
		return err
	}); err != nil {
		return err
	}

	var duration float64
	if err = runStage(ctx, derivative.Kind, "probe", func(ctx context.Context) error {
		duration, err = s.transcoder.ProbeDuration(ctx, local)
		return err
	}); err != nil {
		return err
	}

	workDir, err := s.scratch.WorkDir(jobKey)
	if err != nil {
		return err
	}

	output := filepath.Join(workDir, thumbnailOutput)
	if err = runStage(ctx, derivative.Kind, "extract_frame", func(ctx context.Context) error {
		if err := s.transcoder.ExtractFrame(ctx, local, output, duration); err != nil {
			return err
		}
		return verifyFrame(ctx, output)
	}); err != nil {
		return err
	}

	name := ThumbnailName(event.Name, time.Now())
	var size int64
	if err = runStage(ctx, derivative.Kind, "upload", func(ctx context.Context) error {
		size, err = storage.SaveFile(ctx, s.thumbnails, name, output, "image/png")
		return err
	}); err != nil {
		return err
	}
	uploaded = name

	return s.jobs.Complete(ctx, derivative, name, size)
}

// verifyFrame rejects output that exited cleanly but is not a readable image.
func verifyFrame(ctx context.Context, path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return errors.Join(ffmpeg.ErrTranscode, fmt.Errorf("undecodable frame %s: %w", filepath.Base(path), err))
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return fmt.Errorf("%w: empty frame %s", ffmpeg.ErrTranscode, filepath.Base(path))
	}
	zerolog.Ctx(ctx).Debug().Int("width", bounds.Dx()).Int("height", bounds.Dy()).Msg("extracted frame")
	return nil
}
