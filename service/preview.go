package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"worker-preview/constant"
	"worker-preview/dto"
	"worker-preview/pkg/scratch"
	"worker-preview/pkg/storage"
)

const previewOutput = "preview.mp4"

type PreviewService interface {
	GeneratePreview(ctx context.Context, event dto.VideoUploaded) error
}

type previewService struct {
	jobs       *JobStateMachine
	scratch    *scratch.Manager
	transcoder Transcoder
	sources    storage.Bucket
	previews   storage.Bucket
}

func NewPreviewService(jobs *JobStateMachine, space *scratch.Manager, transcoder Transcoder, sources, previews storage.Bucket) PreviewService {
	return &previewService{
		jobs:       jobs,
		scratch:    space,
		transcoder: transcoder,
		sources:    sources,
		previews:   previews,
	}
}

// GeneratePreview samples three 5 second clips of the uploaded video at
// 25/50/75% of its duration, joins them and stores the result.
func (s *previewService) GeneratePreview(ctx context.Context, event dto.VideoUploaded) (err error) {
	derivative, err := s.jobs.Accept(ctx, constant.DerivativeKindPreview, event.VideoId, event.FileName)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("video_id", event.VideoId).Msg("failed to accept preview job")
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
			discard(ctx, s.previews, uploaded)
		}
		err = s.jobs.Fail(ctx, derivative, err)
	}()

	zerolog.Ctx(ctx).Info().Str("file_name", event.FileName).Int64("file_size", event.FileSize).Msg("generating preview")

	var local string
	if err = runStage(ctx, derivative.Kind, "stage", func(ctx context.Context) error {
		local, err = stageObject(ctx, s.scratch, s.sources, jobKey, event.FileName, event.FileSize)
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

	var clips []string
	if err = runStage(ctx, derivative.Kind, "extract_clips", func(ctx context.Context) error {
		clips, err = s.transcoder.ExtractClips(ctx, local, workDir, duration)
		return err
	}); err != nil {
		return err
	}

	output := filepath.Join(workDir, previewOutput)
	if err = runStage(ctx, derivative.Kind, "concat", func(ctx context.Context) error {
		return s.transcoder.Concat(ctx, clips, output)
	}); err != nil {
		return err
	}

	name := PreviewName(event.FileName, time.Now())
	var size int64
	if err = runStage(ctx, derivative.Kind, "upload", func(ctx context.Context) error {
		size, err = storage.SaveFile(ctx, s.previews, name, output, "video/mp4")
		return err
	}); err != nil {
		return err
	}
	uploaded = name

	return s.jobs.Complete(ctx, derivative, name, size)
}
