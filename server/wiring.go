package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"worker-preview/config"
	"worker-preview/constant"
	"worker-preview/handler"
	"worker-preview/pkg/broker"
	"worker-preview/pkg/ffmpeg"
	"worker-preview/pkg/kafka"
	"worker-preview/pkg/rabbitmq"
	"worker-preview/pkg/scratch"
	"worker-preview/pkg/storage"
	"worker-preview/pkg/workerpool"
	"worker-preview/repository"
	"worker-preview/service"
)

// NewRepository opens the configured derivative store. The returned func
// releases it.
func NewRepository(ctx context.Context, cfg *config.Config) (repository.DerivativeRepository, func(), error) {
	if cfg.Database.Driver == constant.DatabaseMemory {
		return repository.NewMemoryRepo(), func() {}, nil
	}

	db, err := config.NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	repo, err := repository.NewRepo(db, cfg.IsDevelop())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() {
		if err := db.Close(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close database")
		}
	}, nil
}

// NewStore builds the configured object store and makes sure the three
// buckets exist.
func NewStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var store storage.Store
	switch cfg.Storage.Driver {
	case constant.StorageS3:
		client, err := config.NewS3Client(ctx, &cfg.S3)
		if err != nil {
			return nil, err
		}
		store = storage.NewS3Store(client, cfg.S3.Region)
	case constant.StorageMemory:
		store = storage.NewMemoryStore()
	default:
		client, err := config.NewMinIOClient(&cfg.MinIO)
		if err != nil {
			return nil, err
		}
		store = storage.NewMinIOStore(client)
	}

	if err := store.EnsureBuckets(ctx, cfg.Buckets.Videos, cfg.Buckets.Previews, cfg.Buckets.Thumbnails); err != nil {
		return nil, err
	}
	return store, nil
}

// NewBroker connects the configured transport. The subscriber listens to
// uploaded videos and preview updates. connCtx bounds the connection's
// lifetime and should outlive the drain of in-flight jobs.
func NewBroker(connCtx context.Context, cfg *config.Config) (broker.Publisher, broker.Subscriber, error) {
	topics := []string{cfg.Topics.Videos, cfg.Topics.Previews}

	switch cfg.Broker.Driver {
	case constant.BrokerKafka:
		return kafka.NewPublisher(&cfg.Kafka), kafka.NewSubscriber(&cfg.Kafka, topics...), nil
	case constant.BrokerMemory:
		bus := broker.NewMemoryBus(cfg.Server.QueueSize, topics...)
		return bus, bus, nil
	default:
		conn, err := config.NewRabbitMQConn(connCtx, &cfg.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		publisher, err := rabbitmq.NewPublisher(conn, &cfg.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("open rabbitmq publisher: %w", err)
		}
		return publisher, rabbitmq.NewSubscriber(conn, &cfg.RabbitMQ, topics...), nil
	}
}

// Pipeline is the worker side of the process: services, pool and dispatcher.
type Pipeline struct {
	Pool       *workerpool.Pool
	Dispatcher *handler.Dispatcher
	scratch    []*scratch.Manager
}

func NewPipeline(cfg *config.Config, repo repository.DerivativeRepository, store storage.Store, publisher broker.Publisher) *Pipeline {
	buckets := storage.NewBuckets(store, cfg.Buckets.Videos, cfg.Buckets.Previews, cfg.Buckets.Thumbnails)
	invoker := ffmpeg.New(ffmpeg.Options{
		FFmpeg:  cfg.Transcoder.FFmpeg,
		FFprobe: cfg.Transcoder.FFprobe,
		Timeout: cfg.Transcoder.Timeout,
	})
	jobs := service.NewJobStateMachine(repo, publisher, service.Topics{
		Previews:   cfg.Topics.Previews,
		Thumbnails: cfg.Topics.Thumbnails,
	})

	previewScratch := scratch.NewManager(cfg.Scratch.Root, constant.DerivativeKindPreview.String())
	thumbnailScratch := scratch.NewManager(cfg.Scratch.Root, constant.DerivativeKindThumbnail.String())

	deps := handler.ServiceDependencies{
		PreviewService:   service.NewPreviewService(jobs, previewScratch, invoker, buckets.Videos, buckets.Previews),
		ThumbnailService: service.NewThumbnailService(jobs, thumbnailScratch, invoker, buckets.Previews, buckets.Thumbnails),
	}

	pool := workerpool.New(cfg.Server.Workers, cfg.Server.QueueSize)
	return &Pipeline{
		Pool:       pool,
		Dispatcher: handler.NewDispatcher(pool, deps),
		scratch:    []*scratch.Manager{previewScratch, thumbnailScratch},
	}
}

// SweepScratch removes job directories older than maxAge and returns how
// many were removed.
func (p *Pipeline) SweepScratch(ctx context.Context, maxAge time.Duration) int {
	removed := 0
	for _, space := range p.scratch {
		result := space.Sweep(ctx, maxAge)
		removed += len(result.Removed)
	}
	return removed
}
