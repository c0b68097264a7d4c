package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"worker-preview/config"
	"worker-preview/pkg/metrics"
	"worker-preview/pkg/tracing"
)

func RunHttp(cfg *config.Config) {
	baseCtx := setupLogger(cfg)
	// Broker connections stay open until in-flight jobs have published
	// their final snapshots.
	connCtx, closeConns := context.WithCancel(baseCtx)
	defer closeConns()
	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.IsProduction()).Send()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing.Endpoint)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("InitTracer")
		return
	}
	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to flush traces")
		}
	}()

	repo, closeRepo, err := NewRepository(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRepository")
		return
	}
	defer closeRepo()

	store, err := NewStore(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewStore")
		return
	}

	publisher, subscriber, err := NewBroker(connCtx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewBroker")
		return
	}

	pipeline := NewPipeline(cfg, repo, store, publisher)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		err := subscriber.Subscribe(ctx, pipeline.Dispatcher.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("subscriber stopped")
			cancel()
		}
	}()

	sweeper := cron.New()
	_, err = sweeper.AddFunc(cfg.Scratch.SweepSchedule, func() {
		removed := pipeline.SweepScratch(ctx, cfg.Scratch.MaxAge)
		metrics.ScratchSwept.Add(float64(removed))
		zerolog.Ctx(ctx).Debug().Int("removed", removed).Msg("scratch sweep finished")
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("schedule", cfg.Scratch.SweepSchedule).Msg("invalid scratch sweep schedule")
		return
	}
	// A restart after a crash leaves directories behind; clear them first.
	pipeline.SweepScratch(ctx, cfg.Scratch.MaxAge)
	sweeper.Start()

	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())
	addHealth(r)
	r.GET("/metrics", metrics.Handler())

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	<-sweeper.Stop().Done()
	<-consumerDone

	zerolog.Ctx(ctx).Info().Msg("draining in-flight jobs")
	if err := pipeline.Pool.Shutdown(context.WithoutCancel(ctx)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to drain worker pool")
	}
	if err := subscriber.Close(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close subscriber")
	}
	if err := publisher.Close(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close publisher")
	}
	closeConns()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.IsDevelop() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
