package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-preview/config"
	"worker-preview/constant"
	"worker-preview/dto"
	"worker-preview/pkg/broker"
	"worker-preview/pkg/storage"
	"worker-preview/pkg/testsupport"
	"worker-preview/repository"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("BROKER_DRIVER", constant.BrokerMemory)
	t.Setenv("DATABASE_DRIVER", constant.DatabaseMemory)
	t.Setenv("STORAGE_DRIVER", constant.StorageMemory)
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	binDir := t.TempDir()
	fixture := filepath.Join(binDir, "frame.png")
	testsupport.WritePNG(t, fixture)
	cfg.Transcoder.FFmpeg = testsupport.StubFFmpeg(t, binDir, testsupport.FFmpegStubOptions{Frame: fixture}).Path
	cfg.Transcoder.FFprobe = testsupport.StubFFprobe(t, binDir, "20.0\n", "", 0).Path
	cfg.Scratch.Root = t.TempDir()
	return cfg
}

func TestUploadFlowsThroughPreviewToThumbnail(t *testing.T) {
	cfg := memoryConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := NewRepository(ctx, cfg)
	require.NoError(t, err)
	defer closeRepo()
	store, err := NewStore(ctx, cfg)
	require.NoError(t, err)
	publisher, subscriber, err := NewBroker(ctx, cfg)
	require.NoError(t, err)

	store.(*storage.MemoryStore).Put(cfg.Buckets.Videos, "cat.mp4", []byte("source-bytes"))

	pipeline := NewPipeline(cfg, repo, store, publisher)
	go func() { _ = subscriber.Subscribe(ctx, pipeline.Dispatcher.Handle) }()

	body, err := dto.Encode(dto.VideoUploaded{VideoId: 77, FileName: "cat.mp4", FileSize: 12}, time.Now())
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, cfg.Topics.Videos, "77", body))

	require.Eventually(t, func() bool {
		found, err := repo.FindByVideoId(ctx, 77)
		if err != nil || len(found) != 2 {
			return false
		}
		for _, d := range found {
			if d.Status != constant.JobStatusReady {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, pipeline.Pool.Shutdown(context.Background()))

	assert.Len(t, store.(*storage.MemoryStore).Keys(cfg.Buckets.Previews), 1)
	assert.Len(t, store.(*storage.MemoryStore).Keys(cfg.Buckets.Thumbnails), 1)

	// Status order per topic: processing strictly before ready.
	bus := publisher.(*broker.MemoryBus)
	var previewStatuses, thumbnailStatuses []constant.WireStatus
	for _, msg := range bus.Published() {
		_, event, err := dto.Decode(msg.Body)
		require.NoError(t, err)
		switch e := event.(type) {
		case dto.PreviewUpdateEvent:
			previewStatuses = append(previewStatuses, e.Status)
		case dto.ThumbnailUpdateEvent:
			thumbnailStatuses = append(thumbnailStatuses, e.Status)
		}
	}
	want := []constant.WireStatus{constant.WireStatusProcessing, constant.WireStatusReady}
	assert.Equal(t, want, previewStatuses)
	assert.Equal(t, want, thumbnailStatuses)

	for _, kind := range []string{"preview", "thumbnail"} {
		entries, _ := os.ReadDir(filepath.Join(cfg.Scratch.Root, kind))
		assert.Empty(t, entries)
	}
}

func TestSweepScratchRemovesStaleJobs(t *testing.T) {
	cfg := memoryConfig(t)
	pipeline := NewPipeline(cfg, repository.NewMemoryRepo(), storage.NewMemoryStore(), broker.NewMemoryBus(1))

	stale := filepath.Join(cfg.Scratch.Root, "preview", "dead-job")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	assert.Equal(t, 1, pipeline.SweepScratch(context.Background(), 24*time.Hour))
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, pipeline.Pool.Shutdown(context.Background()))
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	addHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
