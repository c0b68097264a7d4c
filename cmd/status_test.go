package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-preview/constant"
	"worker-preview/entities"
)

func TestRenderDerivatives(t *testing.T) {
	now := time.Now()
	ready := entities.NewDerivative(constant.DerivativeKindPreview, 7, "cat.mp4")
	require.NoError(t, ready.MarkProcessing())
	require.NoError(t, ready.MarkReady("7_preview.mp4", 2048, now.Add(-time.Minute)))

	failed := entities.NewDerivative(constant.DerivativeKindThumbnail, 7, "7_preview.mp4")
	require.NoError(t, failed.MarkProcessing())
	require.NoError(t, failed.MarkFailed("ffmpeg exited 1"))

	var out bytes.Buffer
	renderDerivatives(&out, []*entities.Derivative{ready, failed}, now)

	text := out.String()
	assert.Contains(t, text, "7_preview.mp4")
	assert.Contains(t, text, "2.0 kB")
	assert.Contains(t, text, "READY")
	assert.Contains(t, text, "FAILED")
	assert.Contains(t, text, "ffmpeg exited 1")
}
