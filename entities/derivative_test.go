package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-preview/constant"
)

func TestDerivativeForwardPath(t *testing.T) {
	d := NewDerivative(constant.DerivativeKindPreview, 1, "cat.mp4")
	assert.Equal(t, constant.JobStatusPending, d.Status)
	assert.Nil(t, d.Name)
	assert.Nil(t, d.Size)
	assert.Nil(t, d.CreatedAt)

	require.NoError(t, d.MarkProcessing())
	assert.Equal(t, constant.JobStatusProcessing, d.Status)
	assert.Nil(t, d.Name, "name must stay unset until READY")

	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	require.NoError(t, d.MarkReady("cat.mp4_preview", 512, at))
	assert.Equal(t, constant.JobStatusReady, d.Status)
	require.NotNil(t, d.Name)
	require.NotNil(t, d.Size)
	require.NotNil(t, d.CreatedAt)
	assert.Equal(t, "cat.mp4_preview", *d.Name)
	assert.EqualValues(t, 512, *d.Size)
	assert.Equal(t, at, *d.CreatedAt)
	assert.True(t, d.Terminal())
}

func TestDerivativeRejectsPendingToReady(t *testing.T) {
	d := NewDerivative(constant.DerivativeKindThumbnail, 1, "p")

	err := d.MarkReady("x", 1, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, constant.JobStatusPending, d.Status)
	assert.Nil(t, d.Name)

	require.ErrorIs(t, d.MarkFailed("boom"), ErrInvalidTransition)
	assert.Equal(t, constant.JobStatusPending, d.Status)
}

func TestDerivativeNeverRegresses(t *testing.T) {
	ready := NewDerivative(constant.DerivativeKindPreview, 1, "a")
	require.NoError(t, ready.MarkProcessing())
	require.NoError(t, ready.MarkReady("n", 1, time.Now()))

	failed := NewDerivative(constant.DerivativeKindPreview, 1, "a")
	require.NoError(t, failed.MarkProcessing())
	require.NoError(t, failed.MarkFailed("probe"))
	assert.Equal(t, "probe", failed.FailureReason)

	for _, d := range []*Derivative{ready, failed} {
		before := d.Status
		assert.ErrorIs(t, d.MarkProcessing(), ErrInvalidTransition)
		assert.ErrorIs(t, d.MarkReady("other", 2, time.Now()), ErrInvalidTransition)
		assert.ErrorIs(t, d.MarkFailed("late"), ErrInvalidTransition)
		assert.Equal(t, before, d.Status)
	}
	assert.Equal(t, "n", *ready.Name)
}

func TestDerivativeReadyRequiresName(t *testing.T) {
	d := NewDerivative(constant.DerivativeKindPreview, 1, "a")
	require.NoError(t, d.MarkProcessing())

	require.ErrorIs(t, d.MarkReady("", 10, time.Now()), ErrInvalidTransition)
	assert.Equal(t, constant.JobStatusProcessing, d.Status)
}
