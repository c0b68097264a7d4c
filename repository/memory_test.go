package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-preview/constant"
	"worker-preview/entities"
)

func TestMemoryRepoTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	d := entities.NewDerivative(constant.DerivativeKindPreview, 5, "a.mp4")
	require.NoError(t, repo.Create(ctx, d))

	require.NoError(t, d.MarkProcessing())
	require.NoError(t, repo.Transition(ctx, d, constant.JobStatusPending))

	// A second writer that still believes the row is PENDING loses.
	stale := entities.NewDerivative(constant.DerivativeKindPreview, 5, "a.mp4")
	stale.ID = d.ID
	require.NoError(t, stale.MarkProcessing())
	err := repo.Transition(ctx, stale, constant.JobStatusPending)
	require.ErrorIs(t, err, ErrStaleTransition)

	require.NoError(t, d.MarkReady("a.mp4_preview", 3, time.Now()))
	require.NoError(t, repo.Transition(ctx, d, constant.JobStatusProcessing))

	stored, err := repo.FindById(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusReady, stored.Status)
	assert.Equal(t, "a.mp4_preview", *stored.Name)
	assert.EqualValues(t, 3, *stored.Size)
}

func TestMemoryRepoRejectsNonPendingCreate(t *testing.T) {
	repo := NewMemoryRepo()
	d := entities.NewDerivative(constant.DerivativeKindThumbnail, 1, "p")
	require.NoError(t, d.MarkProcessing())

	err := repo.Create(context.Background(), d)
	require.ErrorIs(t, err, entities.ErrInvalidTransition)
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	d := entities.NewDerivative(constant.DerivativeKindPreview, 1, "a")
	require.NoError(t, repo.Create(ctx, d))

	found, err := repo.FindById(ctx, d.ID)
	require.NoError(t, err)
	found.Status = constant.JobStatusFailed

	again, err := repo.FindById(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusPending, again.Status)
}

func TestMemoryRepoFindByVideoId(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	preview := entities.NewDerivative(constant.DerivativeKindPreview, 10, "a")
	thumb := entities.NewDerivative(constant.DerivativeKindThumbnail, 10, "b")
	thumb.UpdatedAt = preview.UpdatedAt.Add(time.Second)
	other := entities.NewDerivative(constant.DerivativeKindPreview, 11, "c")
	for _, d := range []*entities.Derivative{thumb, preview, other} {
		require.NoError(t, repo.Create(ctx, d))
	}

	found, err := repo.FindByVideoId(ctx, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, preview.ID, found[0].ID)
	assert.Equal(t, thumb.ID, found[1].ID)

	_, err = repo.FindById(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
