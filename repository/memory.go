package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"worker-preview/constant"
	"worker-preview/entities"
)

// memoryRepo keeps derivatives in process memory. It backs
// database.driver=memory and the tests.
type memoryRepo struct {
	mu          sync.RWMutex
	derivatives map[uuid.UUID]entities.Derivative
}

func NewMemoryRepo() DerivativeRepository {
	return &memoryRepo{derivatives: make(map[uuid.UUID]entities.Derivative)}
}

func (r *memoryRepo) Migrate(ctx context.Context) error {
	return nil
}

func (r *memoryRepo) Create(ctx context.Context, derivative *entities.Derivative) error {
	if derivative.Status != constant.JobStatusPending {
		return fmt.Errorf("create derivative %s: %w: must start PENDING, got %s", derivative.ID, entities.ErrInvalidTransition, derivative.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.derivatives[derivative.ID]; exists {
		return fmt.Errorf("derivative %s already exists", derivative.ID)
	}
	r.derivatives[derivative.ID] = copyDerivative(derivative)
	return nil
}

func (r *memoryRepo) Transition(ctx context.Context, derivative *entities.Derivative, from constant.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.derivatives[derivative.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, derivative.ID, from)
	}
	r.derivatives[derivative.ID] = copyDerivative(derivative)
	return nil
}

func (r *memoryRepo) FindById(ctx context.Context, id uuid.UUID) (*entities.Derivative, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.derivatives[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyDerivative(&stored)
	return &out, nil
}

func (r *memoryRepo) FindByVideoId(ctx context.Context, videoId int64) ([]*entities.Derivative, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entities.Derivative
	for _, stored := range r.derivatives {
		if stored.VideoId != videoId {
			continue
		}
		d := copyDerivative(&stored)
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// copyDerivative detaches pointer fields so callers cannot mutate stored rows.
func copyDerivative(d *entities.Derivative) entities.Derivative {
	out := *d
	if d.Name != nil {
		name := *d.Name
		out.Name = &name
	}
	if d.Size != nil {
		size := *d.Size
		out.Size = &size
	}
	if d.CreatedAt != nil {
		at := *d.CreatedAt
		out.CreatedAt = &at
	}
	return out
}
