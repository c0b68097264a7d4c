package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"worker-preview/constant"
	"worker-preview/entities"
)

var (
	ErrNotFound = errors.New("derivative not found")

	// ErrStaleTransition means the stored status no longer matches the
	// expected source status, so another writer got there first.
	ErrStaleTransition = errors.New("derivative status changed concurrently")
)

type DerivativeRepository interface {
	Migrate(ctx context.Context) error
	Create(ctx context.Context, derivative *entities.Derivative) error
	Transition(ctx context.Context, derivative *entities.Derivative, from constant.JobStatus) error
	FindById(ctx context.Context, id uuid.UUID) (*entities.Derivative, error)
	FindByVideoId(ctx context.Context, videoId int64) ([]*entities.Derivative, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB, debug bool) (DerivativeRepository, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(level),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB().WithContext(ctx).AutoMigrate(&entities.Derivative{})
}

func (r *repo) Create(ctx context.Context, derivative *entities.Derivative) error {
	if derivative.Status != constant.JobStatusPending {
		return fmt.Errorf("create derivative %s: %w: must start PENDING, got %s", derivative.ID, entities.ErrInvalidTransition, derivative.Status)
	}
	return r.GetDB().WithContext(ctx).Create(derivative).Error
}

// Transition persists the derivative's current status and READY/FAILED
// fields, but only if the stored row is still in status from.
func (r *repo) Transition(ctx context.Context, derivative *entities.Derivative, from constant.JobStatus) error {
	updates := map[string]interface{}{
		"status":         derivative.Status,
		"name":           derivative.Name,
		"size":           derivative.Size,
		"created_at":     derivative.CreatedAt,
		"failure_reason": derivative.FailureReason,
		"updated_at":     derivative.UpdatedAt,
	}
	result := r.GetDB().WithContext(ctx).
		Model(&entities.Derivative{}).
		Where("id = ? AND status = ?", derivative.ID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, derivative.ID, from)
	}
	return nil
}

func (r *repo) FindById(ctx context.Context, id uuid.UUID) (*entities.Derivative, error) {
	derivative := &entities.Derivative{}
	err := r.GetDB().WithContext(ctx).First(derivative, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return derivative, nil
}

func (r *repo) FindByVideoId(ctx context.Context, videoId int64) ([]*entities.Derivative, error) {
	var derivatives []*entities.Derivative
	err := r.GetDB().WithContext(ctx).Where("video_id = ?", videoId).Order("updated_at ASC").Find(&derivatives).Error
	if err != nil {
		return nil, err
	}
	return derivatives, nil
}
