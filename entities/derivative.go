package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"worker-preview/constant"
)

var ErrInvalidTransition = errors.New("invalid derivative status transition")

// Derivative is a generated artifact (preview clip or thumbnail image) of a
// source video. Status only moves PENDING -> PROCESSING -> READY|FAILED.
type Derivative struct {
	ID            uuid.UUID               `json:"id" gorm:"type:uuid;primary_key"`
	VideoId       int64                   `json:"video_id" gorm:"type:bigint;not null;index:idx_derivatives_video_id"`
	Kind          constant.DerivativeKind `json:"kind" gorm:"type:varchar(20);not null"`
	SourceName    string                  `json:"source_name" gorm:"type:varchar(500);not null"`
	Name          *string                 `json:"name" gorm:"type:varchar(500)"`
	Size          *int64                  `json:"size" gorm:"type:bigint"`
	Status        constant.JobStatus      `json:"status" gorm:"type:varchar(20);not null;check:status IN ('PENDING', 'PROCESSING', 'READY', 'FAILED')"`
	FailureReason string                  `json:"failure_reason" gorm:"type:text"`
	CreatedAt     *time.Time              `json:"created_at" gorm:"type:timestamptz;autoCreateTime:false"`
	UpdatedAt     time.Time               `json:"updated_at" gorm:"type:timestamptz;not null"`
}

func (Derivative) TableName() string {
	return "derivatives"
}

func NewDerivative(kind constant.DerivativeKind, videoId int64, sourceName string) *Derivative {
	return &Derivative{
		ID:         uuid.New(),
		VideoId:    videoId,
		Kind:       kind,
		SourceName: sourceName,
		Status:     constant.JobStatusPending,
		UpdatedAt:  time.Now().UTC(),
	}
}

func (d *Derivative) MarkProcessing() error {
	if d.Status != constant.JobStatusPending {
		return d.invalid(constant.JobStatusProcessing)
	}
	d.Status = constant.JobStatusProcessing
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkReady records the stored object's name and size together with the
// READY status. Both are set only here.
func (d *Derivative) MarkReady(name string, size int64, at time.Time) error {
	if d.Status != constant.JobStatusProcessing {
		return d.invalid(constant.JobStatusReady)
	}
	if name == "" || size < 0 {
		return fmt.Errorf("%w: ready derivative needs a name and a non-negative size", ErrInvalidTransition)
	}
	at = at.UTC()
	d.Status = constant.JobStatusReady
	d.Name = &name
	d.Size = &size
	d.CreatedAt = &at
	d.UpdatedAt = at
	return nil
}

func (d *Derivative) MarkFailed(reason string) error {
	if d.Status != constant.JobStatusProcessing {
		return d.invalid(constant.JobStatusFailed)
	}
	d.Status = constant.JobStatusFailed
	d.FailureReason = reason
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *Derivative) Terminal() bool {
	return d.Status == constant.JobStatusReady || d.Status == constant.JobStatusFailed
}

func (d *Derivative) invalid(to constant.JobStatus) error {
	return fmt.Errorf("%w: %s -> %s (derivative %s)", ErrInvalidTransition, d.Status, to, d.ID)
}
