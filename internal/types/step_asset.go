package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	StepAssetKindNarration = "narration"
	StepAssetKindVisual    = "visual"
)

// StepAsset records one finished narration or visual artifact for a step.
// Rows are written as each fan-out job lands, so a reclaimed request can
// reuse finished assets instead of regenerating them.
type StepAsset struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID       uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_step_asset,priority:1" json:"request_id"`
	StepIndex       int       `gorm:"column:step_index;not null;uniqueIndex:uniq_step_asset,priority:2" json:"step_index"`
	Kind            string    `gorm:"column:kind;not null;uniqueIndex:uniq_step_asset,priority:3" json:"kind"`
	URL             string    `gorm:"column:url;not null" json:"url"`
	DurationSeconds float64   `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (StepAsset) TableName() string { return "step_asset" }
