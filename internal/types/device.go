package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Device is immutable catalog reference data. Rows are created by catalog
// maintenance tooling, never by the generation pipeline.
type Device struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Brand         string         `gorm:"column:brand;not null;index" json:"brand"`
	Model         string         `gorm:"column:model;not null;index" json:"model"`
	Category      string         `gorm:"column:category" json:"category,omitempty"`
	SerialPattern string         `gorm:"column:serial_pattern" json:"serial_pattern,omitempty"`
	ManualURL     string         `gorm:"column:manual_url" json:"manual_url,omitempty"`
	Specs         datatypes.JSON `gorm:"type:jsonb;column:specs" json:"specs,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Device) TableName() string { return "device" }
