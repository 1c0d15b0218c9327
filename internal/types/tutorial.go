package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tutorial is written exactly once, inside the same transaction that marks
// its request completed. Counters are the only fields mutated afterwards.
type Tutorial struct {
	ID              uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID       uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex" json:"request_id"`
	Request         *TutorialRequest `gorm:"constraint:OnDelete:CASCADE;foreignKey:RequestID;references:ID" json:"request,omitempty"`
	Title           string           `gorm:"column:title;not null" json:"title"`
	Script          datatypes.JSON   `gorm:"type:jsonb;column:script" json:"script,omitempty"`
	VideoURL        string           `gorm:"column:video_url;not null" json:"video_url"`
	ThumbnailURL    string           `gorm:"column:thumbnail_url" json:"thumbnail_url,omitempty"`
	DurationSeconds float64          `gorm:"column:duration_seconds;not null;default:0" json:"duration_seconds"`
	Language        string           `gorm:"column:language;not null;default:en" json:"language"`
	StepsCount      int              `gorm:"column:steps_count;not null;default:0" json:"steps_count"`
	IsPublic        bool             `gorm:"column:is_public;not null;default:false" json:"is_public"`
	Views           int              `gorm:"column:views;not null;default:0" json:"views"`
	HelpfulVotes    int              `gorm:"column:helpful_votes;not null;default:0" json:"helpful_votes"`
	NotHelpfulVotes int              `gorm:"column:not_helpful_votes;not null;default:0" json:"not_helpful_votes"`
	CreatedAt       time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt       gorm.DeletedAt   `gorm:"index" json:"deleted_at,omitempty"`
}

func (Tutorial) TableName() string { return "tutorial" }
