package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Profile struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string         `gorm:"column:email;not null;uniqueIndex" json:"email"`
	FullName         string         `gorm:"column:full_name" json:"full_name,omitempty"`
	AvatarURL        string         `gorm:"column:avatar_url" json:"avatar_url,omitempty"`
	Credits          int            `gorm:"column:credits;not null;default:0" json:"credits"`
	SubscriptionTier string         `gorm:"column:subscription_tier;not null;default:free" json:"subscription_tier"` // free|pro|business
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Profile) TableName() string { return "profile" }
