package types

import (
	"time"

	"github.com/google/uuid"
)

type Feedback struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TutorialID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_feedback_user,priority:1" json:"tutorial_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_feedback_user,priority:2" json:"user_id"`
	WasHelpful bool      `gorm:"column:was_helpful;not null" json:"was_helpful"`
	Comment    string    `gorm:"column:comment" json:"comment,omitempty"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Feedback) TableName() string { return "feedback" }
