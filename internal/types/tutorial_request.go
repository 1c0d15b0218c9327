package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Request status values. Transitions are monotonic:
// pending -> analyzing -> generating -> completed, with failed reachable
// from analyzing and generating. Terminal rows are never rewritten.
const (
	RequestStatusPending    = "pending"
	RequestStatusAnalyzing  = "analyzing"
	RequestStatusGenerating = "generating"
	RequestStatusCompleted  = "completed"
	RequestStatusFailed     = "failed"
)

// Failure cause codes surfaced by the status endpoint.
const (
	CauseAnalysisFailed   = "analysis_failed"
	CauseGenerationFailed = "generation_failed"
	CauseAssemblyFailed   = "assembly_failed"
	CauseCancelled        = "cancelled"
	CauseInternalError    = "internal_error"
)

// TutorialRequest doubles as the job row for the generation worker: the
// lease fields (Attempts/LockedAt/HeartbeatAt) follow the same claim
// discipline as any queued run, and the row itself is the source of truth
// for the state machine.
type TutorialRequest struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	ProblemDescription string         `gorm:"column:problem_description;not null" json:"problem_description"`
	ProblemAudioURL    string         `gorm:"column:problem_audio_url" json:"problem_audio_url,omitempty"`
	ProblemImageURL    string         `gorm:"column:problem_image_url" json:"problem_image_url,omitempty"`
	DeviceID           *uuid.UUID     `gorm:"type:uuid;index" json:"device_id,omitempty"`
	Device             *Device        `gorm:"constraint:OnDelete:SET NULL;foreignKey:DeviceID;references:ID" json:"device,omitempty"`
	DeviceInput        string         `gorm:"column:device_input" json:"device_input,omitempty"`
	Status             string         `gorm:"column:status;not null;default:pending;index" json:"status"`
	Cause              string         `gorm:"column:cause" json:"cause,omitempty"`
	Error              string         `gorm:"column:error" json:"error,omitempty"`
	FailedStep         *int           `gorm:"column:failed_step" json:"failed_step,omitempty"`
	Script             datatypes.JSON `gorm:"type:jsonb;column:script" json:"script,omitempty"`
	CreditsCharged     int            `gorm:"column:credits_charged;not null;default:0" json:"credits_charged"`
	CreditsRefunded    bool           `gorm:"column:credits_refunded;not null;default:false" json:"credits_refunded"`
	CancelRequested    bool           `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	Attempts           int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LockedAt           *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt        *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt        *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TutorialRequest) TableName() string { return "tutorial_request" }

func (r *TutorialRequest) Terminal() bool {
	return r.Status == RequestStatusCompleted || r.Status == RequestStatusFailed
}
