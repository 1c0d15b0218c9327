package types

import (
	"time"

	"github.com/google/uuid"
)

// Payment rows are recorded by the payment-completion collaborator. Credit
// grants flow through the ledger; this table is the audit trail.
type Payment struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	ProviderPaymentID string    `gorm:"column:provider_payment_id;uniqueIndex" json:"provider_payment_id,omitempty"`
	AmountCents       int       `gorm:"column:amount_cents;not null" json:"amount_cents"`
	CreditsPurchased  int       `gorm:"column:credits_purchased;not null" json:"credits_purchased"`
	Status            string    `gorm:"column:status;not null" json:"status"`
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Payment) TableName() string { return "payment" }
