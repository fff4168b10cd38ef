package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutAttemptRecord is the GORM model for the checkout_attempts audit table.
// Rows are written once per terminal completion attempt and never read back for deduplication.
type CheckoutAttemptRecord struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Token         string     `gorm:"type:varchar(255);not null;index" json:"token"`
	UserID        string     `gorm:"type:varchar(128);not null;index" json:"user_id"`
	DestinationID string     `gorm:"type:varchar(128)" json:"destination_id"`
	Status        string     `gorm:"type:varchar(32);not null" json:"status"`
	OrderID       string     `gorm:"type:varchar(128)" json:"order_id,omitempty"`
	OrderNumber   string     `gorm:"type:varchar(64)" json:"order_number,omitempty"`
	FailureKind   string     `gorm:"type:varchar(64)" json:"failure_kind,omitempty"`
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (CheckoutAttemptRecord) TableName() string {
	return "checkout_attempts"
}
