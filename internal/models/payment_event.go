package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Payment event outcomes.
const (
	EventOutcomeApplied   = "applied"
	EventOutcomeDuplicate = "duplicate"
	EventOutcomeRejected  = "rejected"
)

// PaymentEvent is the audit trail of every event offered to a payment.
type PaymentEvent struct {
	BaseModel
	PaymentID             uuid.UUID      `gorm:"type:uuid;index" json:"payment_id"`
	Source                string         `gorm:"index" json:"source"`
	EventType             string         `json:"event_type"`
	ProviderTransactionID string         `gorm:"index" json:"provider_transaction_id,omitempty"`
	FromStatus            PaymentStatus  `json:"from_status"`
	ToStatus              PaymentStatus  `json:"to_status"`
	Outcome               string         `gorm:"index" json:"outcome"`
	Anomaly               bool           `gorm:"index" json:"anomaly"`
	Error                 string         `json:"error,omitempty"`
	Payload               datatypes.JSON `json:"payload,omitempty"`
}
