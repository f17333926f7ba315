package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is a state of the payment lifecycle.
type PaymentStatus string

const (
	PaymentCreated         PaymentStatus = "created"
	PaymentPendingProvider PaymentStatus = "pending_provider"
	PaymentPaid            PaymentStatus = "paid"
	PaymentFailed          PaymentStatus = "failed"
	PaymentCancelled       PaymentStatus = "cancelled"
	PaymentRefunded        PaymentStatus = "refunded"
)

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodClick    PaymentMethod = "click"
	MethodPayme    PaymentMethod = "payme"
	MethodUzcard   PaymentMethod = "uzcard"
)

// PaymentMethods lists every supported method.
var PaymentMethods = []PaymentMethod{MethodCash, MethodCard, MethodTransfer, MethodClick, MethodPayme, MethodUzcard}

// Payment is one attempt to pay for one order. Amount is whole so'm and never changes.
type Payment struct {
	BaseModel
	Number                int64               `gorm:"uniqueIndex" json:"number"`
	OrderID               uuid.UUID           `gorm:"type:uuid;index" json:"order_id"`
	UserID                uuid.UUID           `gorm:"type:uuid;index" json:"user_id"`
	Method                PaymentMethod       `gorm:"index" json:"method"`
	Amount                int64               `json:"amount"`
	Currency              string              `json:"currency"`
	Status                PaymentStatus       `gorm:"index" json:"status"`
	ProviderTransactionID string              `gorm:"index" json:"provider_transaction_id,omitempty"`
	ProviderAmount        decimal.NullDecimal `gorm:"type:numeric(20,2)" json:"provider_amount"`
	ProviderCreateTime    int64               `gorm:"index" json:"provider_create_time,omitempty"`
	ReasonCode            *int                `json:"reason_code,omitempty"`
	FailureReason         string              `json:"failure_reason,omitempty"`
	NeedsReconciliation   bool                `gorm:"index" json:"needs_reconciliation"`
	ReconciliationNote    string              `json:"reconciliation_note,omitempty"`
	ReturnURL             string              `json:"return_url,omitempty"`
	AcceptedAt            *time.Time          `json:"accepted_at,omitempty"`
	PaidAt                *time.Time          `json:"paid_at,omitempty"`
	ClosedAt              *time.Time          `json:"closed_at,omitempty"`
}

// IsTerminal reports whether no further transition other than a refund can happen.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentPaid, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

// IsActive reports whether the payment still blocks a new attempt for its order.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentCreated || s == PaymentPendingProvider
}
