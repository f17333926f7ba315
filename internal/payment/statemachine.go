// Package payment holds the payment lifecycle rules. Apply is pure: it never touches
// storage, callers persist the returned record with a compare-and-swap on the old status.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/tendo/internal/models"
)

// EventType names something that happened to a payment.
type EventType string

const (
	EventProviderAccepted  EventType = "provider_accepted"
	EventProviderSucceeded EventType = "provider_succeeded"
	EventProviderFailed    EventType = "provider_failed"
	EventCancelRequested   EventType = "cancel_requested"
	EventRefundCompleted   EventType = "refund_completed"
)

// Outcome tells the caller whether an event changed the payment.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
)

var (
	ErrInvalidTransition = errors.New("payment: transition not allowed")
	ErrNotCancellable    = errors.New("payment: already paid, cannot be cancelled")
	ErrProviderMismatch  = errors.New("payment: provider transaction id mismatch")
	ErrMissingAmount     = errors.New("payment: success event without amount")
	ErrMissingProviderID = errors.New("payment: provider transaction id required")
)

// Event is the input to Apply.
type Event struct {
	Type                  EventType
	ProviderTransactionID string
	// Amount is in so'm. Required for provider_succeeded, recorded when present on provider_accepted.
	Amount             decimal.NullDecimal
	ProviderCreateTime int64
	ReasonCode         *int
	Reason             string
	At                 time.Time
}

// Transition is the result of applying an event.
type Transition struct {
	From    models.PaymentStatus
	To      models.PaymentStatus
	Outcome Outcome
	// Payment is the record to persist. Equal to the input for duplicates.
	Payment        models.Payment
	AmountMismatch bool
}

// Applied reports whether the event moved the payment to a new status.
func (t Transition) Applied() bool {
	return t.Outcome == OutcomeApplied
}

var edges = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentCreated:         {models.PaymentPendingProvider, models.PaymentCancelled},
	models.PaymentPendingProvider: {models.PaymentPaid, models.PaymentFailed, models.PaymentCancelled},
	models.PaymentPaid:            {models.PaymentRefunded},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to models.PaymentStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply decides what ev does to p.
//
// Re-delivery of an event that already took effect yields OutcomeDuplicate and no error.
// Events that make no sense for the current status yield ErrInvalidTransition (or
// ErrNotCancellable for a cancel of a paid payment) and leave p untouched.
func Apply(p models.Payment, ev Event) (Transition, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	from := p.Status
	reject := func(err error) (Transition, error) {
		return Transition{From: from, To: from, Payment: p}, fmt.Errorf("%w: %s on %s", err, ev.Type, from)
	}
	duplicate := func() (Transition, error) {
		return Transition{From: from, To: from, Outcome: OutcomeDuplicate, Payment: p}, nil
	}

	next := p
	switch ev.Type {
	case EventProviderAccepted:
		if ev.ProviderTransactionID == "" {
			return reject(ErrMissingProviderID)
		}
		switch from {
		case models.PaymentCreated:
			next.Status = models.PaymentPendingProvider
			next.ProviderTransactionID = ev.ProviderTransactionID
			next.ProviderCreateTime = ev.ProviderCreateTime
			if ev.Amount.Valid {
				next.ProviderAmount = ev.Amount
			}
			next.AcceptedAt = &at
		case models.PaymentPendingProvider:
			if p.ProviderTransactionID != ev.ProviderTransactionID {
				return reject(ErrProviderMismatch)
			}
			return duplicate()
		default:
			return reject(ErrInvalidTransition)
		}

	case EventProviderSucceeded:
		if !ev.Amount.Valid {
			return reject(ErrMissingAmount)
		}
		if ev.ProviderTransactionID != "" && p.ProviderTransactionID != "" && ev.ProviderTransactionID != p.ProviderTransactionID {
			return reject(ErrProviderMismatch)
		}
		expected := decimal.NewFromInt(p.Amount)
		switch from {
		case models.PaymentPendingProvider:
			next.ProviderAmount = ev.Amount
			if !ev.Amount.Decimal.Equal(expected) {
				next.Status = models.PaymentFailed
				next.NeedsReconciliation = true
				next.ReconciliationNote = fmt.Sprintf("amount mismatch: expected %s, provider reported %s",
					expected.String(), ev.Amount.Decimal.String())
				next.FailureReason = "amount_mismatch"
				next.ClosedAt = &at
				return Transition{From: from, To: next.Status, Outcome: OutcomeApplied, Payment: next, AmountMismatch: true}, nil
			}
			next.Status = models.PaymentPaid
			next.PaidAt = &at
		case models.PaymentPaid:
			if !ev.Amount.Decimal.Equal(expected) {
				return reject(ErrInvalidTransition)
			}
			return duplicate()
		default:
			return reject(ErrInvalidTransition)
		}

	case EventProviderFailed:
		switch from {
		case models.PaymentPendingProvider:
			next.Status = models.PaymentFailed
			next.ReasonCode = ev.ReasonCode
			next.FailureReason = ev.Reason
			next.ClosedAt = &at
		case models.PaymentFailed:
			return duplicate()
		default:
			return reject(ErrInvalidTransition)
		}

	case EventCancelRequested:
		switch from {
		case models.PaymentCreated, models.PaymentPendingProvider:
			next.Status = models.PaymentCancelled
			next.ReasonCode = ev.ReasonCode
			next.FailureReason = ev.Reason
			next.ClosedAt = &at
		case models.PaymentCancelled:
			return duplicate()
		case models.PaymentPaid, models.PaymentRefunded:
			return reject(ErrNotCancellable)
		default:
			return reject(ErrInvalidTransition)
		}

	case EventRefundCompleted:
		switch from {
		case models.PaymentPaid:
			next.Status = models.PaymentRefunded
			if ev.ReasonCode != nil {
				next.ReasonCode = ev.ReasonCode
			}
			next.ClosedAt = &at
		case models.PaymentRefunded:
			return duplicate()
		default:
			return reject(ErrInvalidTransition)
		}

	default:
		return reject(ErrInvalidTransition)
	}

	return Transition{From: from, To: next.Status, Outcome: OutcomeApplied, Payment: next}, nil
}
