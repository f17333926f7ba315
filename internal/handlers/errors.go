package handlers

import (
	"errors"
	"net/http"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/payment"
	"github.com/example/tendo/internal/repository"
	"github.com/example/tendo/internal/services"
)

// translate maps service and lifecycle errors to API errors. Unknown errors pass through
// and render as 500.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrPaymentNotFound):
		return apperrors.NotFound("payment not found")
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("order not found")
	case errors.Is(err, services.ErrNotificationNotFound):
		return apperrors.NotFound("notification not found")
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		return apperrors.Conflict(apperrors.CodeOrderAlreadyPaid, err.Error())
	case errors.Is(err, services.ErrPaymentAlreadyActive):
		return apperrors.Conflict(apperrors.CodePaymentAlreadyActive, err.Error())
	case errors.Is(err, services.ErrMethodDisabled):
		return apperrors.New(apperrors.CodePaymentMethodDisabled, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrInvalidOrderAmount):
		return apperrors.BadRequest(err.Error())
	case errors.Is(err, services.ErrConcurrentUpdate):
		return apperrors.Conflict(apperrors.CodeConflict, err.Error())
	case errors.Is(err, payment.ErrNotCancellable):
		return apperrors.Conflict(apperrors.CodePaymentNotCancellable, "payment is already paid and cannot be cancelled")
	case errors.Is(err, payment.ErrInvalidTransition),
		errors.Is(err, payment.ErrProviderMismatch),
		errors.Is(err, payment.ErrMissingAmount),
		errors.Is(err, payment.ErrMissingProviderID):
		return apperrors.Conflict(apperrors.CodeInvalidTransition, "payment is not in a state that allows this operation")
	default:
		return err
	}
}
