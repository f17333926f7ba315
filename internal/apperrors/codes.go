package apperrors

// ErrorCode is the machine readable code rendered in error responses.
type ErrorCode string

const (
	CodeInternalError    ErrorCode = "INTERNAL_ERROR"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeTooManyRequests  ErrorCode = "TOO_MANY_REQUESTS"

	// Idempotency
	CodeIdempotentInProgress   ErrorCode = "IDEMPOTENT_IN_PROGRESS"
	CodeIdempotencyKeyConflict ErrorCode = "IDEMPOTENCY_KEY_CONFLICT"

	// Payments
	CodeOrderAlreadyPaid       ErrorCode = "ORDER_ALREADY_PAID"
	CodePaymentAlreadyActive   ErrorCode = "PAYMENT_ALREADY_ACTIVE"
	CodePaymentNotCancellable  ErrorCode = "PAYMENT_NOT_CANCELLABLE"
	CodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	CodeWebhookMisconfigured   ErrorCode = "WEBHOOK_MISCONFIGURED"
	CodePaymentMethodDisabled  ErrorCode = "PAYMENT_METHOD_DISABLED"
	CodeInvalidCredentials     ErrorCode = "INVALID_CREDENTIALS"
	CodePhoneAlreadyRegistered ErrorCode = "PHONE_ALREADY_REGISTERED"
)
