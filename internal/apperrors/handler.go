package apperrors

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every failed API response.
type ErrorBody struct {
	Success bool      `json:"success"`
	Error   ErrorInfo `json:"error"`
}

type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// FiberErrorHandler renders errors returned by handlers and middleware.
func FiberErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		status, body := Render(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		return c.Status(status).JSON(body)
	}
}

// Render maps err to an HTTP status and response body.
func Render(err error) (int, ErrorBody) {
	if appErr, ok := As(err); ok {
		status := appErr.HTTPCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		message := appErr.Message
		if status >= http.StatusInternalServerError && appErr.Code == CodeInternalError {
			message = "internal server error"
		}
		return status, ErrorBody{Error: ErrorInfo{Code: appErr.Code, Message: message, Details: appErr.Details}}
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorBody{Error: ErrorInfo{Code: codeForStatus(fiberErr.Code), Message: fiberErr.Message}}
	}

	return http.StatusInternalServerError, ErrorBody{Error: ErrorInfo{Code: CodeInternalError, Message: "internal server error"}}
}

func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidationFailed
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeTooManyRequests
	default:
		return CodeInternalError
	}
}
