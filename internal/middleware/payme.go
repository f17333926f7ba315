package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/services"
)

// PaymeLogin is the fixed Basic auth user name Payme sends.
const PaymeLogin = "Paycom"

type paymeRequestID struct {
	ID any `json:"id"`
}

// PaymeAuthMiddleware checks the Basic credentials Payme sends with every merchant API call.
// Without a configured secret every request is refused with 500.
func PaymeAuthMiddleware(secret string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	expected := []byte("Basic " + base64.StdEncoding.EncodeToString([]byte(PaymeLogin+":"+secret)))

	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Error("payme webhook secret is not configured")
			return apperrors.New(apperrors.CodeWebhookMisconfigured, "webhook is not configured", http.StatusInternalServerError)
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(authHeader, "Basic ") {
			return writePaymeAuthError(c)
		}
		if len(authHeader) != len(expected) {
			return writePaymeAuthError(c)
		}
		if subtle.ConstantTimeCompare([]byte(authHeader), expected) != 1 {
			return writePaymeAuthError(c)
		}

		return c.Next()
	}
}

func writePaymeAuthError(c *fiber.Ctx) error {
	var reqID paymeRequestID
	_ = json.Unmarshal(c.Body(), &reqID)
	return c.Status(fiber.StatusUnauthorized).
		JSON(services.NewPaymeErrorResponse(services.PaymeErrorInvalidAuthorization, reqID.ID, nil))
}
