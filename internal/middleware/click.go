package middleware

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/services"
)

// ClickSign computes the sign_string Click attaches to prepare and complete calls.
// merchantPrepareID is only part of the signature on complete (action=1).
func ClickSign(clickTransID, serviceID, secret, merchantTransID, merchantPrepareID, amount, action, signTime string) string {
	var b strings.Builder
	b.WriteString(clickTransID)
	b.WriteString(serviceID)
	b.WriteString(secret)
	b.WriteString(merchantTransID)
	if action == "1" {
		b.WriteString(merchantPrepareID)
	}
	b.WriteString(amount)
	b.WriteString(action)
	b.WriteString(signTime)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ClickSignMiddleware verifies sign_string on Click SHOP API calls.
// Without a configured secret every request is refused with 500.
func ClickSignMiddleware(secret string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Error("click webhook secret is not configured")
			return apperrors.New(apperrors.CodeWebhookMisconfigured, "webhook is not configured", http.StatusInternalServerError)
		}

		expected := ClickSign(
			c.FormValue("click_trans_id"),
			c.FormValue("service_id"),
			secret,
			c.FormValue("merchant_trans_id"),
			c.FormValue("merchant_prepare_id"),
			c.FormValue("amount"),
			c.FormValue("action"),
			c.FormValue("sign_time"),
		)
		got := strings.ToLower(strings.TrimSpace(c.FormValue("sign_string")))
		if len(got) != len(expected) || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			log.Warn("click sign check failed",
				zap.String("click_trans_id", c.FormValue("click_trans_id")),
				zap.String("merchant_trans_id", c.FormValue("merchant_trans_id")),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":      services.ClickSignFailed,
				"error_note": "SIGN CHECK FAILED!",
			})
		}

		return c.Next()
	}
}
