package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/idempotency"
)

// IdempotencyConfig configures the Idempotency middleware.
type IdempotencyConfig struct {
	Store idempotency.Store
	// Action tags the guarded operation, e.g. "payments:create". It prefixes derived keys.
	Action     string
	TTL        time.Duration
	StaleAfter time.Duration
	Log        *zap.Logger
}

// Idempotency runs the wrapped handler at most once per key and replays its response to
// every later request with the same key. The key is the Idempotency-Key header, or one
// derived from the request when the header is absent. Must run after AuthMiddleware so
// the caller is part of the fingerprint.
func Idempotency(cfg IdempotencyConfig) fiber.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("idempotency")
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}

	return func(c *fiber.Ctx) error {
		var (
			owner  *uuid.UUID
			userID string
		)
		if id, ok := GetCurrentUserID(c); ok {
			owner = &id
			userID = id.String()
		}

		fingerprint := idempotency.Fingerprint(c.Method(), c.Path(), userID, c.Body())
		key := idempotency.EffectiveKey(c.Get(idempotency.HeaderKey), cfg.Action, fingerprint)

		res, err := cfg.Store.Begin(c.UserContext(), idempotency.BeginParams{
			Key:         key,
			UserID:      owner,
			Method:      c.Method(),
			Path:        c.Path(),
			Action:      cfg.Action,
			RequestHash: fingerprint,
			TTL:         ttl,
			StaleAfter:  cfg.StaleAfter,
		})
		if err != nil {
			return apperrors.InternalError(err)
		}

		if res.HashMismatch {
			log.Warn("idempotency key reused with a different request",
				zap.String("key", key),
				zap.String("action", cfg.Action),
				zap.String("user_id", userID),
			)
		}

		switch res.State {
		case idempotency.StateReplay:
			c.Set(idempotency.HeaderReplayed, "true")
			if res.Cached.ContentType != "" {
				c.Set(fiber.HeaderContentType, res.Cached.ContentType)
			}
			return c.Status(res.Cached.StatusCode).Send(res.Cached.Body)
		case idempotency.StateInProgress:
			return apperrors.Conflict(apperrors.CodeIdempotentInProgress,
				"a request with this idempotency key is already being processed")
		case idempotency.StateConflict:
			return apperrors.Conflict(apperrors.CodeIdempotencyKeyConflict,
				"idempotency key is already used by another request")
		}

		if res.Reclaimed {
			log.Info("took over stale idempotency record", zap.String("key", key))
		}

		if err := runHandler(c); err != nil {
			if renderErr := c.App().Config().ErrorHandler(c, err); renderErr != nil {
				log.Error("render handler error", zap.String("key", key), zap.Error(renderErr))
				c.Status(fiber.StatusInternalServerError)
			}
		}

		resp := idempotency.CachedResponse{
			StatusCode:  c.Response().StatusCode(),
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := cfg.Store.Complete(context.WithoutCancel(c.UserContext()), key, resp); err != nil {
			log.Error("complete idempotency record",
				zap.String("key", key),
				zap.Int("status", resp.StatusCode),
				zap.Error(err),
			)
		}
		return nil
	}
}

// runHandler calls the rest of the chain and turns a panic into an error so that the
// record is still completed.
func runHandler(c *fiber.Ctx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.InternalError(fmt.Errorf("panic: %v", r))
		}
	}()
	return c.Next()
}
