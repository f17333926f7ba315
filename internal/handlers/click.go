package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/services"
)

// ClickHandler serves the Click SHOP API prepare and complete calls.
type ClickHandler struct {
	click *services.ClickService
	log   *zap.Logger
}

func NewClickHandler(click *services.ClickService, log *zap.Logger) *ClickHandler {
	return &ClickHandler{click: click, log: log.Named("click")}
}

// Handle answers both actions on one URL; the action field selects prepare or complete.
func (h *ClickHandler) Handle(c *fiber.Ctx) error {
	var req services.ClickRequest
	if err := c.BodyParser(&req); err != nil {
		h.log.Warn("failed to parse request body", zap.Error(err))
		return c.JSON(services.ClickResponse{
			Error:     services.ClickRequestError,
			ErrorNote: "Error in request from click",
		})
	}

	h.log.Info("shop api call",
		zap.Int("action", req.Action),
		zap.Int64("click_trans_id", req.ClickTransID),
		zap.String("merchant_trans_id", req.MerchantTransID),
	)

	resp, err := h.click.Handle(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}
