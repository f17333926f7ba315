package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/middleware"
	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/repository"
	"github.com/example/tendo/internal/services"
	"github.com/example/tendo/internal/utils"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	db       *gorm.DB
	payments *repository.PaymentRepository
	svc      *services.PaymentService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, payments *repository.PaymentRepository, svc *services.PaymentService) *AdminHandler {
	return &AdminHandler{db: db, payments: payments, svc: svc}
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var totalUsers int64
	if err := h.db.WithContext(ctx).Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var totalOrders int64
	if err := h.db.WithContext(ctx).Model(&models.Order{}).Count(&totalOrders).Error; err != nil {
		return err
	}

	stats, err := h.payments.Stats(ctx)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_users":          totalUsers,
			"total_orders":         totalOrders,
			"payments_by_status":   stats.ByStatus,
			"paid_volume":          stats.PaidVolume,
			"needs_reconciliation": stats.NeedsReconciliation,
		},
	})
}

// ListPayments lists payments with optional status, method, user, order and reconciliation filters.
func (h *AdminHandler) ListPayments(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	filter := repository.PaymentFilter{
		Status: models.PaymentStatus(c.Query("status")),
		Method: models.PaymentMethod(c.Query("method")),
	}
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.BadRequest("invalid user_id")
		}
		filter.UserID = id
	}
	if raw := c.Query("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.BadRequest("invalid order_id")
		}
		filter.OrderID = id
	}
	if raw := c.Query("needs_reconciliation"); raw != "" {
		flag := raw == "true" || raw == "1"
		filter.NeedsReconciliation = &flag
	}

	items, total, err := h.payments.List(c.UserContext(), filter, pg)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       items,
		"pagination": pg.Meta(total),
	})
}

// PaymentStats returns payment counts by status and the paid volume.
func (h *AdminHandler) PaymentStats(c *fiber.Ctx) error {
	stats, err := h.payments.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": stats})
}

// PaymentEvents returns the audit trail of a payment.
func (h *AdminHandler) PaymentEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.BadRequest("invalid id")
	}

	if _, err := h.payments.FindByID(c.UserContext(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("payment not found")
		}
		return err
	}

	events, err := h.payments.ListEvents(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": events})
}

// RefundPayment marks a paid payment refunded.
func (h *AdminHandler) RefundPayment(c *fiber.Ctx) error {
	adminID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.BadRequest("invalid id")
	}

	view, err := h.svc.Refund(c.UserContext(), id, adminID)
	if err != nil {
		return translate(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": view})
}

// ExpireStalePayments runs one expiry sweep on demand.
func (h *AdminHandler) ExpireStalePayments(c *fiber.Ctx) error {
	expired, err := h.svc.ExpireStale(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"expired": expired}})
}
