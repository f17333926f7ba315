package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/middleware"
	"github.com/example/tendo/internal/services"
	"github.com/example/tendo/internal/utils"
)

// NotificationHandler exposes the caller's in-app notifications.
type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// ListNotifications returns the caller's notifications, newest first.
func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	pg := utils.ParsePagination(c)
	items, total, err := h.notifications.ListForUser(c.UserContext(), userID, c.QueryBool("unread"), pg)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       items,
		"pagination": pg.Meta(total),
	})
}

// MarkRead marks one notification as read.
func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.BadRequest("invalid id")
	}

	if err := h.notifications.MarkRead(c.UserContext(), id, userID); err != nil {
		return translate(err)
	}
	return c.JSON(fiber.Map{"success": true})
}
