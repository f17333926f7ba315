package handlers

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/middleware"
	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/repository"
	"github.com/example/tendo/internal/utils"
	"github.com/example/tendo/internal/validator"
)

const defaultCurrency = "UZS"

// OrderHandler manages order endpoints.
type OrderHandler struct {
	orders   *repository.OrderRepository
	ids      *snowflake.Node
	validate *validator.Validator
	log      *zap.Logger
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *repository.OrderRepository, ids *snowflake.Node, validate *validator.Validator, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, ids: ids, validate: validate, log: log.Named("orders")}
}

type orderItemRequest struct {
	SellerID    uuid.UUID  `json:"seller_id" validate:"required"`
	ProductID   *uuid.UUID `json:"product_id"`
	ProductName string     `json:"product_name" validate:"required,max=255"`
	Quantity    int        `json:"quantity" validate:"required,min=1"`
	UnitPrice   int64      `json:"unit_price" validate:"required,min=1"`
}

type createOrderRequest struct {
	Items         []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingFee   int64              `json:"shipping_fee" validate:"min=0"`
	PaymentMethod string             `json:"payment_method" validate:"omitempty,oneof=cash card transfer click payme uzcard"`
	Notes         string             `json:"notes" validate:"max=1000"`
}

// CreateOrder allows authenticated users to place an order.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if err := h.validate.Validate(&req); err != nil {
		return err
	}

	order := models.Order{
		UserID:        userID,
		OrderNumber:   h.generateOrderNumber(),
		Status:        "new",
		PaymentStatus: models.OrderPaymentUnpaid,
		PlacedAt:      time.Now().UTC(),
		ShippingFee:   req.ShippingFee,
		Currency:      defaultCurrency,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}

	for _, item := range req.Items {
		line := item.UnitPrice * int64(item.Quantity)
		order.Subtotal += line
		order.Items = append(order.Items, models.OrderItem{
			SellerID:    item.SellerID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   line,
		})
	}
	order.TotalAmount = order.Subtotal + order.ShippingFee

	if err := h.orders.Create(c.UserContext(), &order); err != nil {
		return err
	}

	h.log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.TotalAmount),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": order})
}

// ListOrders returns orders for authenticated user.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	pg := utils.ParsePagination(c)
	orders, total, err := h.orders.ListForUser(c.UserContext(), userID, c.Query("payment_status"), pg)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       orders,
		"pagination": pg.Meta(total),
	})
}

// GetOrder returns a single order for the authenticated user.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.BadRequest("invalid id")
	}

	order, err := h.orders.FindForUser(c.UserContext(), id, userID)
	if err != nil {
		return translate(err)
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

func (h *OrderHandler) generateOrderNumber() string {
	return "TM-" + h.ids.Generate().Base36()
}
