package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/middleware"
	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/services"
	"github.com/example/tendo/internal/validator"
)

// PaymentHandler exposes the customer payment endpoints.
type PaymentHandler struct {
	payments *services.PaymentService
	methods  *services.MethodCatalog
	validate *validator.Validator
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *services.PaymentService, methods *services.MethodCatalog, validate *validator.Validator) *PaymentHandler {
	return &PaymentHandler{payments: payments, methods: methods, validate: validate}
}

type createPaymentRequest struct {
	OrderID       uuid.UUID `json:"orderId" validate:"required"`
	PaymentMethod string    `json:"paymentMethod" validate:"required,oneof=cash card transfer click payme uzcard"`
	ReturnURL     string    `json:"returnUrl" validate:"omitempty,url,max=2048"`
}

// CreatePayment starts a payment for one of the caller's orders.
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if err := h.validate.Validate(&req); err != nil {
		return err
	}

	view, err := h.payments.CreatePayment(c.UserContext(), services.CreatePaymentInput{
		UserID:    userID,
		OrderID:   req.OrderID,
		Method:    models.PaymentMethod(req.PaymentMethod),
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		return translate(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": view})
}

// GetPayment returns one of the caller's payments.
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	return h.withPayment(c, h.payments.Get)
}

// CancelPayment cancels an unpaid payment.
func (h *PaymentHandler) CancelPayment(c *fiber.Ctx) error {
	return h.withPayment(c, h.payments.Cancel)
}

// VerifyPayment re-reads the payment, expiring it first when it has been pending too long.
func (h *PaymentHandler) VerifyPayment(c *fiber.Ctx) error {
	return h.withPayment(c, h.payments.Verify)
}

// ListMethods returns the enabled payment methods.
func (h *PaymentHandler) ListMethods(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.methods.List()})
}

func (h *PaymentHandler) withPayment(c *fiber.Ctx, op func(ctx context.Context, id, userID uuid.UUID) (*services.PaymentView, error)) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return apperrors.Unauthorized("unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperrors.BadRequest("invalid id")
	}

	view, err := op(c.UserContext(), id, userID)
	if err != nil {
		return translate(err)
	}
	return c.JSON(fiber.Map{"success": true, "data": view})
}
