package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/tendo/internal/app"
	"github.com/example/tendo/internal/handlers"
	"github.com/example/tendo/internal/middleware"
	"github.com/example/tendo/internal/models"
)

// Register wires up all HTTP routes.
func Register(router fiber.Router, c *app.Container) {
	cfg := c.Config
	log := c.Log

	authHandler := handlers.NewAuthHandler(c.DB, cfg, c.Validator, log)
	orderHandler := handlers.NewOrderHandler(c.Orders, c.IDs, c.Validator, log)
	paymentHandler := handlers.NewPaymentHandler(c.PaymentSvc, c.Methods, c.Validator)
	paymeHandler := handlers.NewPaymeHandler(c.Payme, log)
	clickHandler := handlers.NewClickHandler(c.Click, log)
	profileHandler := handlers.NewProfileHandler(c.DB, c.Validator)
	notificationHandler := handlers.NewNotificationHandler(c.Notifications)
	adminHandler := handlers.NewAdminHandler(c.DB, c.Payments, c.PaymentSvc)

	api := router.Group("/api/v1")

	api.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"success": true, "status": "ok"})
	})

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// Provider webhooks authenticate with their own credentials, not a user token.
	api.Get("/payments/methods", paymentHandler.ListMethods)
	api.Post("/payments/webhook/payme", middleware.PaymeAuthMiddleware(cfg.PaymeSecretKey, log), paymeHandler.Pay)
	api.Post("/payments/webhook/click", middleware.ClickSignMiddleware(cfg.ClickSecretKey, log), clickHandler.Handle)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(c.Verifier))

	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)

	protected.Post("/payments", middleware.Idempotency(middleware.IdempotencyConfig{
		Store:      c.Idempotency,
		Action:     "payments:create",
		TTL:        cfg.IdempotencyTTL,
		StaleAfter: cfg.IdempotencyStaleAfter,
		Log:        log,
	}), paymentHandler.CreatePayment)
	protected.Get("/payments/:id", paymentHandler.GetPayment)
	protected.Post("/payments/:id/cancel", paymentHandler.CancelPayment)
	protected.Post("/payments/:id/verify", paymentHandler.VerifyPayment)

	protected.Get("/profile", profileHandler.GetProfile)
	protected.Put("/profile", profileHandler.UpdateProfile)

	protected.Get("/notifications", notificationHandler.ListNotifications)
	protected.Post("/notifications/:id/read", notificationHandler.MarkRead)

	// Admin routes
	admin := protected.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	admin.Get("/dashboard", adminHandler.DashboardStats)
	admin.Get("/payments", adminHandler.ListPayments)
	admin.Get("/payments/stats", adminHandler.PaymentStats)
	admin.Get("/payments/:id/events", adminHandler.PaymentEvents)
	admin.Post("/payments/:id/refund", adminHandler.RefundPayment)
	admin.Post("/payments/expire", adminHandler.ExpireStalePayments)
}
