package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/example/tendo/internal/app"
	"github.com/example/tendo/internal/apperrors"
	"github.com/example/tendo/internal/config"
	"github.com/example/tendo/internal/database"
	"github.com/example/tendo/internal/logger"
	"github.com/example/tendo/internal/routes"
	"github.com/example/tendo/internal/workers"
)

func main() {
	cfg := config.Load()
	log := logger.Must(cfg.AppEnv)
	defer func() { _ = log.Sync() }()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	container, err := app.New(cfg, db, log)
	if err != nil {
		log.Fatal("wire services", zap.Error(err))
	}
	defer func() { _ = container.Close() }()

	server := fiber.New(fiber.Config{
		AppName:      "Tendo Market API",
		ErrorHandler: apperrors.FiberErrorHandler(log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(fiberlogger.New())

	routes.Register(server, container)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers.NewPaymentExpiryWorker(container.PaymentSvc, time.Minute, log).Start(ctx)
	workers.NewIdempotencyPurgeWorker(container.Idempotency, time.Hour, log).Start(ctx)

	go func() {
		log.Info("starting server", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := server.Listen(":" + cfg.AppPort); err != nil {
			log.Error("fiber.Listen error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
