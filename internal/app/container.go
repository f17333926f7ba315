// Package app assembles the services shared by the HTTP server, the workers and the CLI.
package app

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/config"
	"github.com/example/tendo/internal/idempotency"
	"github.com/example/tendo/internal/logger"
	"github.com/example/tendo/internal/repository"
	"github.com/example/tendo/internal/services"
	"github.com/example/tendo/internal/utils"
	"github.com/example/tendo/internal/validator"
)

// Idempotency store backends.
const (
	StoreDB    = "db"
	StoreRedis = "redis"
)

// Container holds the wired dependencies.
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Redis  redis.UniversalClient

	Validator   *validator.Validator
	Verifier    *utils.JWTVerifier
	IDs         *snowflake.Node
	Idempotency idempotency.Store

	Orders   *repository.OrderRepository
	Payments *repository.PaymentRepository

	Methods       *services.MethodCatalog
	Telegram      *services.TelegramService
	Notifications *services.NotificationService
	PaymentSvc    *services.PaymentService
	Payme         *services.PaymeService
	Click         *services.ClickService
}

// New wires every service on top of db.
func New(cfg *config.Config, db *gorm.DB, log *zap.Logger) (*Container, error) {
	log = logger.OrNop(log)

	ids, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}

	methods, err := services.LoadMethodCatalog(cfg.PaymentMethodsFile)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:    cfg,
		DB:        db,
		Log:       log,
		Validator: validator.New(),
		Verifier:  utils.NewJWTVerifier(cfg.JWTSecret),
		IDs:       ids,
		Orders:    repository.NewOrderRepository(db),
		Payments:  repository.NewPaymentRepository(db),
		Methods:   methods,
	}

	switch cfg.IdempotencyStore {
	case StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		c.Redis = redis.NewClient(opts)
		c.Idempotency = idempotency.NewRedisStore(c.Redis, "tendo:idem")
	case StoreDB, "":
		c.Idempotency = idempotency.NewGormStore(db)
	default:
		return nil, fmt.Errorf("unknown IDEMPOTENCY_STORE %q", cfg.IdempotencyStore)
	}

	c.Telegram = services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log)
	c.Notifications = services.NewNotificationService(db, c.Telegram, log)

	checkout := services.NewCheckout(services.CheckoutConfig{
		PaymeMerchantID:     cfg.PaymeMerchantID,
		PaymeCheckoutURL:    cfg.PaymeCheckoutURL,
		ClickServiceID:      cfg.ClickServiceID,
		ClickMerchantID:     cfg.ClickMerchantID,
		ClickMerchantUserID: cfg.ClickMerchantUserID,
	})

	c.PaymentSvc = services.NewPaymentService(c.Payments, c.Orders, c.Notifications, methods, checkout, ids, cfg.PaymentPendingTimeout, log)
	c.Payme = services.NewPaymeService(c.Payments, c.PaymentSvc, log)
	c.Click = services.NewClickService(c.Payments, c.PaymentSvc, cfg.ClickServiceID, log)

	return c, nil
}

// Close releases connections opened by New. The database handle belongs to the caller.
func (c *Container) Close() error {
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}
