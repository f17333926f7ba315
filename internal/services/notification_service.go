package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/utils"
)

var ErrNotificationNotFound = errors.New("notification not found")

type notificationTemplate struct {
	Title map[string]string
	Body  map[string]string
}

var notificationTemplates = map[string]notificationTemplate{
	TemplatePaymentReceived: {
		Title: map[string]string{"uz": "To'lov qabul qilindi", "ru": "Оплата получена", "en": "Payment received"},
		Body: map[string]string{
			"uz": "{number} raqamli to'lov bo'yicha {amount} qabul qilindi.",
			"ru": "Платёж {number} на сумму {amount} получен.",
			"en": "Payment {number} of {amount} has been received.",
		},
	},
	TemplatePaymentFailed: {
		Title: map[string]string{"uz": "To'lov amalga oshmadi", "ru": "Оплата не прошла", "en": "Payment failed"},
		Body: map[string]string{
			"uz": "{number} raqamli to'lov amalga oshmadi. Qaytadan urinib ko'ring.",
			"ru": "Платёж {number} не прошёл. Попробуйте ещё раз.",
			"en": "Payment {number} did not go through. Please try again.",
		},
	},
	TemplatePaymentRefunded: {
		Title: map[string]string{"uz": "Pul qaytarildi", "ru": "Средства возвращены", "en": "Payment refunded"},
		Body: map[string]string{
			"uz": "{number} raqamli to'lov bo'yicha {amount} qaytarildi.",
			"ru": "По платежу {number} возвращено {amount}.",
			"en": "{amount} from payment {number} has been refunded.",
		},
	},
	TemplateOrderPaid: {
		Title: map[string]string{"uz": "Buyurtma to'landi", "ru": "Заказ оплачен", "en": "Order paid"},
		Body: map[string]string{
			"uz": "{order_id} buyurtmasi to'landi. Mahsulotlarni jo'natishga tayyorlang.",
			"ru": "Заказ {order_id} оплачен. Подготовьте товары к отправке.",
			"en": "Order {order_id} has been paid. Please prepare your items for shipping.",
		},
	},
}

// NotificationService stores in-app notifications and forwards admin alerts to Telegram.
type NotificationService struct {
	db       *gorm.DB
	telegram *TelegramService
	log      *zap.Logger
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(db *gorm.DB, telegram *TelegramService, log *zap.Logger) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{db: db, telegram: telegram, log: log.Named("notifications")}
}

// Notify stores a localized notification for userID.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, templateKey string, data map[string]any) error {
	tpl, ok := notificationTemplates[templateKey]
	if !ok {
		return fmt.Errorf("notification: unknown template %q", templateKey)
	}

	replacer := templateReplacer(data)
	body := make(datatypes.JSONMap, len(tpl.Body))
	for locale, text := range tpl.Body {
		body[locale] = replacer.Replace(text)
	}
	title := make(datatypes.JSONMap, len(tpl.Title))
	for locale, text := range tpl.Title {
		title[locale] = text
	}

	n := models.Notification{
		UserID:      userID,
		TemplateKey: templateKey,
		Title:       title,
		Body:        body,
		Data:        datatypes.JSONMap(data),
	}
	return s.db.WithContext(ctx).Create(&n).Error
}

// NotifyAdmin sends an admin alert in the background.
func (s *NotificationService) NotifyAdmin(_ context.Context, templateKey string, data map[string]any) {
	if s.telegram == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var err error
		switch templateKey {
		case TemplatePaymentReceived:
			err = s.telegram.NotifyPaymentSuccess(ctx, PaymentSuccessNotification{
				PaymentNumber: asInt64(data["number"]),
				OrderID:       asString(data["order_id"]),
				Amount:        asInt64(data["amount"]),
				Currency:      asString(data["currency"]),
				Method:        asString(data["method"]),
			})
		case TemplateReconciliation:
			err = s.telegram.NotifyReconciliation(ctx, ReconciliationNotification{
				PaymentNumber: asInt64(data["number"]),
				OrderID:       asString(data["order_id"]),
				Expected:      asInt64(data["amount"]),
				Reported:      asString(data["reported"]),
				Currency:      asString(data["currency"]),
				Method:        asString(data["method"]),
			})
		default:
			s.log.Warn("no admin alert for template", zap.String("template", templateKey))
			return
		}
		if err != nil {
			s.log.Error("admin alert failed", zap.String("template", templateKey), zap.Error(err))
		}
	}()
}

// ListForUser returns the user's notifications, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, pg utils.Pagination) ([]models.Notification, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.Notification
	if err := query.Order("created_at desc").Limit(pg.Limit).Offset(pg.Offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

func templateReplacer(data map[string]any) *strings.Replacer {
	currency := asString(data["currency"])
	return strings.NewReplacer(
		"{number}", fmt.Sprintf("#%d", asInt64(data["number"])),
		"{amount}", FormatPrice(asInt64(data["amount"]), currency),
		"{order_id}", asString(data["order_id"]),
	)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
