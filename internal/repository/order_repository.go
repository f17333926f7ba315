package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/tendo/internal/models"
	"github.com/example/tendo/internal/utils"
)

// OrderRepository is the order aggregate as seen by the payment flow.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository constructs OrderRepository.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) FindForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) ListForUser(ctx context.Context, userID uuid.UUID, paymentStatus string, pg utils.Pagination) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	if paymentStatus != "" {
		query = query.Where("payment_status = ?", paymentStatus)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("placed_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// MarkPaid flips an unpaid or failed order to paid.
func (r *OrderRepository) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	now := time.Now()
	return r.setPaymentStatus(ctx, orderID, models.OrderPaymentPaid,
		[]string{models.OrderPaymentUnpaid, models.OrderPaymentFailed},
		map[string]any{"status": "confirmed", "paid_at": &now})
}

// MarkFailed records a failed attempt. A paid order is left alone.
func (r *OrderRepository) MarkFailed(ctx context.Context, orderID uuid.UUID) error {
	return r.setPaymentStatus(ctx, orderID, models.OrderPaymentFailed,
		[]string{models.OrderPaymentUnpaid}, nil)
}

// MarkRefunded flips a paid order to refunded.
func (r *OrderRepository) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	return r.setPaymentStatus(ctx, orderID, models.OrderPaymentRefunded,
		[]string{models.OrderPaymentPaid}, map[string]any{"status": "refunded"})
}

// SellerIDs returns the distinct sellers whose items are in the order.
func (r *OrderRepository) SellerIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ?", orderID).
		Distinct().
		Pluck("seller_id", &ids).Error
	return ids, err
}

func (r *OrderRepository) setPaymentStatus(ctx context.Context, orderID uuid.UUID, to string, from []string, extra map[string]any) error {
	updates := map[string]any{"payment_status": to}
	for k, v := range extra {
		updates[k] = v
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", orderID, from).
		Updates(updates).Error
}
