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

// ErrNotFound is returned when a looked up row does not exist.
var ErrNotFound = errors.New("repository: not found")

// PaymentRepository persists payments and their audit events.
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository constructs PaymentRepository.
func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// PaymentFilter narrows admin listings. Zero values are ignored.
type PaymentFilter struct {
	Status              models.PaymentStatus
	Method              models.PaymentMethod
	UserID              uuid.UUID
	OrderID             uuid.UUID
	NeedsReconciliation *bool
}

// PaymentStats is the admin summary.
type PaymentStats struct {
	ByStatus            map[models.PaymentStatus]int64 `json:"by_status"`
	PaidVolume          int64                          `json:"paid_volume"`
	NeedsReconciliation int64                          `json:"needs_reconciliation"`
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentRepository) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, "id = ? AND user_id = ?", id, userID)
}

func (r *PaymentRepository) FindByNumber(ctx context.Context, number int64) (*models.Payment, error) {
	return r.first(ctx, "number = ?", number)
}

func (r *PaymentRepository) FindByProviderTransaction(ctx context.Context, method models.PaymentMethod, txID string) (*models.Payment, error) {
	if txID == "" {
		return nil, ErrNotFound
	}
	return r.first(ctx, "method = ? AND provider_transaction_id = ?", method, txID)
}

// FindActiveByOrder returns the order's payments that are still created or pending.
func (r *PaymentRepository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []models.PaymentStatus{models.PaymentCreated, models.PaymentPendingProvider}).
		Order("created_at asc").
		Find(&payments).Error
	return payments, err
}

// CompareAndSwap writes next only if the stored status is still from.
// It reports false when another writer changed the payment first.
func (r *PaymentRepository) CompareAndSwap(ctx context.Context, next *models.Payment, from models.PaymentStatus) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", next.ID, from).
		Updates(map[string]any{
			"status":                  next.Status,
			"provider_transaction_id": next.ProviderTransactionID,
			"provider_amount":         next.ProviderAmount,
			"provider_create_time":    next.ProviderCreateTime,
			"reason_code":             next.ReasonCode,
			"failure_reason":          next.FailureReason,
			"needs_reconciliation":    next.NeedsReconciliation,
			"reconciliation_note":     next.ReconciliationNote,
			"accepted_at":             next.AcceptedAt,
			"paid_at":                 next.PaidAt,
			"closed_at":               next.ClosedAt,
			"updated_at":              now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	next.UpdatedAt = now
	return true, nil
}

// ListPendingAcceptedBefore returns pending payments accepted by the provider before cutoff.
func (r *PaymentRepository) ListPendingAcceptedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND accepted_at < ?", models.PaymentPendingProvider, cutoff).
		Order("accepted_at asc").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// ListByProviderCreateTime returns the method's payments whose provider creation time,
// in unix milliseconds, falls inside [from, to].
func (r *PaymentRepository) ListByProviderCreateTime(ctx context.Context, method models.PaymentMethod, from, to int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("method = ? AND provider_transaction_id <> '' AND provider_create_time >= ? AND provider_create_time <= ?", method, from, to).
		Order("provider_create_time asc").
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) List(ctx context.Context, f PaymentFilter, pg utils.Pagination) ([]models.Payment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Method != "" {
		query = query.Where("method = ?", f.Method)
	}
	if f.UserID != uuid.Nil {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.OrderID != uuid.Nil {
		query = query.Where("order_id = ?", f.OrderID)
	}
	if f.NeedsReconciliation != nil {
		query = query.Where("needs_reconciliation = ?", *f.NeedsReconciliation)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []models.Payment
	if err := query.
		Order("created_at desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *PaymentRepository) Stats(ctx context.Context) (PaymentStats, error) {
	type statusCount struct {
		Status models.PaymentStatus
		Count  int64
	}
	var counts []statusCount
	if err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error; err != nil {
		return PaymentStats{}, err
	}

	stats := PaymentStats{ByStatus: make(map[models.PaymentStatus]int64, len(counts))}
	for _, sc := range counts {
		stats.ByStatus[sc.Status] = sc.Count
	}

	if err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("status = ?", models.PaymentPaid).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.PaidVolume).Error; err != nil {
		return PaymentStats{}, err
	}

	if err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("needs_reconciliation = ?", true).
		Count(&stats.NeedsReconciliation).Error; err != nil {
		return PaymentStats{}, err
	}
	return stats, nil
}

func (r *PaymentRepository) RecordEvent(ctx context.Context, ev *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *PaymentRepository) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at asc").
		Find(&events).Error
	return events, err
}

func (r *PaymentRepository) first(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where(query, args...).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
