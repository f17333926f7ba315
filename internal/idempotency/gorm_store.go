package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/tendo/internal/models"
)

// GormStore keeps records in the idempotency_records table. The unique index on
// idempotency_key is the only serialization point between concurrent requests.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the store clock. Used by tests.
func (s *GormStore) WithClock(now func() time.Time) *GormStore {
	s.now = now
	return s
}

func (s *GormStore) Begin(ctx context.Context, p BeginParams) (BeginResult, error) {
	if p.Key == "" {
		return BeginResult{}, errors.New("idempotency: empty key")
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	// Two rounds: the second one runs after an expired record was removed.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		rec := models.IdempotencyRecord{
			IdempotencyKey: p.Key,
			UserID:         p.UserID,
			Method:         p.Method,
			Path:           p.Path,
			Action:         p.Action,
			RequestHash:    p.RequestHash,
			Status:         models.IdempotencyInProgress,
			ExpiresAt:      now.Add(ttl),
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now

		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
			Create(&rec)
		if res.Error != nil {
			return BeginResult{}, fmt.Errorf("idempotency: insert: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return BeginResult{State: StateNew}, nil
		}

		// Lost the insert: somebody holds the key.
		var existing models.IdempotencyRecord
		err := s.db.WithContext(ctx).Where("idempotency_key = ?", p.Key).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return BeginResult{}, fmt.Errorf("idempotency: load: %w", err)
		}

		if !existing.ExpiresAt.After(now) {
			if err := s.db.WithContext(ctx).
				Where("id = ? AND expires_at = ?", existing.ID, existing.ExpiresAt).
				Delete(&models.IdempotencyRecord{}).Error; err != nil {
				return BeginResult{}, fmt.Errorf("idempotency: drop expired: %w", err)
			}
			continue
		}

		if ownerOf(existing.UserID) != ownerOf(p.UserID) {
			return BeginResult{State: StateConflict}, nil
		}

		mismatch := existing.RequestHash != p.RequestHash
		if existing.Status == models.IdempotencyCompleted {
			return BeginResult{
				State:        StateReplay,
				HashMismatch: mismatch,
				Cached: &CachedResponse{
					StatusCode:  existing.ResponseStatus,
					ContentType: existing.ContentType,
					Body:        existing.ResponseBody,
				},
			}, nil
		}

		if p.StaleAfter > 0 && now.Sub(existing.UpdatedAt) >= p.StaleAfter {
			taken, err := s.takeOver(ctx, existing, p, now)
			if err != nil {
				return BeginResult{}, err
			}
			if taken {
				return BeginResult{State: StateNew, HashMismatch: mismatch, Reclaimed: true}, nil
			}
		}

		return BeginResult{State: StateInProgress, HashMismatch: mismatch}, nil
	}

	return BeginResult{State: StateInProgress}, nil
}

// takeOver claims an abandoned in_progress record. The update only matches while the
// record is unchanged since it was read, so exactly one contender wins.
func (s *GormStore) takeOver(ctx context.Context, existing models.IdempotencyRecord, p BeginParams, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("id = ? AND status = ? AND updated_at = ?", existing.ID, models.IdempotencyInProgress, existing.UpdatedAt).
		Updates(map[string]any{
			"request_hash": p.RequestHash,
			"method":       p.Method,
			"path":         p.Path,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("idempotency: take over: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) Complete(ctx context.Context, key string, resp CachedResponse) error {
	res := s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("idempotency_key = ? AND status = ?", key, models.IdempotencyInProgress).
		Updates(map[string]any{
			"status":          models.IdempotencyCompleted,
			"response_status": resp.StatusCode,
			"content_type":    resp.ContentType,
			"response_body":   resp.Body,
			"updated_at":      s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("idempotency: complete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotInProgress
	}
	return nil
}

// PurgeExpired deletes up to batch records whose expiry is before now.
func (s *GormStore) PurgeExpired(ctx context.Context, now time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("expires_at < ?", now.UTC()).
		Order("expires_at asc").
		Limit(batch).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
