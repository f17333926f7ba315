package models

import (
	"time"

	"github.com/google/uuid"
)

// Idempotency record statuses.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// IdempotencyRecord remembers one guarded request and, once finished, its response.
type IdempotencyRecord struct {
	BaseModel
	IdempotencyKey string     `gorm:"size:255;uniqueIndex" json:"key"`
	UserID         *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Method         string     `gorm:"size:16" json:"method"`
	Path           string     `json:"path"`
	Action         string     `gorm:"size:64" json:"action"`
	RequestHash    string     `gorm:"size:64" json:"request_hash"`
	Status         string     `gorm:"size:16;index" json:"status"`
	ResponseStatus int        `json:"response_status"`
	ContentType    string     `json:"content_type"`
	ResponseBody   []byte     `json:"-"`
	ExpiresAt      time.Time  `gorm:"index" json:"expires_at"`
}
