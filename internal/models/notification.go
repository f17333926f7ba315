package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notification is an in-app message for a user. Title and body are keyed by locale.
type Notification struct {
	BaseModel
	UserID      uuid.UUID         `gorm:"type:uuid;index" json:"user_id"`
	TemplateKey string            `gorm:"index" json:"template_key"`
	Title       datatypes.JSONMap `json:"title"`
	Body        datatypes.JSONMap `json:"body"`
	Data        datatypes.JSONMap `json:"data,omitempty"`
	ReadAt      *time.Time        `json:"read_at"`
}
