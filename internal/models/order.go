package models

import (
	"time"

	"github.com/google/uuid"
)

// Order payment statuses.
const (
	OrderPaymentUnpaid   = "unpaid"
	OrderPaymentPaid     = "paid"
	OrderPaymentFailed   = "failed"
	OrderPaymentRefunded = "refunded"
)

// Order is a customer's purchase. Amounts are whole so'm.
type Order struct {
	BaseModel
	UserID        uuid.UUID   `gorm:"type:uuid;index" json:"user_id"`
	User          *User       `json:"user,omitempty"`
	OrderNumber   string      `gorm:"uniqueIndex" json:"order_number"`
	Status        string      `json:"status"`
	PaymentStatus string      `gorm:"index;default:unpaid" json:"payment_status"`
	PlacedAt      time.Time   `json:"placed_at"`
	PaidAt        *time.Time  `json:"paid_at"`
	Subtotal      int64       `json:"subtotal"`
	ShippingFee   int64       `json:"shipping_fee"`
	TotalAmount   int64       `json:"total_amount"`
	Currency      string      `json:"currency"`
	PaymentMethod string      `json:"payment_method"`
	Notes         string      `json:"notes"`
	Items         []OrderItem `json:"items,omitempty"`
}

// OrderItem is one line of an order. Each line belongs to the seller who listed the product.
type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID  `gorm:"type:uuid;index" json:"order_id"`
	SellerID    uuid.UUID  `gorm:"type:uuid;index" json:"seller_id"`
	ProductID   *uuid.UUID `gorm:"type:uuid" json:"product_id"`
	ProductName string     `json:"product_name"`
	Quantity    int        `json:"quantity"`
	UnitPrice   int64      `json:"unit_price"`
	LineTotal   int64      `json:"line_total"`
}
