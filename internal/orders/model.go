package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks an order through fulfilment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates raw input and returns a Status.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(rawInput))) {
	case StatusPending:
		return StatusPending, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusShipped:
		return StatusShipped, nil
	case StatusDelivered:
		return StatusDelivered, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("orders: invalid status %q", rawInput)
	}
}

// Order is the record of a cart converted into a platform order. Items and
// totals are copied from the cart at placement time so later cart activity
// cannot rewrite order history.
type Order struct {
	ID                string              `gorm:"column:id;primaryKey;size:190;not null"`
	Platform          string              `gorm:"column:platform;size:50;not null;index"`
	CartID            string              `gorm:"column:cart_id;size:190;not null;index"`
	PlatformOrderID   string              `gorm:"column:platform_order_id;size:200"`
	ItemsJSON         string              `gorm:"column:items_json;type:text;not null;default:'[]'"`
	TotalAmount       decimal.NullDecimal `gorm:"column:total_amount;type:decimal(12,2)"`
	Currency          string              `gorm:"column:currency;size:10;not null;default:'INR'"`
	Status            string              `gorm:"column:status;size:20;not null;default:'pending'"`
	TrackingJSON      *string             `gorm:"column:tracking_json;type:text"`
	OrderedAt         time.Time           `gorm:"column:ordered_at;not null;index"`
	EstimatedDelivery *time.Time          `gorm:"column:estimated_delivery"`
	DeliveredAt       *time.Time          `gorm:"column:delivered_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Order) TableName() string {
	return "orders"
}
