package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CartType distinguishes the regular cart from the fresh/grocery cart a
// platform may expose alongside it.
type CartType string

const (
	// CartTypeRegular is the default cart on every platform.
	CartTypeRegular CartType = "regular"
	// CartTypeFresh is the grocery cart on platforms that split it out.
	CartTypeFresh CartType = "fresh"
)

// Status tracks the lifecycle of a cart. Carts are never hard-deleted; they
// only transition between statuses.
type Status string

const (
	// StatusActive marks the cart currently being filled.
	StatusActive Status = "active"
	// StatusOrdered marks a cart that has been converted into an order.
	StatusOrdered Status = "ordered"
	// StatusAbandoned marks a cart that was given up on.
	StatusAbandoned Status = "abandoned"
)

const (
	maxPlatformLength = 50
	// DefaultCurrency is applied when a capture does not report one.
	DefaultCurrency = "INR"
)

var (
	// ErrInvalidPlatform indicates that a platform identifier is empty or exceeds storage bounds.
	ErrInvalidPlatform = errors.New("cart: invalid platform")
	// ErrInvalidCartType indicates that a cart type value is not a known enum member.
	ErrInvalidCartType = errors.New("cart: invalid cart type")
	// ErrInvalidStatus indicates that a status value is not a known enum member.
	ErrInvalidStatus = errors.New("cart: invalid status")
)

// Platform represents a validated platform identifier.
type Platform string

// NewPlatform validates raw input and returns a Platform.
func NewPlatform(rawInput string) (Platform, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPlatform)
	}
	if len(trimmed) > maxPlatformLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPlatform, maxPlatformLength)
	}
	return Platform(trimmed), nil
}

// String returns the underlying platform identifier.
func (p Platform) String() string {
	return string(p)
}

// ParseCartType validates raw input and returns a CartType.
func ParseCartType(rawInput string) (CartType, error) {
	switch CartType(strings.ToLower(strings.TrimSpace(rawInput))) {
	case CartTypeRegular:
		return CartTypeRegular, nil
	case CartTypeFresh:
		return CartTypeFresh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCartType, rawInput)
	}
}

// String returns the underlying cart type value.
func (t CartType) String() string {
	return string(t)
}

// ParseStatus validates raw input and returns a Status.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(rawInput))) {
	case StatusActive:
		return StatusActive, nil
	case StatusOrdered:
		return StatusOrdered, nil
	case StatusAbandoned:
		return StatusAbandoned, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// String returns the underlying status value.
func (s Status) String() string {
	return string(s)
}

// LineItem is one cart line as observed on a platform. Items are identified
// by Key, a platform-stable product identifier; items with an empty Key
// cannot be diffed and are excluded from keyed comparison.
type LineItem struct {
	Key      string          `json:"key"`
	Name     string          `json:"name,omitempty"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// QuantityChange is a line item whose quantity moved between two captures.
// The embedded item carries the new-side record.
type QuantityChange struct {
	LineItem
	OldQuantity int64 `json:"old_quantity"`
	NewQuantity int64 `json:"new_quantity"`
}

// Cart models the latest-known mutable state of one (platform, cart type)
// pair. It mirrors the most recent snapshot and is only updated inside the
// snapshot-creation transaction.
type Cart struct {
	ID          string              `gorm:"column:id;primaryKey;size:190;not null"`
	Platform    string              `gorm:"column:platform;size:50;not null;index:idx_carts_platform_type,priority:1"`
	CartType    string              `gorm:"column:cart_type;size:20;not null;index:idx_carts_platform_type,priority:2"`
	ItemsJSON   string              `gorm:"column:items_json;type:text;not null;default:'[]'"`
	TotalAmount decimal.NullDecimal `gorm:"column:total_amount;type:decimal(12,2)"`
	Currency    string              `gorm:"column:currency;size:10;not null;default:'INR'"`
	Status      string              `gorm:"column:status;size:20;not null;default:'active';index:idx_carts_platform_type,priority:3"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	Snapshots   []CartSnapshot      `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Cart) TableName() string {
	return "carts"
}

// Items decodes the cart's current line items.
func (c Cart) Items() ([]LineItem, error) {
	return DecodeItems(c.ItemsJSON)
}

// CartSnapshot is an immutable capture of a cart at one point in time. The
// three diff columns hold the delta against the immediately preceding
// snapshot for the same cart; they are NULL on the first snapshot and are
// never recomputed afterwards.
type CartSnapshot struct {
	ID             string              `gorm:"column:id;primaryKey;size:190;not null"`
	CartID         string              `gorm:"column:cart_id;size:190;not null;index:idx_snapshots_cart_time,priority:1"`
	Platform       string              `gorm:"column:platform;size:50;not null"`
	CartType       string              `gorm:"column:cart_type;size:20;not null"`
	ItemsJSON      string              `gorm:"column:items_json;type:text;not null;default:'[]'"`
	TotalAmount    decimal.NullDecimal `gorm:"column:total_amount;type:decimal(12,2)"`
	Currency       string              `gorm:"column:currency;size:10;not null;default:'INR'"`
	ItemCount      int                 `gorm:"column:item_count;not null;default:0"`
	AddedJSON      *string             `gorm:"column:items_added_json;type:text"`
	RemovedJSON    *string             `gorm:"column:items_removed_json;type:text"`
	QtyChangedJSON *string             `gorm:"column:items_quantity_changed_json;type:text"`
	CapturedAt     time.Time           `gorm:"column:captured_at;not null;index:idx_snapshots_cart_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (CartSnapshot) TableName() string {
	return "cart_snapshots"
}

// Items decodes the full item list stored on the snapshot.
func (s CartSnapshot) Items() ([]LineItem, error) {
	return DecodeItems(s.ItemsJSON)
}

// ItemsAdded decodes the added-items diff payload; nil when the snapshot has
// no predecessor.
func (s CartSnapshot) ItemsAdded() ([]LineItem, error) {
	if s.AddedJSON == nil {
		return nil, nil
	}
	return DecodeItems(*s.AddedJSON)
}

// ItemsRemoved decodes the removed-items diff payload; nil when the snapshot
// has no predecessor.
func (s CartSnapshot) ItemsRemoved() ([]LineItem, error) {
	if s.RemovedJSON == nil {
		return nil, nil
	}
	return DecodeItems(*s.RemovedJSON)
}

// ItemsQuantityChanged decodes the quantity-change diff payload; nil when the
// snapshot has no predecessor.
func (s CartSnapshot) ItemsQuantityChanged() ([]QuantityChange, error) {
	if s.QtyChangedJSON == nil {
		return nil, nil
	}
	var changes []QuantityChange
	if err := json.Unmarshal([]byte(*s.QtyChangedJSON), &changes); err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []QuantityChange{}
	}
	return changes, nil
}

// HasChanges reports whether any of the snapshot's diff payloads is
// non-empty. It is false both for the first snapshot of a cart and for a
// capture identical to its predecessor.
func (s CartSnapshot) HasChanges() bool {
	for _, payload := range []*string{s.AddedJSON, s.RemovedJSON, s.QtyChangedJSON} {
		if payload == nil {
			continue
		}
		trimmed := strings.TrimSpace(*payload)
		if trimmed != "" && trimmed != "[]" && trimmed != "null" {
			return true
		}
	}
	return false
}

// EncodeItems serializes line items for storage. A nil slice encodes as an
// empty list.
func EncodeItems(items []LineItem) (string, error) {
	if items == nil {
		items = []LineItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeQuantityChanges(changes []QuantityChange) (string, error) {
	if changes == nil {
		changes = []QuantityChange{}
	}
	encoded, err := json.Marshal(changes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeItems deserializes a stored item list. Empty input decodes as an
// empty list.
func DecodeItems(encoded string) ([]LineItem, error) {
	if strings.TrimSpace(encoded) == "" {
		return []LineItem{}, nil
	}
	var items []LineItem
	if err := json.Unmarshal([]byte(encoded), &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []LineItem{}
	}
	return items, nil
}
