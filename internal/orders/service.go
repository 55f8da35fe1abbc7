package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basketline/backend/internal/cart"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrOrderNotFound indicates the order id has no record.
	ErrOrderNotFound = errors.New("orders: order not found")
	// ErrEmptyCart indicates the active cart has no items to order.
	ErrEmptyCart = errors.New("orders: cart is empty")
)

const defaultListLimit = 50

// IDProvider issues order identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the order service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service converts active carts into orders and tracks their status.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the order service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("orders: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("orders: %w", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// PlaceOrder converts the active cart for (platform, cartType) into an
// order. The order copies the cart's items and totals, and the cart
// soft-transitions to ordered in the same transaction.
func (s *Service) PlaceOrder(ctx context.Context, platform cart.Platform, cartType cart.CartType, platformOrderID string) (Order, error) {
	var order Order
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activeCart cart.Cart
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("platform = ? AND cart_type = ? AND status = ?",
				platform.String(), cartType.String(), cart.StatusActive.String()).
			Take(&activeCart).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cart.ErrCartNotFound
		}
		if err != nil {
			return err
		}

		items, err := activeCart.Items()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrEmptyCart
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return err
		}

		order = Order{
			ID:              id,
			Platform:        activeCart.Platform,
			CartID:          activeCart.ID,
			PlatformOrderID: platformOrderID,
			ItemsJSON:       activeCart.ItemsJSON,
			TotalAmount:     activeCart.TotalAmount,
			Currency:        activeCart.Currency,
			Status:          string(StatusPending),
			OrderedAt:       s.clock().UTC(),
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		return tx.Model(&cart.Cart{}).
			Where("id = ?", activeCart.ID).
			Updates(map[string]interface{}{
				"status":     cart.StatusOrdered.String(),
				"updated_at": order.OrderedAt,
			}).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, cart.ErrCartNotFound) && !errors.Is(txErr, ErrEmptyCart) {
			s.logger.Error("failed to place order",
				zap.String("platform", platform.String()),
				zap.String("cart_type", cartType.String()),
				zap.Error(txErr))
		}
		return Order{}, txErr
	}
	return order, nil
}

// GetOrder returns one order by id.
func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var order Order
	err := s.db.WithContext(ctx).Where("id = ?", orderID).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// ListOrders returns recent orders, most recent first.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var list []Order
	if err := s.db.WithContext(ctx).
		Order("ordered_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateStatus moves an order to a new status. Delivered orders get their
// delivery timestamp set; tracking info replaces the stored payload when
// provided.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status, trackingJSON *string) (Order, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return Order{}, err
	}

	now := s.clock().UTC()
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": now,
	}
	if status == StatusDelivered {
		updates["delivered_at"] = now
	}
	if trackingJSON != nil {
		updates["tracking_json"] = trackingJSON
	}

	if err := s.db.WithContext(ctx).Model(&Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
		return Order{}, err
	}
	return s.GetOrder(ctx, orderID)
}
