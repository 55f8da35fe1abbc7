package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrCartNotFound indicates that no cart exists yet for the requested
	// platform and cart type. Snapshot creation never returns it; the
	// query-side operations do.
	ErrCartNotFound = errors.New("cart: no active cart for platform and cart type")
	noOpLogger      = zap.NewNop()
)

// ServiceError wraps a failure with a dotted operation code for logging and
// error classification.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "cart.service.new"
	opGetOrCreate     = "cart.get_or_create_active"
	opCreateSnapshot  = "cart.create_snapshot"
	opGetHistory      = "cart.get_history"
	opGetChangesSince = "cart.get_changes_since"
	opListActive      = "cart.list_active"
	opUpdateStatus    = "cart.update_status"
)

const defaultHistoryLimit = 50

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for carts and snapshots.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the cart service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns cart state, snapshot history and change queries. It is safe
// for concurrent use; snapshot creation is serialized per cart.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	locks      keyedMutex
}

// NewService constructs the cart service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// SnapshotResult reports the outcome of a snapshot creation.
type SnapshotResult struct {
	Snapshot   CartSnapshot
	CartID     string
	Diff       ItemDiff
	HasChanges bool
}

// ChangeAggregate folds the per-snapshot diffs of a time window into one
// event-log projection. Entries are concatenated in chronological order and
// never deduplicated: an item added and later removed within the window
// appears in both lists.
type ChangeAggregate struct {
	Added           []LineItem
	Removed         []LineItem
	QuantityChanged []QuantityChange
	SnapshotCount   int
}

// GetOrCreateActiveCart finds the active cart for (platform, cartType) or
// creates an empty one. Cart identity is purely the pair; repeated calls
// return the same record.
func (s *Service) GetOrCreateActiveCart(ctx context.Context, platform Platform, cartType CartType) (Cart, error) {
	var cart Cart
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.findOrCreateActiveCart(tx, platform, cartType)
		if err != nil {
			s.logError(opGetOrCreate, "cart_resolve_failed", err,
				zap.String("platform", platform.String()),
				zap.String("cart_type", cartType.String()))
			return newServiceError(opGetOrCreate, "cart_resolve_failed", err)
		}
		cart = found
		return nil
	})
	if txErr != nil {
		return Cart{}, txErr
	}
	return cart, nil
}

// CreateSnapshot persists a new immutable capture of the cart's contents,
// diffed against the previous snapshot for the same cart, and updates the
// cart record to mirror the capture. The whole sequence is atomic: either
// both the snapshot and the cart update are visible, or neither is.
func (s *Service) CreateSnapshot(ctx context.Context, platform Platform, cartType CartType, items []LineItem, totalAmount decimal.NullDecimal, currency string) (SnapshotResult, error) {
	unlock := s.locks.lock(platform.String() + "/" + cartType.String())
	defer unlock()

	if currency == "" {
		currency = DefaultCurrency
	}

	var result SnapshotResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.findOrCreateActiveCart(tx, platform, cartType)
		if err != nil {
			s.logError(opCreateSnapshot, "cart_resolve_failed", err,
				zap.String("platform", platform.String()),
				zap.String("cart_type", cartType.String()))
			return newServiceError(opCreateSnapshot, "cart_resolve_failed", err)
		}

		var previous CartSnapshot
		hasPrevious := true
		err = tx.Where("cart_id = ?", cart.ID).
			Order("captured_at DESC, id DESC").
			Take(&previous).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			hasPrevious = false
		} else if err != nil {
			s.logError(opCreateSnapshot, "previous_select_failed", err, zap.String("cart_id", cart.ID))
			return newServiceError(opCreateSnapshot, "previous_select_failed", err)
		}

		snapshot := CartSnapshot{
			CartID:      cart.ID,
			Platform:    platform.String(),
			CartType:    cartType.String(),
			TotalAmount: totalAmount,
			Currency:    currency,
			ItemCount:   len(items),
			CapturedAt:  s.clock().UTC(),
		}

		snapshot.ID, err = s.idProvider.NewID()
		if err != nil {
			s.logError(opCreateSnapshot, "id_generation_failed", err)
			return newServiceError(opCreateSnapshot, "id_generation_failed", err)
		}

		snapshot.ItemsJSON, err = EncodeItems(items)
		if err != nil {
			s.logError(opCreateSnapshot, "items_encode_failed", err)
			return newServiceError(opCreateSnapshot, "items_encode_failed", err)
		}

		diff := ItemDiff{Added: []LineItem{}, Removed: []LineItem{}, QuantityChanged: []QuantityChange{}}
		if hasPrevious {
			previousItems, err := previous.Items()
			if err != nil {
				s.logError(opCreateSnapshot, "previous_decode_failed", err, zap.String("snapshot_id", previous.ID))
				return newServiceError(opCreateSnapshot, "previous_decode_failed", err)
			}
			diff = DiffItems(previousItems, items)
			if err := snapshot.setDiff(diff); err != nil {
				s.logError(opCreateSnapshot, "diff_encode_failed", err)
				return newServiceError(opCreateSnapshot, "diff_encode_failed", err)
			}
		}

		if err := tx.Create(&snapshot).Error; err != nil {
			s.logError(opCreateSnapshot, "snapshot_insert_failed", err, zap.String("cart_id", cart.ID))
			return newServiceError(opCreateSnapshot, "snapshot_insert_failed", err)
		}

		mirror := map[string]interface{}{
			"items_json":   snapshot.ItemsJSON,
			"total_amount": totalAmount,
			"currency":     currency,
			"updated_at":   snapshot.CapturedAt,
		}
		if err := tx.Model(&Cart{}).Where("id = ?", cart.ID).Updates(mirror).Error; err != nil {
			s.logError(opCreateSnapshot, "cart_update_failed", err, zap.String("cart_id", cart.ID))
			return newServiceError(opCreateSnapshot, "cart_update_failed", err)
		}

		result = SnapshotResult{
			Snapshot:   snapshot,
			CartID:     cart.ID,
			Diff:       diff,
			HasChanges: diff.HasChanges(),
		}
		return nil
	})

	if txErr != nil {
		return SnapshotResult{}, txErr
	}
	return result, nil
}

// GetHistory returns the cart's snapshots, most recent first, bounded by
// limit. A non-positive limit falls back to a default bound. Without
// includeRetired only the active cart resolves; with it the most recent
// cart of any status does, so snapshot history stays reachable after a
// cart is ordered or abandoned.
func (s *Service) GetHistory(ctx context.Context, platform Platform, cartType CartType, limit int, includeRetired bool) ([]CartSnapshot, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var cart Cart
	var err error
	if includeRetired {
		cart, err = s.findLatestCart(ctx, platform, cartType, opGetHistory)
	} else {
		cart, err = s.findActiveCart(ctx, platform, cartType, opGetHistory)
	}
	if err != nil {
		return nil, err
	}

	var snapshots []CartSnapshot
	if err := s.db.WithContext(ctx).
		Where("cart_id = ?", cart.ID).
		Order("captured_at DESC, id DESC").
		Limit(limit).
		Find(&snapshots).Error; err != nil {
		s.logError(opGetHistory, "query_failed", err, zap.String("cart_id", cart.ID))
		return nil, newServiceError(opGetHistory, "query_failed", err)
	}

	return snapshots, nil
}

// GetChangesSince aggregates the diffs of every snapshot captured at or
// after cutoff into one chronological event log.
func (s *Service) GetChangesSince(ctx context.Context, platform Platform, cartType CartType, cutoff time.Time) (ChangeAggregate, error) {
	cart, err := s.findActiveCart(ctx, platform, cartType, opGetChangesSince)
	if err != nil {
		return ChangeAggregate{}, err
	}

	var snapshots []CartSnapshot
	if err := s.db.WithContext(ctx).
		Where("cart_id = ? AND captured_at >= ?", cart.ID, cutoff).
		Order("captured_at ASC, id ASC").
		Find(&snapshots).Error; err != nil {
		s.logError(opGetChangesSince, "query_failed", err, zap.String("cart_id", cart.ID))
		return ChangeAggregate{}, newServiceError(opGetChangesSince, "query_failed", err)
	}

	aggregate := ChangeAggregate{
		Added:           []LineItem{},
		Removed:         []LineItem{},
		QuantityChanged: []QuantityChange{},
		SnapshotCount:   len(snapshots),
	}
	for _, snapshot := range snapshots {
		added, err := snapshot.ItemsAdded()
		if err != nil {
			s.logError(opGetChangesSince, "diff_decode_failed", err, zap.String("snapshot_id", snapshot.ID))
			return ChangeAggregate{}, newServiceError(opGetChangesSince, "diff_decode_failed", err)
		}
		removed, err := snapshot.ItemsRemoved()
		if err != nil {
			s.logError(opGetChangesSince, "diff_decode_failed", err, zap.String("snapshot_id", snapshot.ID))
			return ChangeAggregate{}, newServiceError(opGetChangesSince, "diff_decode_failed", err)
		}
		changed, err := snapshot.ItemsQuantityChanged()
		if err != nil {
			s.logError(opGetChangesSince, "diff_decode_failed", err, zap.String("snapshot_id", snapshot.ID))
			return ChangeAggregate{}, newServiceError(opGetChangesSince, "diff_decode_failed", err)
		}
		aggregate.Added = append(aggregate.Added, added...)
		aggregate.Removed = append(aggregate.Removed, removed...)
		aggregate.QuantityChanged = append(aggregate.QuantityChanged, changed...)
	}

	return aggregate, nil
}

// ListActiveCarts returns every active cart across platforms.
func (s *Service) ListActiveCarts(ctx context.Context) ([]Cart, error) {
	var carts []Cart
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusActive.String()).
		Order("platform ASC, cart_type ASC").
		Find(&carts).Error; err != nil {
		s.logError(opListActive, "query_failed", err)
		return nil, newServiceError(opListActive, "query_failed", err)
	}
	return carts, nil
}

// GetActiveCart returns the active cart for (platform, cartType).
func (s *Service) GetActiveCart(ctx context.Context, platform Platform, cartType CartType) (Cart, error) {
	return s.findActiveCart(ctx, platform, cartType, opListActive)
}

// UpdateStatus soft-transitions the active cart for (platform, cartType) to
// the given status. Carts are never deleted.
func (s *Service) UpdateStatus(ctx context.Context, platform Platform, cartType CartType, status Status) (Cart, error) {
	cart, err := s.findActiveCart(ctx, platform, cartType, opUpdateStatus)
	if err != nil {
		return Cart{}, err
	}

	if err := s.db.WithContext(ctx).Model(&Cart{}).
		Where("id = ?", cart.ID).
		Updates(map[string]interface{}{
			"status":     status.String(),
			"updated_at": s.clock().UTC(),
		}).Error; err != nil {
		s.logError(opUpdateStatus, "update_failed", err, zap.String("cart_id", cart.ID))
		return Cart{}, newServiceError(opUpdateStatus, "update_failed", err)
	}

	cart.Status = status.String()
	return cart, nil
}

func (s *Service) findOrCreateActiveCart(tx *gorm.DB, platform Platform, cartType CartType) (Cart, error) {
	var cart Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("platform = ? AND cart_type = ? AND status = ?", platform.String(), cartType.String(), StatusActive.String()).
		Take(&cart).Error
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Cart{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Cart{}, err
	}
	cart = Cart{
		ID:        id,
		Platform:  platform.String(),
		CartType:  cartType.String(),
		ItemsJSON: "[]",
		Currency:  DefaultCurrency,
		Status:    StatusActive.String(),
	}
	if err := tx.Create(&cart).Error; err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (s *Service) findActiveCart(ctx context.Context, platform Platform, cartType CartType, operation string) (Cart, error) {
	var cart Cart
	err := s.db.WithContext(ctx).
		Where("platform = ? AND cart_type = ? AND status = ?", platform.String(), cartType.String(), StatusActive.String()).
		Take(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Cart{}, newServiceError(operation, "cart_not_found", ErrCartNotFound)
	}
	if err != nil {
		s.logError(operation, "cart_select_failed", err,
			zap.String("platform", platform.String()),
			zap.String("cart_type", cartType.String()))
		return Cart{}, newServiceError(operation, "cart_select_failed", err)
	}
	return cart, nil
}

func (s *Service) findLatestCart(ctx context.Context, platform Platform, cartType CartType, operation string) (Cart, error) {
	var cart Cart
	err := s.db.WithContext(ctx).
		Where("platform = ? AND cart_type = ?", platform.String(), cartType.String()).
		Order("created_at DESC, id DESC").
		Take(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Cart{}, newServiceError(operation, "cart_not_found", ErrCartNotFound)
	}
	if err != nil {
		s.logError(operation, "cart_select_failed", err,
			zap.String("platform", platform.String()),
			zap.String("cart_type", cartType.String()))
		return Cart{}, newServiceError(operation, "cart_select_failed", err)
	}
	return cart, nil
}

func (s *CartSnapshot) setDiff(diff ItemDiff) error {
	added, err := EncodeItems(diff.Added)
	if err != nil {
		return err
	}
	removed, err := EncodeItems(diff.Removed)
	if err != nil {
		return err
	}
	changed, err := encodeQuantityChanges(diff.QuantityChanged)
	if err != nil {
		return err
	}
	s.AddedJSON = &added
	s.RemovedJSON = &removed
	s.QtyChangedJSON = &changed
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("cart service error", attrs...)
}
