package collector

import (
	"context"
	"errors"
	"time"

	"github.com/basketline/backend/internal/automation"
	"github.com/basketline/backend/internal/cart"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errMissingCartService = errors.New("cart service is required")
	errMissingAutomation  = errors.New("automation client is required")
)

const defaultInterval = 5 * time.Minute

// SnapshotService records a captured cart state.
type SnapshotService interface {
	CreateSnapshot(ctx context.Context, platform cart.Platform, cartType cart.CartType, items []cart.LineItem, totalAmount decimal.NullDecimal, currency string) (cart.SnapshotResult, error)
}

// LiveCartFetcher reads the current cart contents of one platform.
type LiveCartFetcher interface {
	LiveCart(ctx context.Context, platform string) (automation.LiveCart, error)
}

// ConnectedLister reports the platforms that currently have working
// credentials.
type ConnectedLister interface {
	Connected(ctx context.Context) ([]string, error)
}

// Notify is called after every stored snapshot.
type Notify func(platform cart.Platform, cartType cart.CartType, result cart.SnapshotResult)

// Config describes the dependencies of the collector.
type Config struct {
	Carts      SnapshotService
	Automation LiveCartFetcher
	Connectors ConnectedLister
	// Platforms pins the collection set. When empty, the collector asks
	// Connectors for the connected platforms each cycle.
	Platforms []string
	Interval  time.Duration
	Notify    Notify
	Logger    *zap.Logger
}

// Collector periodically pulls live carts from the automation service and
// stores them as snapshots. Failures on one platform never stop the cycle
// for the others.
type Collector struct {
	carts      SnapshotService
	automation LiveCartFetcher
	connectors ConnectedLister
	platforms  []string
	interval   time.Duration
	notify     Notify
	logger     *zap.Logger
}

// New constructs a collector.
func New(cfg Config) (*Collector, error) {
	if cfg.Carts == nil {
		return nil, errMissingCartService
	}
	if cfg.Automation == nil {
		return nil, errMissingAutomation
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		carts:      cfg.Carts,
		automation: cfg.Automation,
		connectors: cfg.Connectors,
		platforms:  cfg.Platforms,
		interval:   interval,
		notify:     cfg.Notify,
		logger:     logger,
	}, nil
}

// Run collects once immediately and then on every tick until ctx is
// cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CollectOnce(ctx)
	for {
		select {
		case <-ticker.C:
			c.CollectOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CollectOnce captures a snapshot for every target platform.
func (c *Collector) CollectOnce(ctx context.Context) {
	for _, platformName := range c.targetPlatforms(ctx) {
		if ctx.Err() != nil {
			return
		}
		c.collectPlatform(ctx, platformName)
	}
}

func (c *Collector) targetPlatforms(ctx context.Context) []string {
	if len(c.platforms) > 0 {
		return c.platforms
	}
	if c.connectors == nil {
		return nil
	}
	connected, err := c.connectors.Connected(ctx)
	if err != nil {
		c.logger.Warn("failed to list connected platforms", zap.Error(err))
		return nil
	}
	return connected
}

func (c *Collector) collectPlatform(ctx context.Context, platformName string) {
	platform, err := cart.NewPlatform(platformName)
	if err != nil {
		c.logger.Warn("skipping invalid platform", zap.String("platform", platformName), zap.Error(err))
		return
	}

	live, err := c.automation.LiveCart(ctx, platform.String())
	if err != nil {
		c.logger.Warn("failed to fetch live cart",
			zap.String("platform", platform.String()),
			zap.Error(err))
		return
	}

	c.storeSection(ctx, platform, cart.CartTypeRegular, live.RegularCart)
	c.storeSection(ctx, platform, cart.CartTypeFresh, live.FreshCart)
}

func (c *Collector) storeSection(ctx context.Context, platform cart.Platform, cartType cart.CartType, section *automation.LiveSection) {
	if section == nil {
		return
	}

	items := make([]cart.LineItem, 0, len(section.Items))
	for _, liveItem := range section.Items {
		items = append(items, cart.LineItem{
			Key:      liveItem.ProductID,
			Name:     liveItem.Title,
			Quantity: liveItem.Quantity,
			Price:    liveItem.Price,
		})
	}

	result, err := c.carts.CreateSnapshot(ctx, platform, cartType, items, section.TotalAmount, section.Currency)
	if err != nil {
		c.logger.Warn("failed to store snapshot",
			zap.String("platform", platform.String()),
			zap.String("cart_type", cartType.String()),
			zap.Error(err))
		return
	}

	if excluded := len(result.Diff.ExcludedOld) + len(result.Diff.ExcludedNew); excluded > 0 {
		c.logger.Warn("capture contained items without product ids",
			zap.String("platform", platform.String()),
			zap.String("cart_type", cartType.String()),
			zap.Int("excluded", excluded))
	}

	c.logger.Info("stored cart snapshot",
		zap.String("platform", platform.String()),
		zap.String("cart_type", cartType.String()),
		zap.String("snapshot_id", result.Snapshot.ID),
		zap.Bool("has_changes", result.HasChanges))

	if c.notify != nil {
		c.notify(platform, cartType, result)
	}
}
