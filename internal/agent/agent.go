// Package agent wraps the automation service's add-to-cart calls with a
// retry loop and an optional fallback. The fallback is where the external
// AI layer plugs in; this package never makes decisions itself, it only
// sequences attempts and accounts for outcomes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basketline/backend/internal/automation"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

var errMissingClient = errors.New("agent: automation client is required")

// AutomationClient is the slice of the automation API the agent needs.
type AutomationClient interface {
	AddToCartVerified(ctx context.Context, platform, productID string, quantity int64, expectedPincode string) (automation.ActionResult, error)
	ChangeAddress(ctx context.Context, platform, expectedPincode, productID string) (automation.ActionResult, error)
}

// Recorder receives per-item progress so callers can persist execution
// steps. A nil recorder disables step tracking.
type Recorder interface {
	StartStep(ctx context.Context, name, description string) (string, error)
	CompleteStep(ctx context.Context, stepID string, succeeded bool, detail string)
}

// Fallback is invoked after all deterministic attempts for an item fail.
// Implementations live outside this repo (the AI navigation layer).
type Fallback interface {
	AddToCart(ctx context.Context, platform string, item Item, expectedPincode string) error
}

// Item is one product to place in a cart.
type Item struct {
	ProductID string
	Name      string
	Quantity  int64
}

// ItemFailure records an item that could not be added.
type ItemFailure struct {
	ProductID string
	Name      string
	Reason    string
}

// Result accounts for a whole add-items task.
type Result struct {
	Success         bool
	ItemsAdded      []string
	ItemsFailed     []ItemFailure
	AddressVerified bool
	Message         string
}

// Config bundles the agent's dependencies.
type Config struct {
	Client     AutomationClient
	Fallback   Fallback
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Agent sequences add-to-cart attempts per item: deterministic retries
// first, fallback last.
type Agent struct {
	client     AutomationClient
	fallback   Fallback
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// New constructs an agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Agent{
		client:     cfg.Client,
		fallback:   cfg.Fallback,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}, nil
}

// AddItems adds every item to the platform's cart. Each item gets up to
// MaxRetries deterministic attempts with a pause in between; when all fail
// and a fallback is configured, the fallback gets one shot before the item
// is recorded as failed. Each item is reported to the recorder as one step.
func (a *Agent) AddItems(ctx context.Context, platform string, items []Item, expectedPincode string, recorder Recorder) (Result, error) {
	result := Result{
		ItemsAdded:  []string{},
		ItemsFailed: []ItemFailure{},
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		a.logger.Info("adding item to cart",
			zap.String("platform", platform),
			zap.String("product_id", item.ProductID),
			zap.String("name", item.Name))

		stepID := ""
		if recorder != nil {
			id, err := recorder.StartStep(ctx, "add "+item.ProductID, item.Name)
			if err != nil {
				a.logger.Warn("failed to record step",
					zap.String("product_id", item.ProductID),
					zap.Error(err))
			} else {
				stepID = id
			}
		}

		added, verified, lastErr := a.tryDeterministic(ctx, platform, item, expectedPincode)
		if added {
			result.ItemsAdded = append(result.ItemsAdded, item.ProductID)
			if verified {
				result.AddressVerified = true
			}
			if recorder != nil && stepID != "" {
				recorder.CompleteStep(ctx, stepID, true, "")
			}
			continue
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if a.fallback != nil {
			a.logger.Info("trying fallback",
				zap.String("platform", platform),
				zap.String("product_id", item.ProductID))
			if err := a.fallback.AddToCart(ctx, platform, item, expectedPincode); err == nil {
				result.ItemsAdded = append(result.ItemsAdded, item.ProductID)
				if recorder != nil && stepID != "" {
					recorder.CompleteStep(ctx, stepID, true, "added via fallback")
				}
				continue
			} else {
				lastErr = err
			}
		}

		reason := "max retries exceeded"
		if lastErr != nil {
			reason = lastErr.Error()
		}
		if recorder != nil && stepID != "" {
			recorder.CompleteStep(ctx, stepID, false, reason)
		}
		result.ItemsFailed = append(result.ItemsFailed, ItemFailure{
			ProductID: item.ProductID,
			Name:      item.Name,
			Reason:    reason,
		})
	}

	result.Success = len(result.ItemsFailed) == 0
	result.Message = fmt.Sprintf("added %d/%d items", len(result.ItemsAdded), len(items))
	if len(result.ItemsFailed) > 0 {
		result.Message = fmt.Sprintf("%s, %d failed", result.Message, len(result.ItemsFailed))
	}
	return result, nil
}

func (a *Agent) tryDeterministic(ctx context.Context, platform string, item Item, expectedPincode string) (added, verified bool, lastErr error) {
	addressCorrected := false
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		response, err := a.client.AddToCartVerified(ctx, platform, item.ProductID, item.Quantity, expectedPincode)
		if err == nil && response.Success {
			return true, response.AddressVerified, nil
		}
		if err != nil {
			lastErr = err
			a.logger.Warn("attempt errored",
				zap.Int("attempt", attempt),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		} else {
			lastErr = fmt.Errorf("automation reported failure: %s", response.Message)
			a.logger.Warn("attempt failed",
				zap.Int("attempt", attempt),
				zap.String("product_id", item.ProductID),
				zap.String("message", response.Message))
		}

		if attempt < a.maxRetries {
			// A stale delivery address is a common cause of a failed
			// verified add. Switch it once per item before retrying.
			if expectedPincode != "" && !addressCorrected {
				addressCorrected = true
				a.logger.Info("switching delivery address",
					zap.String("platform", platform),
					zap.String("expected_pincode", expectedPincode))
				if _, err := a.client.ChangeAddress(ctx, platform, expectedPincode, item.ProductID); err != nil {
					a.logger.Warn("address change failed",
						zap.String("product_id", item.ProductID),
						zap.Error(err))
				}
			}
			if err := sleepContext(ctx, a.retryDelay); err != nil {
				return false, false, lastErr
			}
		}
	}
	return false, false, lastErr
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
