package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/basketline/backend/internal/automation"
)

// BrowserClient is the slice of the automation API the browser fallback
// needs: steer the session to the product page and retry a plain add.
type BrowserClient interface {
	Navigate(ctx context.Context, targetURL, waitUntil string) error
	AddToCart(ctx context.Context, platform, productID string, quantity int64) (automation.ActionResult, error)
	LiveCart(ctx context.Context, platform string) (automation.LiveCart, error)
}

// productPageTemplates maps a platform to its product page URL pattern.
// Platforms without a template skip the navigation stage.
var productPageTemplates = map[string]string{
	"amazon": "https://www.amazon.in/dp/%s",
}

var errItemNotInCart = errors.New("agent: item not found in cart after fallback attempt")

// BrowserFallback recovers a failed verified add by navigating straight to
// the product page, retrying the plain add, and confirming the item landed
// in the live cart.
type BrowserFallback struct {
	client BrowserClient
	logger *zap.Logger
}

// NewBrowserFallback constructs the fallback around an automation client.
func NewBrowserFallback(client BrowserClient, logger *zap.Logger) (*BrowserFallback, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrowserFallback{client: client, logger: logger}, nil
}

// AddToCart implements Fallback.
func (f *BrowserFallback) AddToCart(ctx context.Context, platform string, item Item, expectedPincode string) error {
	if template, ok := productPageTemplates[platform]; ok {
		targetURL := fmt.Sprintf(template, item.ProductID)
		if err := f.client.Navigate(ctx, targetURL, "networkidle"); err != nil {
			f.logger.Warn("fallback navigation failed",
				zap.String("url", targetURL),
				zap.Error(err))
			return err
		}
	}

	response, err := f.client.AddToCart(ctx, platform, item.ProductID, item.Quantity)
	if err != nil {
		return err
	}
	if !response.Success {
		return fmt.Errorf("agent: fallback add failed: %s", response.Message)
	}

	return f.confirmInCart(ctx, platform, item.ProductID)
}

func (f *BrowserFallback) confirmInCart(ctx context.Context, platform, productID string) error {
	live, err := f.client.LiveCart(ctx, platform)
	if err != nil {
		// Treat a confirmation read failure as success: the add itself
		// already reported OK.
		f.logger.Warn("fallback cart confirmation unavailable",
			zap.String("platform", platform),
			zap.Error(err))
		return nil
	}
	for _, section := range []*automation.LiveSection{live.RegularCart, live.FreshCart} {
		if section == nil {
			continue
		}
		for _, liveItem := range section.Items {
			if liveItem.ProductID == productID {
				return nil
			}
		}
	}
	return errItemNotInCart
}
