// Package automation is the HTTP client for the external browser-automation
// service that drives the actual platform sessions. The service owns the
// browser; this package only shuttles requests and decodes responses.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultTimeout    = 60 * time.Second
	maxErrorBodyBytes = 512
)

var (
	// ErrInvalidClientConfig indicates the client cannot be constructed from the given config.
	ErrInvalidClientConfig = errors.New("automation: invalid client config")
	errMissingBaseURL      = errors.New("base url required")
)

// ClientConfig bundles configuration for the automation client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client talks to the browser-automation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// ActionResult is the automation service's outcome for a cart action.
type ActionResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	AddressVerified bool   `json:"address_verified"`
}

// AddressVerification reports whether the delivery address serves every cart item.
type AddressVerification struct {
	Verified bool   `json:"verified"`
	Pincode  string `json:"pincode"`
	Message  string `json:"message"`
}

// LiveItem is one cart line as reported by the automation service.
type LiveItem struct {
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// LiveSection is one cart section (regular or fresh) of a live capture.
type LiveSection struct {
	Items       []LiveItem          `json:"items"`
	TotalAmount decimal.NullDecimal `json:"total_amount"`
	Currency    string              `json:"currency"`
}

// LiveCart is the full live cart payload for one platform.
type LiveCart struct {
	RegularCart *LiveSection `json:"regular_cart"`
	FreshCart   *LiveSection `json:"fresh_cart"`
}

// AddToCart adds a product without address verification.
func (c *Client) AddToCart(ctx context.Context, platform, productID string, quantity int64) (ActionResult, error) {
	var result ActionResult
	payload := map[string]interface{}{"product_id": productID, "quantity": quantity}
	err := c.postJSON(ctx, fmt.Sprintf("/%s/add-to-cart", platform), payload, &result)
	return result, err
}

// AddToCartVerified adds a product with address verification and modal handling.
func (c *Client) AddToCartVerified(ctx context.Context, platform, productID string, quantity int64, expectedPincode string) (ActionResult, error) {
	var result ActionResult
	payload := map[string]interface{}{
		"product_id":       productID,
		"quantity":         quantity,
		"expected_pincode": expectedPincode,
	}
	err := c.postJSON(ctx, fmt.Sprintf("/%s/add-to-cart-verified", platform), payload, &result)
	return result, err
}

// ChangeAddress switches the delivery address to the given pincode.
func (c *Client) ChangeAddress(ctx context.Context, platform, expectedPincode, productID string) (ActionResult, error) {
	var result ActionResult
	payload := map[string]interface{}{
		"expected_pincode": expectedPincode,
		"product_id":       productID,
	}
	err := c.postJSON(ctx, fmt.Sprintf("/%s/change-address", platform), payload, &result)
	return result, err
}

// LiveCart fetches the current cart contents for a platform.
func (c *Client) LiveCart(ctx context.Context, platform string) (LiveCart, error) {
	var cart LiveCart
	err := c.getJSON(ctx, fmt.Sprintf("/%s/cart", platform), &cart)
	return cart, err
}

// VerifyAddress checks the delivery address against the current cart.
func (c *Client) VerifyAddress(ctx context.Context, platform string) (AddressVerification, error) {
	var verification AddressVerification
	err := c.postJSON(ctx, fmt.Sprintf("/%s/verify-address", platform), map[string]interface{}{}, &verification)
	return verification, err
}

// Navigate points the browser at a URL.
func (c *Client) Navigate(ctx context.Context, targetURL, waitUntil string) error {
	payload := map[string]interface{}{"url": targetURL}
	if waitUntil != "" {
		payload["wait_until"] = waitUntil
	}
	return c.postJSON(ctx, "/browser/navigate", payload, nil)
}

// Screenshot captures the current browser state as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/browser/screenshot", nil)
	if err != nil {
		return nil, err
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, statusError(response)
	}
	return io.ReadAll(response.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		err := statusError(response)
		c.logger.Warn("automation request failed",
			zap.String("path", req.URL.Path),
			zap.Int("status", response.StatusCode),
			zap.Error(err))
		return err
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func statusError(response *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	trimmed := strings.TrimSpace(string(snippet))
	if trimmed == "" {
		return fmt.Errorf("automation: request returned status %d", response.StatusCode)
	}
	return fmt.Errorf("automation: request returned status %d: %s", response.StatusCode, trimmed)
}
