package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basketline/backend/internal/agent"
	"github.com/basketline/backend/internal/automation"
	"github.com/basketline/backend/internal/cart"
	"github.com/basketline/backend/internal/connector"
	"github.com/basketline/backend/internal/orders"
	"github.com/basketline/backend/internal/runs"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultSinceHours = 24
	heartbeatInterval = 30 * time.Second
)

var (
	errMissingCartService      = errors.New("cart service dependency required")
	errMissingConnectorService = errors.New("connector service dependency required")
	errMissingOrderService     = errors.New("order service dependency required")
	errMissingRunTracker       = errors.New("run tracker dependency required")
	errMissingDispatcher       = errors.New("event dispatcher dependency required")
)

// AutomationGateway is the slice of the automation service the HTTP layer
// calls directly: address verification and step screenshots.
type AutomationGateway interface {
	VerifyAddress(ctx context.Context, platform string) (automation.AddressVerification, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

type Dependencies struct {
	CartService      *cart.Service
	ConnectorService *connector.Service
	OrderService     *orders.Service
	RunTracker       *runs.Tracker
	Events           *CartEventDispatcher
	// Agent is optional; without it the add-items endpoint reports the
	// capability as unavailable.
	Agent *agent.Agent
	// Automation is optional; without it address verification reports
	// unavailable and run steps are recorded without screenshots.
	Automation AutomationGateway
	Clock      func() time.Time
	Logger     *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.CartService == nil {
		return nil, errMissingCartService
	}
	if deps.ConnectorService == nil {
		return nil, errMissingConnectorService
	}
	if deps.OrderService == nil {
		return nil, errMissingOrderService
	}
	if deps.RunTracker == nil {
		return nil, errMissingRunTracker
	}
	if deps.Events == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		carts:      deps.CartService,
		connectors: deps.ConnectorService,
		orders:     deps.OrderService,
		runs:       deps.RunTracker,
		agent:      deps.Agent,
		automation: deps.Automation,
		events:     deps.Events,
		clock:      clock,
		logger:     logger,
	}

	router.GET("/health", handler.handleHealth)

	api := router.Group("/api")
	api.GET("/carts", handler.handleListCarts)
	api.GET("/carts/events", handler.handleCartEvents)
	api.GET("/carts/:platform/:cartType", handler.handleGetCart)
	api.POST("/carts/:platform/:cartType/snapshots", handler.handleCreateSnapshot)
	api.GET("/carts/:platform/:cartType/history", handler.handleHistory)
	api.GET("/carts/:platform/:cartType/changes", handler.handleChanges)
	api.PATCH("/carts/:platform/:cartType/status", handler.handleCartStatus)
	api.POST("/carts/:platform/verify-address", handler.handleVerifyAddress)

	api.GET("/connectors", handler.handleListConnectors)
	api.GET("/connectors/available", handler.handleAvailableConnectors)
	api.POST("/connectors", handler.handleConnect)
	api.POST("/connectors/:platform/disconnect", handler.handleDisconnect)

	api.POST("/orders", handler.handlePlaceOrder)
	api.GET("/orders", handler.handleListOrders)
	api.GET("/orders/:id", handler.handleGetOrder)
	api.PATCH("/orders/:id/status", handler.handleOrderStatus)

	api.GET("/runs", handler.handleListRuns)
	api.GET("/runs/:id", handler.handleGetRun)

	api.POST("/agent/add-items", handler.handleAgentAddItems)

	return router, nil
}

type httpHandler struct {
	carts      *cart.Service
	connectors *connector.Service
	orders     *orders.Service
	runs       *runs.Tracker
	agent      *agent.Agent
	automation AutomationGateway
	events     *CartEventDispatcher
	clock      func() time.Time
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) cartTarget(c *gin.Context) (cart.Platform, cart.CartType, bool) {
	platform, err := cart.NewPlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return "", "", false
	}
	cartType, err := cart.ParseCartType(c.Param("cartType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cart_type"})
		return "", "", false
	}
	return platform, cartType, true
}

type lineItemPayload struct {
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type quantityChangePayload struct {
	lineItemPayload
	OldQuantity int64 `json:"old_quantity"`
	NewQuantity int64 `json:"new_quantity"`
}

type snapshotRequestPayload struct {
	Items       []lineItemPayload   `json:"items"`
	TotalAmount decimal.NullDecimal `json:"total_amount"`
	Currency    string              `json:"currency"`
}

type snapshotResponsePayload struct {
	SnapshotID      string                  `json:"snapshot_id"`
	CartID          string                  `json:"cart_id"`
	CapturedAt      time.Time               `json:"captured_at"`
	HasChanges      bool                    `json:"has_changes"`
	ItemsAdded      []lineItemPayload       `json:"items_added"`
	ItemsRemoved    []lineItemPayload       `json:"items_removed"`
	QuantityChanged []quantityChangePayload `json:"items_quantity_changed"`
}

func (h *httpHandler) handleCreateSnapshot(c *gin.Context) {
	platform, cartType, ok := h.cartTarget(c)
	if !ok {
		return
	}

	var request snapshotRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	items := make([]cart.LineItem, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, cart.LineItem{
			Key:      item.Key,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	result, err := h.carts.CreateSnapshot(c.Request.Context(), platform, cartType, items, request.TotalAmount, request.Currency)
	if err != nil {
		h.logger.Error("failed to create snapshot", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	h.publishSnapshotEvents(platform, cartType, result)

	c.JSON(http.StatusCreated, snapshotResponsePayload{
		SnapshotID:      result.Snapshot.ID,
		CartID:          result.CartID,
		CapturedAt:      result.Snapshot.CapturedAt,
		HasChanges:      result.HasChanges,
		ItemsAdded:      toLineItemPayloads(result.Diff.Added),
		ItemsRemoved:    toLineItemPayloads(result.Diff.Removed),
		QuantityChanged: toQuantityChangePayloads(result.Diff.QuantityChanged),
	})
}

func (h *httpHandler) publishSnapshotEvents(platform cart.Platform, cartType cart.CartType, result cart.SnapshotResult) {
	event := CartEvent{
		Platform:   platform.String(),
		CartType:   cartType.String(),
		EventType:  CartEventSnapshotCaptured,
		SnapshotID: result.Snapshot.ID,
		HasChanges: result.HasChanges,
		Timestamp:  result.Snapshot.CapturedAt,
	}
	h.events.Publish(event)
	if result.HasChanges {
		event.EventType = CartEventCartChanged
		h.events.Publish(event)
	}
}

type cartPayload struct {
	Platform    string              `json:"platform"`
	CartType    string              `json:"cart_type"`
	Status      string              `json:"status"`
	Items       []lineItemPayload   `json:"items"`
	TotalAmount decimal.NullDecimal `json:"total_amount"`
	Currency    string              `json:"currency"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (h *httpHandler) handleListCarts(c *gin.Context) {
	carts, err := h.carts.ListActiveCarts(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list carts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	payloads := make([]cartPayload, 0, len(carts))
	for _, record := range carts {
		payload, err := toCartPayload(record)
		if err != nil {
			h.logger.Error("failed to decode cart items", zap.String("cart_id", record.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
			return
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"carts": payloads})
}

func (h *httpHandler) handleGetCart(c *gin.Context) {
	platform, cartType, ok := h.cartTarget(c)
	if !ok {
		return
	}

	record, err := h.carts.GetActiveCart(c.Request.Context(), platform, cartType)
	if errors.Is(err, cart.ErrCartNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	payload, err := toCartPayload(record)
	if err != nil {
		h.logger.Error("failed to decode cart items", zap.String("cart_id", record.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

type snapshotHistoryPayload struct {
	ID              string                  `json:"id"`
	CapturedAt      time.Time               `json:"captured_at"`
	ItemCount       int                     `json:"item_count"`
	Items           []lineItemPayload       `json:"items"`
	TotalAmount     decimal.NullDecimal     `json:"total_amount"`
	Currency        string                  `json:"currency"`
	HasChanges      bool                    `json:"has_changes"`
	ItemsAdded      []lineItemPayload       `json:"items_added"`
	ItemsRemoved    []lineItemPayload       `json:"items_removed"`
	QuantityChanged []quantityChangePayload `json:"items_quantity_changed"`
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	platform, cartType, ok := h.cartTarget(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	includeRetired := queryBool(c, "include_retired")

	snapshots, err := h.carts.GetHistory(c.Request.Context(), platform, cartType, limit, includeRetired)
	if errors.Is(err, cart.ErrCartNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_failed"})
		return
	}

	payloads := make([]snapshotHistoryPayload, 0, len(snapshots))
	for _, snapshot := range snapshots {
		payload, err := toSnapshotPayload(snapshot)
		if err != nil {
			h.logger.Error("failed to decode snapshot", zap.String("snapshot_id", snapshot.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history_failed"})
			return
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": payloads})
}

type changesResponsePayload struct {
	Platform        string                  `json:"platform"`
	CartType        string                  `json:"cart_type"`
	Since           time.Time               `json:"since"`
	SnapshotCount   int                     `json:"snapshot_count"`
	Added           []lineItemPayload       `json:"added"`
	Removed         []lineItemPayload       `json:"removed"`
	QuantityChanged []quantityChangePayload `json:"quantity_changed"`
}

func (h *httpHandler) handleChanges(c *gin.Context) {
	platform, cartType, ok := h.cartTarget(c)
	if !ok {
		return
	}

	sinceHours := float64(defaultSinceHours)
	if raw := c.Query("since_hours"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_since_hours"})
			return
		}
		sinceHours = parsed
	}
	cutoff := h.clock().UTC().Add(-time.Duration(sinceHours * float64(time.Hour)))

	aggregate, err := h.carts.GetChangesSince(c.Request.Context(), platform, cartType, cutoff)
	if errors.Is(err, cart.ErrCartNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to aggregate changes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "changes_failed"})
		return
	}

	c.JSON(http.StatusOK, changesResponsePayload{
		Platform:        platform.String(),
		CartType:        cartType.String(),
		Since:           cutoff,
		SnapshotCount:   aggregate.SnapshotCount,
		Added:           toLineItemPayloads(aggregate.Added),
		Removed:         toLineItemPayloads(aggregate.Removed),
		QuantityChanged: toQuantityChangePayloads(aggregate.QuantityChanged),
	})
}

type cartStatusRequestPayload struct {
	Status string `json:"status"`
}

// PATCH carts/:platform/:cartType/status retires the active cart, e.g.
// marking it abandoned. The snapshot history stays intact.
func (h *httpHandler) handleCartStatus(c *gin.Context) {
	platform, cartType, ok := h.cartTarget(c)
	if !ok {
		return
	}
	var request cartStatusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := cart.ParseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	record, err := h.carts.UpdateStatus(c.Request.Context(), platform, cartType, status)
	if errors.Is(err, cart.ErrCartNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update cart status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	payload, err := toCartPayload(record)
	if err != nil {
		h.logger.Error("failed to decode cart items", zap.String("cart_id", record.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

type addressVerificationPayload struct {
	Verified bool   `json:"verified"`
	Pincode  string `json:"pincode,omitempty"`
	Message  string `json:"message,omitempty"`
}

// POST carts/:platform/verify-address asks the automation service whether
// the selected delivery address serves every item in the live cart. The
// platform must have a configured connector.
func (h *httpHandler) handleVerifyAddress(c *gin.Context) {
	if h.automation == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "automation_unavailable"})
		return
	}
	platform, err := cart.NewPlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}
	if _, err := h.connectors.Get(c.Request.Context(), platform.String()); err != nil {
		if errors.Is(err, connector.ErrUnsupportedPlatform) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_platform"})
			return
		}
		if errors.Is(err, connector.ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connector_not_found"})
			return
		}
		h.logger.Error("failed to load connector", zap.String("platform", platform.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	verification, err := h.automation.VerifyAddress(c.Request.Context(), platform.String())
	if err != nil {
		h.logger.Error("address verification failed", zap.String("platform", platform.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "verify_failed"})
		return
	}
	c.JSON(http.StatusOK, addressVerificationPayload{
		Verified: verification.Verified,
		Pincode:  verification.Pincode,
		Message:  verification.Message,
	})
}

type cartEventPayload struct {
	Platform   string    `json:"platform"`
	CartType   string    `json:"cart_type"`
	EventType  string    `json:"event_type"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	HasChanges bool      `json:"has_changes"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

func (h *httpHandler) handleCartEvents(c *gin.Context) {
	platform := strings.TrimSpace(c.Query("platform"))
	if platform != "" {
		if _, err := cart.NewPlatform(platform); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
			return
		}
	}

	stream, cleanup := h.events.Subscribe(c.Request.Context(), platform)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	// Push headers out before the first event so clients see the stream
	// open immediately.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, cartEventPayload{
				Platform:   event.Platform,
				CartType:   event.CartType,
				EventType:  event.EventType,
				SnapshotID: event.SnapshotID,
				HasChanges: event.HasChanges,
				Timestamp:  event.Timestamp,
				Source:     cartEventSource,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(cartEventHeartbeat, gin.H{"timestamp": h.clock().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type connectorPayload struct {
	Platform       string     `json:"platform"`
	DisplayName    string     `json:"display_name"`
	IsConnected    bool       `json:"is_connected"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type connectRequestPayload struct {
	Platform       string     `json:"platform"`
	APIKey         string     `json:"api_key"`
	AccessToken    string     `json:"access_token"`
	RefreshToken   string     `json:"refresh_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	ConfigJSON     *string    `json:"config_json"`
}

func (h *httpHandler) handleListConnectors(c *gin.Context) {
	records, err := h.connectors.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list connectors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payloads := make([]connectorPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toConnectorPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"connectors": payloads})
}

type availableConnectorPayload struct {
	Platform    string `json:"platform"`
	DisplayName string `json:"display_name"`
}

// GET connectors/available lists the platforms this build can talk to,
// configured or not.
func (h *httpHandler) handleAvailableConnectors(c *gin.Context) {
	descriptors := connector.SupportedPlatforms()
	payloads := make([]availableConnectorPayload, 0, len(descriptors))
	for _, descriptor := range descriptors {
		payloads = append(payloads, availableConnectorPayload{
			Platform:    descriptor.Platform,
			DisplayName: descriptor.DisplayName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"platforms": payloads})
}

func (h *httpHandler) handleConnect(c *gin.Context) {
	var request connectRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Platform) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.connectors.Connect(c.Request.Context(), request.Platform, connector.Credentials{
		APIKey:         request.APIKey,
		AccessToken:    request.AccessToken,
		RefreshToken:   request.RefreshToken,
		TokenExpiresAt: request.TokenExpiresAt,
		ConfigJSON:     request.ConfigJSON,
	})
	if errors.Is(err, connector.ErrUnsupportedPlatform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_platform"})
		return
	}
	if err != nil {
		h.logger.Error("failed to connect platform", zap.String("platform", request.Platform), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect_failed"})
		return
	}
	c.JSON(http.StatusOK, toConnectorPayload(record))
}

func (h *httpHandler) handleDisconnect(c *gin.Context) {
	record, err := h.connectors.Disconnect(c.Request.Context(), c.Param("platform"))
	if errors.Is(err, connector.ErrUnsupportedPlatform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_platform"})
		return
	}
	if errors.Is(err, connector.ErrNotConfigured) {
		c.JSON(http.StatusNotFound, gin.H{"error": "connector_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to disconnect platform", zap.String("platform", c.Param("platform")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect_failed"})
		return
	}
	c.JSON(http.StatusOK, toConnectorPayload(record))
}

type orderPayload struct {
	ID                string              `json:"id"`
	Platform          string              `json:"platform"`
	CartID            string              `json:"cart_id"`
	PlatformOrderID   string              `json:"platform_order_id,omitempty"`
	Items             []lineItemPayload   `json:"items"`
	TotalAmount       decimal.NullDecimal `json:"total_amount"`
	Currency          string              `json:"currency"`
	Status            string              `json:"status"`
	TrackingJSON      *string             `json:"tracking_json,omitempty"`
	OrderedAt         time.Time           `json:"ordered_at"`
	EstimatedDelivery *time.Time          `json:"estimated_delivery,omitempty"`
	DeliveredAt       *time.Time          `json:"delivered_at,omitempty"`
}

type placeOrderRequestPayload struct {
	Platform        string `json:"platform"`
	CartType        string `json:"cart_type"`
	PlatformOrderID string `json:"platform_order_id"`
}

func (h *httpHandler) handlePlaceOrder(c *gin.Context) {
	var request placeOrderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	platform, err := cart.NewPlatform(request.Platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}
	cartType := cart.CartTypeRegular
	if request.CartType != "" {
		cartType, err = cart.ParseCartType(request.CartType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cart_type"})
			return
		}
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), platform, cartType, request.PlatformOrderID)
	if errors.Is(err, cart.ErrCartNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "cart_not_found"})
		return
	}
	if errors.Is(err, orders.ErrEmptyCart) {
		c.JSON(http.StatusConflict, gin.H{"error": "cart_empty"})
		return
	}
	if err != nil {
		h.logger.Error("failed to place order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_failed"})
		return
	}

	h.events.Publish(CartEvent{
		Platform:  order.Platform,
		CartType:  cartType.String(),
		EventType: CartEventOrderPlaced,
		Timestamp: order.OrderedAt,
	})

	payload, err := toOrderPayload(order)
	if err != nil {
		h.logger.Error("failed to decode order items", zap.String("order_id", order.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order_failed"})
		return
	}
	c.JSON(http.StatusCreated, payload)
}

func (h *httpHandler) handleListOrders(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	records, err := h.orders.ListOrders(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payloads := make([]orderPayload, 0, len(records))
	for _, record := range records {
		payload, err := toOrderPayload(record)
		if err != nil {
			h.logger.Error("failed to decode order items", zap.String("order_id", record.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
			return
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"orders": payloads})
}

func (h *httpHandler) handleGetOrder(c *gin.Context) {
	record, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, orders.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	payload, err := toOrderPayload(record)
	if err != nil {
		h.logger.Error("failed to decode order items", zap.String("order_id", record.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

type orderStatusRequestPayload struct {
	Status       string  `json:"status"`
	TrackingJSON *string `json:"tracking_json"`
}

func (h *httpHandler) handleOrderStatus(c *gin.Context) {
	var request orderStatusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	status, err := orders.ParseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
		return
	}

	record, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status, request.TrackingJSON)
	if errors.Is(err, orders.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update order status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	payload, err := toOrderPayload(record)
	if err != nil {
		h.logger.Error("failed to decode order items", zap.String("order_id", record.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

type runStepPayload struct {
	ID             string     `json:"id"`
	Seq            int        `json:"seq"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	ScreenshotPath string     `json:"screenshot_path,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMs     *int64     `json:"duration_ms,omitempty"`
}

type runPayload struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Platform     string           `json:"platform"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	DurationMs   *int64           `json:"duration_ms,omitempty"`
	Steps        []runStepPayload `json:"steps,omitempty"`
}

func (h *httpHandler) handleListRuns(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	records, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payloads := make([]runPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toRunPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"runs": payloads})
}

func (h *httpHandler) handleGetRun(c *gin.Context) {
	record, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, runs.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, toRunPayload(record))
}

type addItemsRequestPayload struct {
	Platform        string `json:"platform"`
	ExpectedPincode string `json:"expected_pincode"`
	Items           []struct {
		ProductID string `json:"product_id"`
		Name      string `json:"name"`
		Quantity  int64  `json:"quantity"`
	} `json:"items"`
}

type itemFailurePayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

type addItemsResponsePayload struct {
	RunID           string               `json:"run_id"`
	Success         bool                 `json:"success"`
	ItemsAdded      []string             `json:"items_added"`
	ItemsFailed     []itemFailurePayload `json:"items_failed"`
	AddressVerified bool                 `json:"address_verified"`
	Message         string               `json:"message"`
}

func (h *httpHandler) handleAgentAddItems(c *gin.Context) {
	if h.agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent_unavailable"})
		return
	}

	var request addItemsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	platform, err := cart.NewPlatform(request.Platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_platform"})
		return
	}

	items := make([]agent.Item, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, agent.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
		})
	}

	run, err := h.runs.StartRun(c.Request.Context(), "add items", "", platform.String())
	if err != nil {
		h.logger.Error("failed to start run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run_failed"})
		return
	}

	recorder := &runStepRecorder{
		runs:       h.runs,
		runID:      run.ID,
		automation: h.automation,
		logger:     h.logger,
	}
	result, err := h.agent.AddItems(c.Request.Context(), platform.String(), items, request.ExpectedPincode, recorder)
	if err != nil {
		if _, completeErr := h.runs.CompleteRun(c.Request.Context(), run.ID, runs.RunStatusFailed, err.Error()); completeErr != nil {
			h.logger.Error("failed to complete run", zap.String("run_id", run.ID), zap.Error(completeErr))
		}
		h.logger.Error("agent aborted", zap.String("run_id", run.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "agent_failed"})
		return
	}

	runStatus := runs.RunStatusSuccess
	runError := ""
	if !result.Success {
		runStatus = runs.RunStatusFailed
		runError = result.Message
	}
	if _, err := h.runs.CompleteRun(c.Request.Context(), run.ID, runStatus, runError); err != nil {
		h.logger.Error("failed to complete run", zap.String("run_id", run.ID), zap.Error(err))
	}

	response := addItemsResponsePayload{
		RunID:           run.ID,
		Success:         result.Success,
		ItemsAdded:      result.ItemsAdded,
		AddressVerified: result.AddressVerified,
		Message:         result.Message,
	}
	for _, failure := range result.ItemsFailed {
		response.ItemsFailed = append(response.ItemsFailed, itemFailurePayload{
			ProductID: failure.ProductID,
			Name:      failure.Name,
			Reason:    failure.Reason,
		})
	}
	c.JSON(http.StatusOK, response)
}

// runStepRecorder persists the agent's per-item progress as run steps,
// attaching a browser screenshot to each completed step when the
// automation gateway is available.
type runStepRecorder struct {
	runs       *runs.Tracker
	runID      string
	automation AutomationGateway
	logger     *zap.Logger
}

func (r *runStepRecorder) StartStep(ctx context.Context, name, description string) (string, error) {
	step, err := r.runs.StartStep(ctx, r.runID, name, description)
	if err != nil {
		return "", err
	}
	return step.ID, nil
}

func (r *runStepRecorder) CompleteStep(ctx context.Context, stepID string, succeeded bool, detail string) {
	var screenshot []byte
	if r.automation != nil {
		captured, err := r.automation.Screenshot(ctx)
		if err != nil {
			r.logger.Warn("failed to capture step screenshot",
				zap.String("step_id", stepID),
				zap.Error(err))
		} else {
			screenshot = captured
		}
	}

	status := runs.StepStatusSuccess
	errorMessage := ""
	if !succeeded {
		status = runs.StepStatusFailed
		errorMessage = detail
	}
	if _, err := r.runs.CompleteStep(ctx, stepID, status, errorMessage, screenshot); err != nil {
		r.logger.Error("failed to complete step",
			zap.String("step_id", stepID),
			zap.Error(err))
	}
}

func queryBool(c *gin.Context, name string) bool {
	switch strings.ToLower(c.Query(name)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + name})
		return 0, false
	}
	return value, true
}

func toLineItemPayloads(items []cart.LineItem) []lineItemPayload {
	payloads := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, lineItemPayload{
			Key:      item.Key,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return payloads
}

func toQuantityChangePayloads(changes []cart.QuantityChange) []quantityChangePayload {
	payloads := make([]quantityChangePayload, 0, len(changes))
	for _, change := range changes {
		payloads = append(payloads, quantityChangePayload{
			lineItemPayload: lineItemPayload{
				Key:      change.Key,
				Name:     change.Name,
				Quantity: change.Quantity,
				Price:    change.Price,
			},
			OldQuantity: change.OldQuantity,
			NewQuantity: change.NewQuantity,
		})
	}
	return payloads
}

func toCartPayload(record cart.Cart) (cartPayload, error) {
	items, err := record.Items()
	if err != nil {
		return cartPayload{}, err
	}
	return cartPayload{
		Platform:    record.Platform,
		CartType:    record.CartType,
		Status:      record.Status,
		Items:       toLineItemPayloads(items),
		TotalAmount: record.TotalAmount,
		Currency:    record.Currency,
		UpdatedAt:   record.UpdatedAt,
	}, nil
}

func toSnapshotPayload(snapshot cart.CartSnapshot) (snapshotHistoryPayload, error) {
	items, err := snapshot.Items()
	if err != nil {
		return snapshotHistoryPayload{}, err
	}
	added, err := snapshot.ItemsAdded()
	if err != nil {
		return snapshotHistoryPayload{}, err
	}
	removed, err := snapshot.ItemsRemoved()
	if err != nil {
		return snapshotHistoryPayload{}, err
	}
	quantityChanged, err := snapshot.ItemsQuantityChanged()
	if err != nil {
		return snapshotHistoryPayload{}, err
	}
	payload := snapshotHistoryPayload{
		ID:          snapshot.ID,
		CapturedAt:  snapshot.CapturedAt,
		ItemCount:   snapshot.ItemCount,
		Items:       toLineItemPayloads(items),
		TotalAmount: snapshot.TotalAmount,
		Currency:    snapshot.Currency,
		HasChanges:  snapshot.HasChanges(),
	}
	if added != nil {
		payload.ItemsAdded = toLineItemPayloads(added)
	}
	if removed != nil {
		payload.ItemsRemoved = toLineItemPayloads(removed)
	}
	if quantityChanged != nil {
		payload.QuantityChanged = toQuantityChangePayloads(quantityChanged)
	}
	return payload, nil
}

func toConnectorPayload(record connector.Connector) connectorPayload {
	return connectorPayload{
		Platform:       record.Platform,
		DisplayName:    record.DisplayName,
		IsConnected:    record.IsConnected,
		TokenExpiresAt: record.TokenExpiresAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func toOrderPayload(record orders.Order) (orderPayload, error) {
	items, err := cart.DecodeItems(record.ItemsJSON)
	if err != nil {
		return orderPayload{}, err
	}
	return orderPayload{
		ID:                record.ID,
		Platform:          record.Platform,
		CartID:            record.CartID,
		PlatformOrderID:   record.PlatformOrderID,
		Items:             toLineItemPayloads(items),
		TotalAmount:       record.TotalAmount,
		Currency:          record.Currency,
		Status:            record.Status,
		TrackingJSON:      record.TrackingJSON,
		OrderedAt:         record.OrderedAt,
		EstimatedDelivery: record.EstimatedDelivery,
		DeliveredAt:       record.DeliveredAt,
	}, nil
}

func toRunPayload(record runs.Run) runPayload {
	payload := runPayload{
		ID:           record.ID,
		Name:         record.Name,
		Description:  record.Description,
		Platform:     record.Platform,
		Status:       record.Status,
		ErrorMessage: record.ErrorMessage,
		StartedAt:    record.StartedAt,
		CompletedAt:  record.CompletedAt,
		DurationMs:   record.DurationMs,
	}
	for _, step := range record.Steps {
		payload.Steps = append(payload.Steps, runStepPayload{
			ID:             step.ID,
			Seq:            step.Seq,
			Name:           step.Name,
			Description:    step.Description,
			Status:         step.Status,
			ScreenshotPath: step.ScreenshotPath,
			ErrorMessage:   step.ErrorMessage,
			StartedAt:      step.StartedAt,
			CompletedAt:    step.CompletedAt,
			DurationMs:     step.DurationMs,
		})
	}
	return payload
}
