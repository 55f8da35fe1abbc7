package connector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:connector_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Connector{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1756600000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct connector service: %v", err)
	}
	return service
}

func TestConnectCreatesAndUpdatesRow(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	connected, err := service.Connect(ctx, "amazon", Credentials{APIKey: "key-1", AccessToken: "tok-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !connected.IsConnected {
		t.Fatalf("expected connector to be connected")
	}
	if connected.DisplayName != "Amazon" {
		t.Fatalf("expected catalog display name, got %q", connected.DisplayName)
	}

	reconnected, err := service.Connect(ctx, "amazon", Credentials{APIKey: "key-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reconnected.APIKey != "key-2" {
		t.Fatalf("expected credentials replaced, got %q", reconnected.APIKey)
	}

	connectors, err := service.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(connectors) != 1 {
		t.Fatalf("reconnecting must not duplicate the row, got %d rows", len(connectors))
	}
}

func TestConnectRejectsUnknownPlatform(t *testing.T) {
	service := newTestService(t)

	_, err := service.Connect(context.Background(), "etsy", Credentials{})
	if !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestDisconnectClearsCredentials(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Connect(ctx, "swiggy", Credentials{AccessToken: "secret"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	disconnected, err := service.Disconnect(ctx, "swiggy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if disconnected.IsConnected {
		t.Fatalf("expected connector to be disconnected")
	}
	if disconnected.AccessToken != "" {
		t.Fatalf("expected credentials cleared")
	}

	if _, err := service.Disconnect(ctx, "blinkit"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestConnectedListsOnlyConnectedPlatforms(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.Connect(ctx, "amazon", Credentials{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Connect(ctx, "ubereats", Credentials{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.Disconnect(ctx, "ubereats"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	connected, err := service.Connected(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(connected) != 1 || connected[0] != "amazon" {
		t.Fatalf("unexpected connected set: %v", connected)
	}
}
