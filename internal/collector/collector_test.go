package collector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/basketline/backend/internal/automation"
	"github.com/basketline/backend/internal/cart"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

type capturedSnapshot struct {
	Platform cart.Platform
	CartType cart.CartType
	Items    []cart.LineItem
	Currency string
}

type fakeSnapshotService struct {
	mu       sync.Mutex
	captured []capturedSnapshot
	fail     bool
}

func (f *fakeSnapshotService) CreateSnapshot(_ context.Context, platform cart.Platform, cartType cart.CartType, items []cart.LineItem, _ decimal.NullDecimal, currency string) (cart.SnapshotResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return cart.SnapshotResult{}, errors.New("boom")
	}
	f.captured = append(f.captured, capturedSnapshot{Platform: platform, CartType: cartType, Items: items, Currency: currency})
	return cart.SnapshotResult{CartID: "cart-1", HasChanges: true}, nil
}

type fakeFetcher struct {
	carts map[string]automation.LiveCart
	errs  map[string]error
}

func (f *fakeFetcher) LiveCart(_ context.Context, platform string) (automation.LiveCart, error) {
	if err := f.errs[platform]; err != nil {
		return automation.LiveCart{}, err
	}
	return f.carts[platform], nil
}

type fakeLister struct {
	platforms []string
}

func (f *fakeLister) Connected(context.Context) ([]string, error) {
	return f.platforms, nil
}

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestCollectOnceStoresBothCartSections(t *testing.T) {
	snapshots := &fakeSnapshotService{}
	fetcher := &fakeFetcher{carts: map[string]automation.LiveCart{
		"amazon": {
			RegularCart: &automation.LiveSection{
				Items: []automation.LiveItem{
					{ProductID: "B001", Title: "Kettle", Quantity: 1, Price: decimal.NewFromInt(2200)},
				},
				Currency: "INR",
			},
			FreshCart: &automation.LiveSection{
				Items:    []automation.LiveItem{{ProductID: "F001", Title: "Milk", Quantity: 2, Price: decimal.NewFromInt(60)}},
				Currency: "INR",
			},
		},
	}}

	collector, err := New(Config{Carts: snapshots, Automation: fetcher, Platforms: []string{"amazon"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collector.CollectOnce(context.Background())

	if len(snapshots.captured) != 2 {
		t.Fatalf("expected a snapshot per cart section, got %d", len(snapshots.captured))
	}
	regular := snapshots.captured[0]
	if regular.CartType != cart.CartTypeRegular {
		t.Fatalf("expected regular section first, got %s", regular.CartType)
	}
	wantItems := []cart.LineItem{{Key: "B001", Name: "Kettle", Quantity: 1, Price: decimal.NewFromInt(2200)}}
	if diff := cmp.Diff(wantItems, regular.Items, decimalComparer); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
	if snapshots.captured[1].CartType != cart.CartTypeFresh {
		t.Fatalf("expected fresh section second, got %s", snapshots.captured[1].CartType)
	}
}

func TestCollectOnceSkipsMissingSections(t *testing.T) {
	snapshots := &fakeSnapshotService{}
	fetcher := &fakeFetcher{carts: map[string]automation.LiveCart{
		"swiggy": {RegularCart: &automation.LiveSection{Items: nil, Currency: "INR"}},
	}}

	collector, err := New(Config{Carts: snapshots, Automation: fetcher, Platforms: []string{"swiggy"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collector.CollectOnce(context.Background())

	if len(snapshots.captured) != 1 {
		t.Fatalf("expected only the present section, got %d snapshots", len(snapshots.captured))
	}
	if len(snapshots.captured[0].Items) != 0 {
		t.Fatalf("empty section must still record an empty snapshot")
	}
}

func TestCollectOnceContinuesPastPlatformFailures(t *testing.T) {
	snapshots := &fakeSnapshotService{}
	fetcher := &fakeFetcher{
		carts: map[string]automation.LiveCart{
			"blinkit": {RegularCart: &automation.LiveSection{Currency: "INR"}},
		},
		errs: map[string]error{"amazon": errors.New("automation down")},
	}

	collector, err := New(Config{Carts: snapshots, Automation: fetcher, Platforms: []string{"amazon", "blinkit"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collector.CollectOnce(context.Background())

	if len(snapshots.captured) != 1 {
		t.Fatalf("expected the healthy platform to be captured, got %d", len(snapshots.captured))
	}
	if snapshots.captured[0].Platform.String() != "blinkit" {
		t.Fatalf("unexpected platform %s", snapshots.captured[0].Platform)
	}
}

func TestCollectOnceAsksConnectorsWhenNoPlatformsPinned(t *testing.T) {
	snapshots := &fakeSnapshotService{}
	fetcher := &fakeFetcher{carts: map[string]automation.LiveCart{
		"ubereats": {RegularCart: &automation.LiveSection{Currency: "INR"}},
	}}

	collector, err := New(Config{
		Carts:      snapshots,
		Automation: fetcher,
		Connectors: &fakeLister{platforms: []string{"ubereats"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collector.CollectOnce(context.Background())

	if len(snapshots.captured) != 1 || snapshots.captured[0].Platform.String() != "ubereats" {
		t.Fatalf("expected connected platform to be collected, got %+v", snapshots.captured)
	}
}

func TestCollectOnceNotifiesAfterEachSnapshot(t *testing.T) {
	snapshots := &fakeSnapshotService{}
	fetcher := &fakeFetcher{carts: map[string]automation.LiveCart{
		"amazon": {RegularCart: &automation.LiveSection{Currency: "INR"}},
	}}

	var notified []string
	collector, err := New(Config{
		Carts:      snapshots,
		Automation: fetcher,
		Platforms:  []string{"amazon"},
		Notify: func(platform cart.Platform, cartType cart.CartType, result cart.SnapshotResult) {
			if !result.HasChanges {
				t.Errorf("expected forwarded result to carry change flag")
			}
			notified = append(notified, platform.String()+"/"+cartType.String())
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	collector.CollectOnce(context.Background())

	if len(notified) != 1 || notified[0] != "amazon/regular" {
		t.Fatalf("unexpected notifications %v", notified)
	}
}
