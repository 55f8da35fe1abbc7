package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestAddToCartVerifiedSendsPayload(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ActionResult{Success: true, AddressVerified: true})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := client.AddToCartVerified(context.Background(), "amazon", "B08HNB2FSH", 2, "560043")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || !result.AddressVerified {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotPath != "/amazon/add-to-cart-verified" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["product_id"] != "B08HNB2FSH" {
		t.Fatalf("unexpected product id in payload: %v", gotBody["product_id"])
	}
	if gotBody["expected_pincode"] != "560043" {
		t.Fatalf("unexpected pincode in payload: %v", gotBody["expected_pincode"])
	}
}

func TestLiveCartDecodesSections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swiggy/cart" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"regular_cart": {
				"items": [{"product_id": "dosa-90", "title": "Masala Dosa", "quantity": 2, "price": "120.50"}],
				"total_amount": "241.00",
				"currency": "INR"
			}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cart, err := client.LiveCart(context.Background(), "swiggy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.RegularCart == nil {
		t.Fatalf("expected regular cart section")
	}
	if cart.FreshCart != nil {
		t.Fatalf("expected no fresh cart section")
	}
	if len(cart.RegularCart.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(cart.RegularCart.Items))
	}
	item := cart.RegularCart.Items[0]
	if item.ProductID != "dosa-90" || item.Quantity != 2 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.Price.StringFixed(2) != "120.50" {
		t.Fatalf("unexpected price: %s", item.Price)
	}
	if !cart.RegularCart.TotalAmount.Valid {
		t.Fatalf("expected total amount")
	}
}

func TestErrorStatusIncludesBodySnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("browser session lost"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.LiveCart(context.Background(), "amazon")
	if err == nil {
		t.Fatalf("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "browser session lost") {
		t.Fatalf("error should carry status and body snippet, got %v", err)
	}
}

func TestScreenshotReturnsBytes(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/browser/screenshot" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := client.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected screenshot bytes: %v", got)
	}
}
