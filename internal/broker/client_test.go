package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// Place a limit order against a fake broker endpoint and check the
// wire parameters and the returned order ID.
func TestPlaceOrderSendsLimitParams(t *testing.T) {
	var gotPath string
	var gotParams map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotParams = map[string]string{}
		for k, v := range r.URL.Query() {
			gotParams[k] = v[0]
		}
		fmt.Fprint(w, `{"status":"success","data":{"order_id":"260830000012345"}}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", "test-secret", srv.URL, 5*time.Second)
	orderID, err := c.PlaceOrder(context.Background(), OrderRequest{
		Ticker:          "RELIANCE",
		Exchange:        "NSE",
		TransactionType: TransactionSell,
		Quantity:        10,
		OrderType:       OrderTypeLimit,
		Price:           1054.50,
		ProductType:     ProductDelivery,
		Tag:             "wd-abc123",
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if orderID != "260830000012345" {
		t.Errorf("expected order ID 260830000012345, got %s", orderID)
	}
	if gotPath != "/orders/regular" {
		t.Errorf("expected path /orders/regular, got %s", gotPath)
	}
	if gotParams["tradingsymbol"] != "RELIANCE" {
		t.Errorf("expected tradingsymbol RELIANCE, got %s", gotParams["tradingsymbol"])
	}
	if gotParams["transaction_type"] != TransactionSell {
		t.Errorf("expected transaction_type SELL, got %s", gotParams["transaction_type"])
	}
	if gotParams["price"] != "1054.50" {
		t.Errorf("expected price 1054.50, got %s", gotParams["price"])
	}
	if gotParams["tag"] != "wd-abc123" {
		t.Errorf("expected tag wd-abc123, got %s", gotParams["tag"])
	}
	if gotParams["signature"] == "" {
		t.Error("expected request to be signed")
	}
}

// An error envelope must surface as an APIError carrying the broker's
// error code and message.
func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"status":"error","error_type":"TokenException","message":"api key expired"}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", "test-secret", srv.URL, 5*time.Second)
	_, err := c.GetLastPrice(context.Background(), "RELIANCE")
	if err == nil {
		t.Fatal("expected error for error envelope")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", apiErr.StatusCode)
	}
	if apiErr.Code != "TokenException" {
		t.Errorf("expected code TokenException, got %s", apiErr.Code)
	}
	if IsTransient(err) {
		t.Error("a 403 must not be retried")
	}
}

// Sends an API key header on every request.
func TestRequestsCarryAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		fmt.Fprint(w, `{"status":"success","data":{"last_price":1051.25}}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", "test-secret", srv.URL, 5*time.Second)
	price, err := c.GetLastPrice(context.Background(), "TCS")
	if err != nil {
		t.Fatalf("GetLastPrice failed: %v", err)
	}
	if price != 1051.25 {
		t.Errorf("expected price 1051.25, got %.2f", price)
	}
	if gotKey != "test-key" {
		t.Errorf("expected X-Api-Key test-key, got %q", gotKey)
	}
}

// Positions are filtered by product type client-side.
func TestGetPositionsFiltersByProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"net":[
			{"tradingsymbol":"RELIANCE","exchange":"NSE","product":"CNC","quantity":10,"average_price":1000},
			{"tradingsymbol":"INFY","exchange":"NSE","product":"MIS","quantity":5,"average_price":1500}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", "test-secret", srv.URL, 5*time.Second)
	positions, err := c.GetPositions(context.Background(), ProductDelivery)
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 CNC position, got %d", len(positions))
	}
	if positions[0].Ticker != "RELIANCE" {
		t.Errorf("expected RELIANCE, got %s", positions[0].Ticker)
	}
}

func TestOrderRequestValidate(t *testing.T) {
	valid := OrderRequest{
		Ticker:          "RELIANCE",
		Exchange:        "NSE",
		TransactionType: TransactionSell,
		Quantity:        10,
		OrderType:       OrderTypeLimit,
		Price:           1054.50,
		ProductType:     ProductDelivery,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"missing ticker", func(r *OrderRequest) { r.Ticker = "" }},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = 0 }},
		{"bad transaction type", func(r *OrderRequest) { r.TransactionType = "SHORT" }},
		{"bad order type", func(r *OrderRequest) { r.OrderType = "SL-M" }},
		{"limit without price", func(r *OrderRequest) { r.Price = 0 }},
		{"missing product", func(r *OrderRequest) { r.ProductType = "" }},
	}
	for _, tc := range cases {
		req := valid
		tc.mutate(&req)
		if err := req.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestIsTransientClassification(t *testing.T) {
	if !IsTransient(&APIError{StatusCode: 503}) {
		t.Error("503 should be transient")
	}
	if !IsTransient(&APIError{StatusCode: 429}) {
		t.Error("429 should be transient")
	}
	if IsTransient(&APIError{StatusCode: 400}) {
		t.Error("400 should be terminal")
	}
	if !IsTransient(errors.New("connection reset by peer")) {
		t.Error("plain network errors should be transient")
	}
}
