package ticksize

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/broker"
)

func testResolver(overrides map[string]float64) (*Resolver, *broker.MockClient) {
	mock := broker.NewMockClient()
	return NewResolver(mock, "NSE", overrides, zerolog.Nop()), mock
}

// TestFallbackBands checks the price-banded defaults used when the
// instrument dump has no entry for a ticker.
func TestFallbackBands(t *testing.T) {
	r, _ := testResolver(nil)

	cases := []struct {
		price    float64
		expected float64
	}{
		{25, 0.01},
		{49.99, 0.01},
		{50, 0.05},
		{99.99, 0.05},
		{100, 0.10},
		{999.99, 0.10},
		{1000, 0.50},
		{9999.99, 0.50},
		{10000, 1.00},
		{25000, 1.00},
	}
	for _, c := range cases {
		if got := r.TickSize("UNKNOWN", c.price); got != c.expected {
			t.Errorf("TickSize at price %.2f = %.2f, expected %.2f", c.price, got, c.expected)
		}
	}
}

// TestInstrumentDumpBeatsFallback verifies fetched metadata wins over the
// banded defaults.
func TestInstrumentDumpBeatsFallback(t *testing.T) {
	r, mock := testResolver(nil)
	mock.Instruments = []broker.Instrument{
		{Ticker: "RELIANCE", Exchange: "NSE", TickSize: 0.05, LotSize: 1},
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.TickSize("RELIANCE", 1200); got != 0.05 {
		t.Errorf("Expected instrument tick 0.05, got %f", got)
	}
}

// TestOverrideBeatsEverything verifies config overrides outrank both the
// dump and the fallback table.
func TestOverrideBeatsEverything(t *testing.T) {
	r, mock := testResolver(map[string]float64{"ODDLOT": 0.25})
	mock.Instruments = []broker.Instrument{
		{Ticker: "ODDLOT", Exchange: "NSE", TickSize: 0.05, LotSize: 1},
	}
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := r.TickSize("ODDLOT", 75); got != 0.25 {
		t.Errorf("Expected override tick 0.25, got %f", got)
	}
}

// TestRoundPriceFloors verifies sell limit prices round down to stay
// marketable.
func TestRoundPriceFloors(t *testing.T) {
	r, _ := testResolver(nil)

	cases := []struct {
		price    float64
		expected float64
	}{
		{1054.97, 1054.50}, // 0.50 tick band
		{847.23, 847.20},   // 0.10 tick band
		{99.97, 99.95},     // 0.05 tick band
		{49.999, 49.99},    // 0.01 tick band
		{1000.00, 1000.00}, // already on tick
	}
	for _, c := range cases {
		if got := r.RoundPrice("UNKNOWN", c.price); got != c.expected {
			t.Errorf("RoundPrice(%.4f) = %.4f, expected %.4f", c.price, got, c.expected)
		}
	}
}

// TestRefreshFailureKeepsCache verifies a failed dump refresh leaves the
// previous metadata usable.
func TestRefreshFailureKeepsCache(t *testing.T) {
	mock := broker.NewMockClient()
	exec := &failingExec{MockClient: mock}
	r := NewResolver(exec, "NSE", nil, zerolog.Nop())
	mock.Instruments = []broker.Instrument{
		{Ticker: "RELIANCE", Exchange: "NSE", TickSize: 0.05, LotSize: 1},
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exec.failing = true
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Expected error from failed refresh")
	}

	if got := r.TickSize("RELIANCE", 1200); got != 0.05 {
		t.Errorf("Expected cached tick 0.05 after failed refresh, got %f", got)
	}
}

// failingExec errors on GetInstruments once the failing flag is set.
type failingExec struct {
	*broker.MockClient
	failing bool
}

func (f *failingExec) GetInstruments(ctx context.Context, exchange string) ([]broker.Instrument, error) {
	if f.failing {
		return nil, &broker.APIError{StatusCode: 503, Code: "GatewayException", Message: "down"}
	}
	return f.MockClient.GetInstruments(ctx, exchange)
}
