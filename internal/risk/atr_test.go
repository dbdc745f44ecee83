package risk

import (
	"errors"
	"math"
	"testing"

	"exit-watchdog/internal/broker"
)

func constantRangeCandles(n int) []broker.Candle {
	candles := make([]broker.Candle, n)
	for i := range candles {
		candles[i] = broker.Candle{Open: 100, High: 105, Low: 95, Close: 100, Volume: 1000}
	}
	return candles
}

// TestComputeATRConstantRange verifies the average over a flat series where
// every bar's true range is the high-low spread.
func TestComputeATRConstantRange(t *testing.T) {
	atr, err := ComputeATR(constantRangeCandles(ATRPeriod+1), ATRPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(atr-10) > 1e-9 {
		t.Errorf("Expected ATR 10, got %f", atr)
	}
}

// TestComputeATRGapUp verifies the previous-close term dominates when a bar
// gaps beyond the prior close.
func TestComputeATRGapUp(t *testing.T) {
	candles := constantRangeCandles(ATRPeriod)
	// Final bar gaps to 120-115 against a previous close of 100.
	candles = append(candles, broker.Candle{Open: 118, High: 120, Low: 115, Close: 119, Volume: 1000})

	atr, err := ComputeATR(candles, ATRPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 19 bars contribute TR 10, the gap bar contributes |120-100| = 20.
	expected := (19*10.0 + 20.0) / float64(ATRPeriod)
	if math.Abs(atr-expected) > 1e-9 {
		t.Errorf("Expected ATR %f, got %f", expected, atr)
	}
}

func TestComputeATRInsufficientHistory(t *testing.T) {
	_, err := ComputeATR(constantRangeCandles(ATRPeriod-1), ATRPeriod)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Errorf("Expected ErrInsufficientHistory, got %v", err)
	}
}

// TestComputeATRExactPeriod verifies a series of exactly the period length
// is accepted, with the oldest bar's range standing in for its true range.
func TestComputeATRExactPeriod(t *testing.T) {
	atr, err := ComputeATR(constantRangeCandles(ATRPeriod), ATRPeriod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(atr-10) > 1e-9 {
		t.Errorf("Expected ATR 10, got %f", atr)
	}
}

func TestComputeATRZeroVolumeBar(t *testing.T) {
	candles := constantRangeCandles(ATRPeriod + 1)
	candles[ATRPeriod].Volume = 0

	_, err := ComputeATR(candles, ATRPeriod)
	if !errors.Is(err, ErrZeroVolumeBar) {
		t.Errorf("Expected ErrZeroVolumeBar, got %v", err)
	}
}

// TestStopMultiplierTiers checks the tier boundaries, including the
// inclusive upper edge of the middle band.
func TestStopMultiplierTiers(t *testing.T) {
	cases := []struct {
		atrPercent float64
		expected   float64
	}{
		{0.5, 1.0},
		{1.99, 1.0},
		{2.0, 1.5},
		{3.0, 1.5},
		{4.0, 1.5},
		{4.01, 2.0},
		{8.0, 2.0},
	}
	for _, c := range cases {
		if got := StopMultiplier(c.atrPercent); got != c.expected {
			t.Errorf("StopMultiplier(%.2f) = %.1f, expected %.1f", c.atrPercent, got, c.expected)
		}
	}
}

func TestTrailingStop(t *testing.T) {
	stop := TrailingStop(1100, 1.5, 30)
	if math.Abs(stop-1055) > 1e-9 {
		t.Errorf("Expected stop 1055, got %f", stop)
	}
}
