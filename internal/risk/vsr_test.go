package risk

import (
	"math"
	"testing"

	"exit-watchdog/internal/broker"
)

func TestVSRBasic(t *testing.T) {
	c := broker.Candle{High: 101, Low: 100, Volume: 1200}
	if got := VSR(c); math.Abs(got-1200) > 1e-9 {
		t.Errorf("Expected VSR 1200, got %f", got)
	}
}

// TestVSRZeroRange verifies an untraded-range bar scores zero instead of
// dividing by zero.
func TestVSRZeroRange(t *testing.T) {
	c := broker.Candle{High: 100, Low: 100, Volume: 5000}
	if got := VSR(c); got != 0 {
		t.Errorf("Expected VSR 0 for zero-range bar, got %f", got)
	}
}

func TestSeedVSRHistoryWindow(t *testing.T) {
	candles := make([]broker.Candle, VSRSeedBars+5)
	for i := range candles {
		// Half the bars score 100, half score 200.
		vol := 100.0
		if i%2 == 1 {
			vol = 200.0
		}
		candles[i] = broker.Candle{High: 101, Low: 100, Volume: vol}
	}

	history := SeedVSRHistory(candles)
	if len(history) != VSRSeedBars {
		t.Fatalf("Expected seed history of %d bars, got %d", VSRSeedBars, len(history))
	}
	if got := RollingAverageVSR(history); math.Abs(got-150) > 1e-9 {
		t.Errorf("Expected seed average 150, got %f", got)
	}
}

// TestSeedVSRHistoryShort verifies all available bars are used when fewer
// than the seed window exist.
func TestSeedVSRHistoryShort(t *testing.T) {
	candles := []broker.Candle{
		{High: 101, Low: 100, Volume: 300},
		{High: 102, Low: 101, Volume: 700},
	}
	history := SeedVSRHistory(candles)
	if len(history) != 2 {
		t.Fatalf("Expected 2 seed samples, got %d", len(history))
	}
	if math.Abs(history[0]-300) > 1e-9 || math.Abs(history[1]-700) > 1e-9 {
		t.Errorf("Expected seed samples [300 700], got %v", history)
	}
}

func TestSeedVSRHistoryEmpty(t *testing.T) {
	if got := SeedVSRHistory(nil); got != nil {
		t.Errorf("Expected nil for no bars, got %v", got)
	}
}

// TestAppendVSRCap verifies the history buffer holds the most recent
// samples only.
func TestAppendVSRCap(t *testing.T) {
	var history []float64
	for i := 0; i < VSRHistoryCap+6; i++ {
		history = AppendVSR(history, float64(i))
	}

	if len(history) != VSRHistoryCap {
		t.Fatalf("Expected history length %d, got %d", VSRHistoryCap, len(history))
	}
	if history[0] != 6 {
		t.Errorf("Expected oldest surviving sample 6, got %f", history[0])
	}
	if history[len(history)-1] != float64(VSRHistoryCap+5) {
		t.Errorf("Expected newest sample %d, got %f", VSRHistoryCap+5, history[len(history)-1])
	}
}

func TestRollingAverageVSR(t *testing.T) {
	if got := RollingAverageVSR(nil); got != 0 {
		t.Errorf("Expected 0 for empty history, got %f", got)
	}
	if got := RollingAverageVSR([]float64{1000, 1200, 1400}); math.Abs(got-1200) > 1e-9 {
		t.Errorf("Expected rolling average 1200, got %f", got)
	}
}
