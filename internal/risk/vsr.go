package risk

import (
	"exit-watchdog/internal/broker"
)

// VSRHistoryCap bounds the per-position VSR ring buffer (one trading day
// of hourly samples plus slack).
const VSRHistoryCap = 24

// VSRSeedBars is how many hourly bars seed the rolling baseline.
const VSRSeedBars = 20

// VSR computes the volume/spread ratio for a bar. A zero-range bar carries
// no informative spread and scores 0.
func VSR(c broker.Candle) float64 {
	spread := c.High - c.Low
	if spread <= 0 {
		return 0
	}
	return c.Volume / spread
}

// SeedVSRHistory returns the per-bar VSR of the last VSRSeedBars hourly
// bars, oldest first. The seeded history keeps the rolling baseline a
// full-window average from the very first post-entry sample.
func SeedVSRHistory(candles []broker.Candle) []float64 {
	if len(candles) == 0 {
		return nil
	}
	if len(candles) > VSRSeedBars {
		candles = candles[len(candles)-VSRSeedBars:]
	}
	history := make([]float64, 0, len(candles))
	for _, c := range candles {
		history = append(history, VSR(c))
	}
	return history
}

// AppendVSR appends a sample to a bounded history, evicting oldest first.
func AppendVSR(history []float64, sample float64) []float64 {
	history = append(history, sample)
	if len(history) > VSRHistoryCap {
		history = history[len(history)-VSRHistoryCap:]
	}
	return history
}

// RollingAverageVSR is the arithmetic mean of the history buffer.
func RollingAverageVSR(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range history {
		sum += v
	}
	return sum / float64(len(history))
}
