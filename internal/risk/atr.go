// Package risk computes the volatility and momentum measures that drive
// exit decisions: the ATR trailing stop and the hourly volume/spread ratio.
package risk

import (
	"errors"
	"math"

	"exit-watchdog/internal/broker"
)

// ATRPeriod is the lookback used for the true-range average.
const ATRPeriod = 20

var (
	// ErrInsufficientHistory means fewer bars than the ATR period requires.
	ErrInsufficientHistory = errors.New("insufficient candle history")
	// ErrZeroVolumeBar means the window contains an untraded bar, which
	// makes the range unreliable.
	ErrZeroVolumeBar = errors.New("zero-volume bar in ATR window")
)

// ComputeATR calculates the simple moving average of true range over the
// final `period` bars. The previous close feeds each bar's true range;
// when exactly `period` bars exist the oldest bar has no previous close
// and its range stands alone.
func ComputeATR(candles []broker.Candle, period int) (float64, error) {
	if len(candles) < period {
		return 0, ErrInsufficientHistory
	}

	trSum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		if candles[i].Volume == 0 {
			return 0, ErrZeroVolumeBar
		}

		high := candles[i].High
		low := candles[i].Low

		tr := high - low
		if i > 0 {
			prevClose := candles[i-1].Close
			tr = math.Max(
				high-low,
				math.Max(
					math.Abs(high-prevClose),
					math.Abs(low-prevClose),
				),
			)
		}
		trSum += tr
	}

	return trSum / float64(period), nil
}

// StopMultiplier returns the volatility-tiered ATR multiplier for an ATR
// expressed as a percentage of price. Quiet names trail tight, volatile
// names get room to breathe.
func StopMultiplier(atrPercent float64) float64 {
	switch {
	case atrPercent < 2.0:
		return 1.0
	case atrPercent <= 4.0:
		return 1.5
	default:
		return 2.0
	}
}

// TrailingStop returns the candidate stop for a position high. The caller
// ratchets it against the existing stop; this function does not.
func TrailingStop(positionHigh, multiplier, atr float64) float64 {
	return positionHigh - multiplier*atr
}
