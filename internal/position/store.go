package position

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/risk"
)

// ErrNotFound is returned when a key is not tracked.
var ErrNotFound = errors.New("position not found")

// Store is the single piece of mutable shared state in the watchdog.
// All mutation happens through its methods under one mutex; readers get
// deep copies and can never observe a half-updated stop/high pair.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*Position
	logger    zerolog.Logger
}

// NewStore creates an empty position store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		positions: make(map[string]*Position),
		logger:    logger.With().Str("component", "PositionStore").Logger(),
	}
}

// Track inserts or replaces a position.
func (s *Store) Track(p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.OriginalQuantity == 0 {
		p.OriginalQuantity = p.Quantity
	}
	if p.State == "" {
		p.State = StateNew
	}
	s.positions[p.Key()] = p.clone()

	s.logger.Info().
		Str("ticker", p.Ticker).
		Str("product", p.ProductType).
		Int64("quantity", p.Quantity).
		Float64("entry_price", p.EntryPrice).
		Str("state", string(p.State)).
		Msg("position tracked")
}

// Get returns a copy of the position for a key.
func (s *Store) Get(key string) (*Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// List returns copies of all tracked positions.
func (s *Store) List() []*Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.clone())
	}
	return out
}

// Len returns the number of tracked positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Remove drops a position. Returns the removed copy, if any.
func (s *Store) Remove(key string) (*Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok {
		return nil, false
	}
	delete(s.positions, key)
	s.logger.Info().Str("ticker", p.Ticker).Str("product", p.ProductType).Msg("position removed")
	return p, true
}

// RecordPrice stores the last traded price and ratchets the position high.
func (s *Store) RecordPrice(key string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok || price <= 0 {
		return
	}
	p.LastPrice = price
	if price > p.PositionHigh {
		p.PositionHigh = price
	}
}

// ApplyATR updates the volatility state and ratchets the trailing stop.
// The stop never decreases. Returns the effective stop after the update.
func (s *Store) ApplyATR(key string, atr, atrPercent, multiplier float64, now time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok {
		return 0, ErrNotFound
	}

	p.ATRValue = atr
	p.ATRPercent = atrPercent
	p.StopMultiplier = multiplier
	p.ATRUpdatedAt = now

	candidate := risk.TrailingStop(p.PositionHigh, multiplier, atr)
	if candidate > p.StopLossPrice {
		old := p.StopLossPrice
		p.StopLossPrice = candidate
		s.logger.Debug().
			Str("ticker", p.Ticker).
			Float64("old_stop", old).
			Float64("new_stop", candidate).
			Float64("position_high", p.PositionHigh).
			Msg("trailing stop raised")
	}

	if p.State == StateNew {
		p.State = StateMonitoring
	}
	return p.StopLossPrice, nil
}

// SeedVSR initializes the momentum baseline for a fresh position from
// historical bars. history is the per-bar VSR of the seed window, oldest
// first; lastBar is the open time of the newest seeded bar, so the hourly
// sampler consumes only bars after it.
func (s *Store) SeedVSR(key string, entryVSR float64, history []float64, lastBar time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok {
		return
	}
	p.EntryVSR = entryVSR
	p.CurrentVSR = entryVSR
	p.VSRHistory = append([]float64(nil), history...)
	p.AverageVSR = risk.RollingAverageVSR(p.VSRHistory)
	p.LastVSRBar = lastBar
}

// ApplyHourlyVSR records the VSR of one completed hourly bar. barTime is
// the bar's open time; a bar at or before the last consumed one is
// rejected, so each bar counts exactly once. The rolling baseline lags the
// current sample by one bar so a collapse is measured against what came
// before it.
func (s *Store) ApplyHourlyVSR(key string, sample float64, barTime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok {
		return false
	}
	if !barTime.After(p.LastVSRBar) {
		return false
	}

	if len(p.VSRHistory) > 0 {
		p.AverageVSR = risk.RollingAverageVSR(p.VSRHistory)
	}
	p.VSRHistory = risk.AppendVSR(p.VSRHistory, sample)
	p.CurrentVSR = sample
	p.LastVSRBar = barTime
	return true
}

// SetPendingOrder flips the duplicate-submission guard.
func (s *Store) SetPendingOrder(key string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok {
		p.HasPendingOrder = pending
	}
}

// SetState transitions the lifecycle state.
func (s *Store) SetState(key string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok {
		p.State = state
	}
}

// SetQuantity corrects the quantity to the broker-reported value.
func (s *Store) SetQuantity(key string, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok {
		p.Quantity = quantity
	}
}

// AdvanceProfitTarget bumps the ladder level and returns the new level.
func (s *Store) AdvanceProfitTarget(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[key]
	if !ok {
		return 0
	}
	p.ProfitTargetLevel++
	return p.ProfitTargetLevel
}

// RevertProfitTarget undoes a ladder advance after a failed partial exit.
func (s *Store) RevertProfitTarget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok && p.ProfitTargetLevel > 0 {
		p.ProfitTargetLevel--
	}
}

// MarkMiss increments the consecutive-miss counter and returns it.
func (s *Store) MarkMiss(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[key]
	if !ok {
		return 0
	}
	p.missCount++
	return p.missCount
}

// ClearMiss resets the consecutive-miss counter.
func (s *Store) ClearMiss(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[key]; ok {
		p.missCount = 0
	}
}

// RestoreRiskState applies persisted derived state after a restart, still
// honoring monotonicity against whatever is already present.
func (s *Store) RestoreRiskState(key string, positionHigh, stopLoss, averageVSR float64, history []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[key]
	if !ok {
		return
	}
	if positionHigh > p.PositionHigh {
		p.PositionHigh = positionHigh
	}
	if stopLoss > p.StopLossPrice {
		p.StopLossPrice = stopLoss
	}
	if averageVSR > 0 {
		p.AverageVSR = averageVSR
	}
	if len(history) > 0 {
		p.VSRHistory = append([]float64(nil), history...)
	}
	if p.State == StateNew && p.StopLossPrice > 0 {
		p.State = StateMonitoring
	}
	s.logger.Info().
		Str("ticker", p.Ticker).
		Float64("position_high", p.PositionHigh).
		Float64("stop_loss", p.StopLossPrice).
		Msg("risk state restored from snapshot")
}
