// Package position holds the authoritative in-memory record of tracked
// positions and their derived risk state, reconciled against the broker.
package position

import (
	"time"
)

// State is a position's place in the watchdog lifecycle.
type State string

const (
	// StateNew means just adopted, risk state not yet seeded.
	StateNew State = "NEW"
	// StateMonitoring means ATR/VSR state is current.
	StateMonitoring State = "MONITORING"
	// StatePendingExit means an exit order was accepted by the broker and
	// the position awaits removal by reconciliation.
	StatePendingExit State = "PENDING_EXIT"
)

// Position is one tracked holding per (ticker, product type).
type Position struct {
	Ticker      string `json:"ticker"`
	Exchange    string `json:"exchange"`
	ProductType string `json:"product_type"`

	Quantity         int64     `json:"quantity"`
	OriginalQuantity int64     `json:"original_quantity"`
	EntryPrice       float64   `json:"entry_price"`
	EntryTime        time.Time `json:"entry_time"`

	// Derived risk state. PositionHigh and StopLossPrice only move up.
	PositionHigh   float64 `json:"position_high"`
	LastPrice      float64 `json:"last_price"`
	ATRValue       float64 `json:"atr_value"`
	ATRPercent     float64 `json:"atr_percent"`
	StopLossPrice  float64 `json:"stop_loss_price"`
	StopMultiplier float64 `json:"stop_multiplier"`

	// Momentum state.
	EntryVSR   float64   `json:"entry_vsr"`
	CurrentVSR float64   `json:"current_vsr"`
	AverageVSR float64   `json:"average_vsr"`
	VSRHistory []float64 `json:"vsr_history"`
	// LastVSRBar is the open time of the newest hourly bar consumed into
	// the VSR history. Each bar is counted exactly once.
	LastVSRBar time.Time `json:"last_vsr_bar"`

	// Control.
	State             State     `json:"state"`
	HasPendingOrder   bool      `json:"has_pending_order"`
	ProfitTargetLevel int       `json:"profit_target_level"`
	ATRUpdatedAt      time.Time `json:"atr_updated_at"`

	// missCount counts consecutive reconciliations where the broker did
	// not report this position. Two misses remove it.
	missCount int
}

// Key identifies a position in the store.
func Key(ticker, productType string) string {
	return ticker + "|" + productType
}

// Key returns the position's store key.
func (p *Position) Key() string {
	return Key(p.Ticker, p.ProductType)
}

// UnrealizedPnL is the mark-to-market gain at the last seen price.
func (p *Position) UnrealizedPnL() float64 {
	if p.LastPrice == 0 {
		return 0
	}
	return (p.LastPrice - p.EntryPrice) * float64(p.Quantity)
}

// clone returns a deep copy safe to hand outside the store lock.
func (p *Position) clone() *Position {
	cp := *p
	cp.VSRHistory = append([]float64(nil), p.VSRHistory...)
	return &cp
}
