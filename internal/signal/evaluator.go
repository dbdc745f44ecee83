// Package signal turns per-position risk state into exit decisions.
package signal

import (
	"fmt"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/events"
	"exit-watchdog/internal/position"
)

// Kind classifies an exit decision.
type Kind string

const (
	KindATRStop          Kind = "ATR_STOP"
	KindVSRDeterioration Kind = "VSR_DETERIORATION"
	KindLossThreshold    Kind = "LOSS_THRESHOLD"
	KindProfitTarget     Kind = "PROFIT_TARGET"
)

// ExitSignal is the transient decision value handed to the dispatcher.
// It is never persisted as-is; the journal records its own copy.
type ExitSignal struct {
	Ticker       string
	ProductType  string
	Exchange     string
	Kind         Kind
	TriggerPrice float64
	Reason       string
	Quantity     int64
}

// Config holds the evaluator thresholds.
type Config struct {
	LossThresholdPct      float64 // e.g. 0.02 for a hard -2% loss limit
	VSRDeteriorationRatio float64 // e.g. 0.5
	ProfitTargetsEnabled  bool
}

// profitSplits maps the volatility-tier multiplier to partial exit fractions
// at 1x/2x/3x ATR gain. Quieter names bank more early.
var profitSplits = map[float64][3]float64{
	1.0: {0.50, 0.30, 0.20},
	1.5: {0.40, 0.30, 0.30},
	2.0: {0.30, 0.30, 0.40},
}

// Evaluator applies the exit rules to one position per poll cycle.
type Evaluator struct {
	store  *position.Store
	bus    *events.Bus
	cfg    Config
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator over the position store.
func NewEvaluator(store *position.Store, bus *events.Bus, cfg Config, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "SignalEvaluator").Logger(),
	}
}

// Evaluate runs the rule chain for one position at the current price.
// brokerQty is the quantity map from the most recent broker sync; a position
// the broker no longer reports is removed here, with no signal.
//
// Rules run in priority order and the first match wins. At most one signal
// is returned per call, and the caller must set the pending-order guard
// before evaluating the position again.
func (e *Evaluator) Evaluate(p *position.Position, currentPrice float64, brokerQty map[string]int64) *ExitSignal {
	key := p.Key()

	// 1. A position with an unresolved order is never re-evaluated.
	if p.HasPendingOrder || p.State == position.StatePendingExit {
		return nil
	}

	// 2. Existence check against the last broker sync. Only an affirmative
	// zero quantity removes the position here. A key merely missing from
	// the sync can be a partial broker response, so it is left to the
	// reconciler's consecutive-miss policy and produces no signal.
	if brokerQty != nil {
		qty, present := brokerQty[key]
		if present && qty == 0 {
			e.logger.Info().
				Str("ticker", p.Ticker).
				Msg("broker reports zero quantity, dropping from store")
			e.store.Remove(key)
			e.bus.PublishPositionRemoved(p.Ticker, p.ProductType, "broker reports zero quantity",
				p.Quantity, p.EntryPrice, p.LastPrice, p.UnrealizedPnL(), p.EntryTime)
			return nil
		}
		if !present {
			return nil
		}
		if qty != p.Quantity {
			e.store.SetQuantity(key, qty)
			p.Quantity = qty
		}
	}

	if currentPrice <= 0 {
		return nil
	}

	// 3. Momentum deterioration.
	if sig := e.checkVSR(p, currentPrice); sig != nil {
		return sig
	}

	// 4. Hard loss limit.
	if sig := e.checkLossThreshold(p, currentPrice); sig != nil {
		return sig
	}

	// 5. Trailing stop breach.
	if sig := e.checkATRStop(p, currentPrice); sig != nil {
		return sig
	}

	// 6. Optional profit-target ladder.
	if e.cfg.ProfitTargetsEnabled {
		if sig := e.checkProfitTarget(p, currentPrice); sig != nil {
			return sig
		}
	}

	return nil
}

func (e *Evaluator) checkVSR(p *position.Position, currentPrice float64) *ExitSignal {
	if p.AverageVSR <= 0 || p.CurrentVSR <= 0 {
		return nil
	}
	ratio := p.CurrentVSR / p.AverageVSR
	if ratio >= e.cfg.VSRDeteriorationRatio {
		return nil
	}
	return e.signal(p, KindVSRDeterioration, currentPrice, p.Quantity,
		fmt.Sprintf("VSR dropped to %.0f%% of average", ratio*100))
}

func (e *Evaluator) checkLossThreshold(p *position.Position, currentPrice float64) *ExitSignal {
	if p.EntryPrice <= 0 {
		return nil
	}
	change := (currentPrice - p.EntryPrice) / p.EntryPrice
	if change > -e.cfg.LossThresholdPct {
		return nil
	}
	return e.signal(p, KindLossThreshold, currentPrice, p.Quantity,
		fmt.Sprintf("loss %.2f%% breached -%.2f%% limit", change*100, e.cfg.LossThresholdPct*100))
}

func (e *Evaluator) checkATRStop(p *position.Position, currentPrice float64) *ExitSignal {
	if p.StopLossPrice <= 0 || currentPrice >= p.StopLossPrice {
		return nil
	}
	return e.signal(p, KindATRStop, currentPrice, p.Quantity,
		fmt.Sprintf("price %.2f below trailing stop %.2f", currentPrice, p.StopLossPrice))
}

// checkProfitTarget implements the partial-exit ladder: rung N fires once
// the price clears entry + (N+1) x ATR, selling the tier split of the
// original quantity. The last rung closes whatever remains.
func (e *Evaluator) checkProfitTarget(p *position.Position, currentPrice float64) *ExitSignal {
	if p.ATRValue <= 0 || p.EntryPrice <= 0 || p.ProfitTargetLevel >= 3 {
		return nil
	}

	splits, ok := profitSplits[p.StopMultiplier]
	if !ok {
		return nil
	}

	rung := p.ProfitTargetLevel
	target := p.EntryPrice + float64(rung+1)*p.ATRValue
	if currentPrice < target {
		return nil
	}

	var qty int64
	if rung == 2 {
		qty = p.Quantity
	} else {
		qty = int64(float64(p.OriginalQuantity)*splits[rung] + 0.5)
		if qty < 1 {
			qty = 1
		}
		if qty > p.Quantity {
			qty = p.Quantity
		}
	}

	return e.signal(p, KindProfitTarget, currentPrice, qty,
		fmt.Sprintf("profit target %dx ATR reached at %.2f", rung+1, target))
}

func (e *Evaluator) signal(p *position.Position, kind Kind, price float64, qty int64, reason string) *ExitSignal {
	e.logger.Info().
		Str("ticker", p.Ticker).
		Str("kind", string(kind)).
		Float64("trigger_price", price).
		Int64("quantity", qty).
		Str("reason", reason).
		Msg("exit signal")

	return &ExitSignal{
		Ticker:       p.Ticker,
		ProductType:  p.ProductType,
		Exchange:     p.Exchange,
		Kind:         kind,
		TriggerPrice: price,
		Reason:       reason,
		Quantity:     qty,
	}
}
