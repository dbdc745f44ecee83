package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/broker"
	"exit-watchdog/internal/database"
	"exit-watchdog/internal/dispatch"
	"exit-watchdog/internal/events"
	"exit-watchdog/internal/position"
	"exit-watchdog/internal/risk"
	"exit-watchdog/internal/signal"
	"exit-watchdog/internal/ticksize"
)

// Config holds the watchdog loop settings.
type Config struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	SummaryInterval   time.Duration
	OffHoursIdle      time.Duration
	ManifestPath      string
	Exchange          string
	ProductType       string

	// IgnoreMarketHours keeps the loop evaluating outside the session.
	// Meant for mock-broker runs, never for live trading.
	IgnoreMarketHours bool
}

// DefaultConfig returns the production loop cadence.
func DefaultConfig() Config {
	return Config{
		PollInterval:      45 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		SummaryInterval:   30 * time.Minute,
		OffHoursIdle:      5 * time.Minute,
		Exchange:          "NSE",
		ProductType:       broker.ProductDelivery,
	}
}

// Watchdog owns the monitoring loop. It is the only writer of exit signals;
// everything downstream of Evaluate goes through the dispatcher.
type Watchdog struct {
	cfg        Config
	calendar   *Calendar
	store      *position.Store
	market     broker.MarketDataClient
	stream     *broker.TickerStream
	reconciler *position.Reconciler
	evaluator  *signal.Evaluator
	dispatcher *dispatch.Dispatcher
	ticks      *ticksize.Resolver
	riskRepo   *database.RiskStateRepository
	bus        *events.Bus
	logger     zerolog.Logger

	mu        sync.RWMutex
	brokerQty map[string]int64
}

// New wires the watchdog. stream and riskRepo may be nil.
func New(
	cfg Config,
	calendar *Calendar,
	store *position.Store,
	market broker.MarketDataClient,
	stream *broker.TickerStream,
	reconciler *position.Reconciler,
	evaluator *signal.Evaluator,
	dispatcher *dispatch.Dispatcher,
	ticks *ticksize.Resolver,
	riskRepo *database.RiskStateRepository,
	bus *events.Bus,
	logger zerolog.Logger,
) *Watchdog {
	return &Watchdog{
		cfg:        cfg,
		calendar:   calendar,
		store:      store,
		market:     market,
		stream:     stream,
		reconciler: reconciler,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		ticks:      ticks,
		riskRepo:   riskRepo,
		bus:        bus,
		logger:     logger.With().Str("component", "Watchdog").Logger(),
	}
}

// Run blocks until ctx is cancelled. Startup failures that leave nothing to
// monitor are returned; per-ticker failures inside the loop are logged and
// isolated so one bad symbol never stalls the rest of the book.
func (w *Watchdog) Run(ctx context.Context) error {
	if err := w.startup(ctx); err != nil {
		return fmt.Errorf("watchdog startup: %w", err)
	}

	w.bus.Publish(events.Event{
		Type: events.EventWatchdogStarted,
		Data: map[string]interface{}{"positions": w.store.Len()},
	})
	w.logger.Info().
		Int("positions", w.store.Len()).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("watchdog started")

	poll := time.NewTicker(w.cfg.PollInterval)
	reconcile := time.NewTicker(w.cfg.ReconcileInterval)
	hourly := time.NewTicker(10 * time.Minute)
	summary := time.NewTicker(w.cfg.SummaryInterval)
	defer poll.Stop()
	defer reconcile.Stop()
	defer hourly.Stop()
	defer summary.Stop()

	idling := false
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil

		case <-poll.C:
			if !w.marketActive() {
				if !idling && w.cfg.OffHoursIdle > 0 {
					idling = true
					poll.Reset(w.cfg.OffHoursIdle)
					w.logger.Info().Msg("market closed, poll loop idling")
				}
				continue
			}
			if idling {
				idling = false
				poll.Reset(w.cfg.PollInterval)
			}
			w.pollCycle(ctx)

		case <-reconcile.C:
			if !w.marketActive() {
				continue
			}
			w.reconcilePass(ctx)

		case <-hourly.C:
			if !w.marketActive() {
				continue
			}
			w.hourlyVSRPass(ctx)

		case <-summary.C:
			w.publishSummary()
		}
	}
}

func (w *Watchdog) marketActive() bool {
	if w.cfg.IgnoreMarketHours {
		return true
	}
	return w.calendar.IsOpen(time.Now())
}

// startup seeds the store (manifest first, then broker adoption), restores
// persisted risk state, and primes ATR/VSR so the first poll cycle can
// already trigger exits.
func (w *Watchdog) startup(ctx context.Context) error {
	if w.cfg.ManifestPath != "" {
		entries, err := position.LoadManifest(w.cfg.ManifestPath)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		for _, e := range entries {
			w.store.Track(position.FromManifest(e, w.cfg.Exchange, w.cfg.ProductType))
		}
		w.logger.Info().Int("entries", len(entries)).Str("path", w.cfg.ManifestPath).Msg("manifest loaded")
	}

	w.reconcilePass(ctx)

	if w.store.Len() == 0 {
		w.logger.Warn().Msg("no positions to monitor, watchdog will idle until broker reports holdings")
	}

	if err := w.ticks.Refresh(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("instrument dump refresh failed, using fallback tick bands")
	}

	w.restoreRiskState(ctx)

	for _, p := range w.store.List() {
		if err := w.seedRisk(ctx, p); err != nil {
			w.logger.Warn().Err(err).Str("ticker", p.Ticker).Msg("risk state seeding failed")
		}
	}
	return nil
}

func (w *Watchdog) restoreRiskState(ctx context.Context) {
	if w.riskRepo == nil {
		return
	}
	for _, p := range w.store.List() {
		snap, err := w.riskRepo.Load(ctx, p.Ticker, p.ProductType)
		if err != nil || snap == nil {
			continue
		}
		w.store.RestoreRiskState(p.Key(), snap.PositionHigh, snap.StopLossPrice, snap.AverageVSR, snap.VSRHistory)
		w.logger.Info().
			Str("ticker", p.Ticker).
			Float64("position_high", snap.PositionHigh).
			Float64("stop", snap.StopLossPrice).
			Msg("risk state restored from snapshot")
	}
}

// seedRisk computes the initial ATR stop and VSR baseline for one position.
func (w *Watchdog) seedRisk(ctx context.Context, p *position.Position) error {
	if err := w.refreshATR(ctx, p); err != nil {
		return err
	}

	if p.AverageVSR <= 0 {
		now := time.Now()
		candles, err := w.market.GetHistoricalCandles(ctx, p.Ticker, broker.IntervalHourly, now.AddDate(0, 0, -7), now)
		if err != nil {
			return fmt.Errorf("hourly candles for %s: %w", p.Ticker, err)
		}
		idx := w.lastCompletedBar(candles, now)
		if idx < 0 {
			return fmt.Errorf("no completed hourly bars for %s", p.Ticker)
		}
		completed := candles[:idx+1]
		last := completed[len(completed)-1]
		w.store.SeedVSR(p.Key(), risk.VSR(last), risk.SeedVSRHistory(completed), last.Timestamp)
	}

	if w.stream != nil {
		w.stream.Subscribe(p.Ticker)
	}
	return nil
}

// refreshATR recomputes the ATR stop from daily candles. Runs at most once
// per trading session per position.
func (w *Watchdog) refreshATR(ctx context.Context, p *position.Position) error {
	now := time.Now()
	if w.calendar.SameSession(p.ATRUpdatedAt, now) {
		return nil
	}

	candles, err := w.market.GetHistoricalCandles(ctx, p.Ticker, broker.IntervalDay, now.AddDate(0, 0, -60), now)
	if err != nil {
		return fmt.Errorf("daily candles for %s: %w", p.Ticker, err)
	}
	atr, err := risk.ComputeATR(candles, risk.ATRPeriod)
	if err != nil {
		return fmt.Errorf("ATR for %s: %w", p.Ticker, err)
	}

	price := p.LastPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	atrPercent := atr / price * 100
	multiplier := risk.StopMultiplier(atrPercent)

	stop, err := w.store.ApplyATR(p.Key(), atr, atrPercent, multiplier, now)
	if err != nil {
		return err
	}
	w.logger.Info().
		Str("ticker", p.Ticker).
		Float64("atr", atr).
		Float64("atr_pct", atrPercent).
		Float64("multiplier", multiplier).
		Float64("stop", stop).
		Msg("ATR stop refreshed")
	return nil
}

// pollCycle is one pass over the book: price, stop checks, dispatch.
func (w *Watchdog) pollCycle(ctx context.Context) {
	w.ticks.RefreshIfStale(ctx)

	w.mu.RLock()
	brokerQty := w.brokerQty
	w.mu.RUnlock()

	for _, p := range w.store.List() {
		if err := w.evaluateOne(ctx, p, brokerQty); err != nil {
			w.logger.Error().Err(err).Str("ticker", p.Ticker).Msg("evaluation cycle failed for position")
		}
	}
}

func (w *Watchdog) evaluateOne(ctx context.Context, p *position.Position, brokerQty map[string]int64) error {
	price, err := w.currentPrice(ctx, p.Ticker)
	if err != nil {
		return fmt.Errorf("price for %s: %w", p.Ticker, err)
	}
	w.store.RecordPrice(p.Key(), price)

	if err := w.refreshATR(ctx, p); err != nil {
		// Stale stops stay in force; a candle outage must not blind the
		// loss limit or the existing trailing stop.
		w.logger.Warn().Err(err).Str("ticker", p.Ticker).Msg("ATR refresh failed, holding previous stop")
	}

	if fresh, ok := w.store.Get(p.Key()); ok {
		p = fresh
	} else {
		return nil
	}

	sig := w.evaluator.Evaluate(p, price, brokerQty)
	if sig != nil {
		if err := w.dispatcher.Submit(sig); err != nil {
			w.logger.Error().Err(err).Str("ticker", p.Ticker).Msg("exit signal not enqueued")
		}
	}

	w.saveSnapshot(ctx, p.Key())
	return nil
}

// currentPrice prefers the websocket stream and falls back to the REST quote
// when the tick is stale or the stream is down.
func (w *Watchdog) currentPrice(ctx context.Context, ticker string) (float64, error) {
	if w.stream != nil {
		if price, ok := w.stream.Get(ticker); ok {
			return price, nil
		}
	}
	return w.market.GetLastPrice(ctx, ticker)
}

func (w *Watchdog) reconcilePass(ctx context.Context) {
	res, err := w.reconciler.Reconcile(ctx)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.brokerQty = res.Quantities
	w.mu.Unlock()

	if res.Adopted > 0 {
		for _, p := range w.store.List() {
			if p.State != position.StateNew {
				continue
			}
			if err := w.seedRisk(ctx, p); err != nil {
				w.logger.Warn().Err(err).Str("ticker", p.Ticker).Msg("risk seeding for adopted position failed")
			}
		}
	}
}

// lastCompletedBar returns the index of the newest candle that opened
// before the current exchange hour, or -1. The broker's historical API
// appends the still-forming bar, whose partial volume must never feed a
// VSR sample.
func (w *Watchdog) lastCompletedBar(candles []broker.Candle, now time.Time) int {
	cutoff := w.calendar.CurrentHour(now)
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Timestamp.Before(cutoff) {
			return i
		}
	}
	return -1
}

// hourlyVSRPass samples the latest completed hourly bar for every position.
// The store's per-bar guard makes the 10-minute cadence safe; each bar is
// consumed at most once.
func (w *Watchdog) hourlyVSRPass(ctx context.Context) {
	now := time.Now()
	for _, p := range w.store.List() {
		if p.HasPendingOrder || p.State == position.StatePendingExit {
			continue
		}
		candles, err := w.market.GetHistoricalCandles(ctx, p.Ticker, broker.IntervalHourly, now.AddDate(0, 0, -2), now)
		if err != nil {
			w.logger.Warn().Err(err).Str("ticker", p.Ticker).Msg("hourly candle fetch failed")
			continue
		}
		idx := w.lastCompletedBar(candles, now)
		if idx < 0 {
			continue
		}
		bar := candles[idx]
		sample := risk.VSR(bar)
		if w.store.ApplyHourlyVSR(p.Key(), sample, bar.Timestamp) {
			w.logger.Debug().
				Str("ticker", p.Ticker).
				Float64("vsr", sample).
				Msg("hourly VSR sample recorded")
			w.saveSnapshot(ctx, p.Key())
		}
	}
}

func (w *Watchdog) saveSnapshot(ctx context.Context, key string) {
	if w.riskRepo == nil {
		return
	}
	p, ok := w.store.Get(key)
	if !ok {
		return
	}
	snap := &database.RiskSnapshot{
		Ticker:        p.Ticker,
		ProductType:   p.ProductType,
		PositionHigh:  p.PositionHigh,
		StopLossPrice: p.StopLossPrice,
		AverageVSR:    p.AverageVSR,
		VSRHistory:    p.VSRHistory,
		SavedAt:       time.Now(),
	}
	if err := w.riskRepo.Save(ctx, snap); err != nil {
		w.logger.Debug().Err(err).Str("ticker", p.Ticker).Msg("risk snapshot save failed")
	}
}

func (w *Watchdog) publishSummary() {
	positions := w.store.List()

	var unrealized float64
	var pending int
	for _, p := range positions {
		unrealized += p.UnrealizedPnL()
		if p.HasPendingOrder || p.State == position.StatePendingExit {
			pending++
		}
	}

	w.bus.Publish(events.Event{
		Type: events.EventPortfolioSummary,
		Data: map[string]interface{}{
			"positions":      len(positions),
			"pending_exits":  pending,
			"unrealized_pnl": unrealized,
			"backlog":        w.dispatcher.Backlog(),
		},
	})
}

func (w *Watchdog) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, p := range w.store.List() {
		w.saveSnapshot(ctx, p.Key())
	}
	w.publishSummary()
	w.bus.Publish(events.Event{
		Type: events.EventWatchdogStopped,
		Data: map[string]interface{}{"positions": w.store.Len()},
	})
	w.logger.Info().Msg("watchdog stopped")
}
