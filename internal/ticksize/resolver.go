// Package ticksize maps a ticker and price to the exchange's minimum
// price increment, falling back to a price-banded table when instrument
// metadata is unavailable.
package ticksize

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/broker"
)

// band defines a fallback tick size for prices below the upper bound.
type band struct {
	upperBound float64
	tickSize   float64
}

// Exchange default bands, coarsest last. Used when the instrument dump is
// missing a ticker or has not been fetched yet.
var fallbackBands = []band{
	{50, 0.01},
	{100, 0.05},
	{1000, 0.10},
	{10000, 0.50},
	{math.Inf(1), 1.00},
}

// Resolver caches instrument metadata and resolves tick sizes.
type Resolver struct {
	exec      broker.ExecutionClient
	exchange  string
	logger    zerolog.Logger
	refreshIn time.Duration

	mu        sync.RWMutex
	tickSizes map[string]float64
	overrides map[string]float64 // known irregular tick sizes, config-supplied
	fetchedAt time.Time
}

// NewResolver creates a resolver. overrides maps ticker to a tick size that
// beats both the instrument dump and the fallback table.
func NewResolver(exec broker.ExecutionClient, exchange string, overrides map[string]float64, logger zerolog.Logger) *Resolver {
	if overrides == nil {
		overrides = make(map[string]float64)
	}
	return &Resolver{
		exec:      exec,
		exchange:  exchange,
		logger:    logger.With().Str("component", "TickSizeResolver").Logger(),
		refreshIn: 12 * time.Hour,
		tickSizes: make(map[string]float64),
		overrides: overrides,
	}
}

// Refresh fetches the instrument dump and replaces the cached metadata.
// A failed refresh keeps the previous cache.
func (r *Resolver) Refresh(ctx context.Context) error {
	instruments, err := r.exec.GetInstruments(ctx, r.exchange)
	if err != nil {
		r.logger.Warn().Err(err).Msg("instrument refresh failed, keeping cached metadata")
		return err
	}

	fresh := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		if inst.TickSize > 0 {
			fresh[inst.Ticker] = inst.TickSize
		}
	}

	r.mu.Lock()
	r.tickSizes = fresh
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info().Int("instruments", len(fresh)).Msg("instrument metadata refreshed")
	return nil
}

// RefreshIfStale refreshes when the cache is older than the refresh window.
func (r *Resolver) RefreshIfStale(ctx context.Context) {
	r.mu.RLock()
	stale := time.Since(r.fetchedAt) > r.refreshIn
	r.mu.RUnlock()
	if stale {
		_ = r.Refresh(ctx)
	}
}

// TickSize returns the minimum price increment for a ticker at a price.
func (r *Resolver) TickSize(ticker string, price float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if size, ok := r.overrides[ticker]; ok {
		return size
	}
	if size, ok := r.tickSizes[ticker]; ok {
		return size
	}
	return fallbackTick(price)
}

// RoundPrice rounds a price down to the instrument's tick increment.
// Sell limit prices round down so they stay marketable.
func (r *Resolver) RoundPrice(ticker string, price float64) float64 {
	tick := r.TickSize(ticker, price)
	if tick <= 0 {
		return price
	}
	rounded := math.Floor(price/tick) * tick
	// Clean float noise to two decimals past the tick precision.
	return math.Round(rounded*10000) / 10000
}

func fallbackTick(price float64) float64 {
	for _, b := range fallbackBands {
		if price < b.upperBound {
			return b.tickSize
		}
	}
	return 1.00
}
