package position

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"exit-watchdog/internal/broker"
	"exit-watchdog/internal/events"
)

// maxConsecutiveMisses is how many reconciliation passes may fail to report
// a position before it is dropped as stale.
const maxConsecutiveMisses = 2

// Reconciler periodically re-syncs the store against the execution gateway,
// which is the source of truth. Divergence is corrected, never merged.
type Reconciler struct {
	store       *Store
	exec        broker.ExecutionClient
	market      broker.MarketDataClient
	bus         *events.Bus
	productType string
	exchange    string
	logger      zerolog.Logger
}

// NewReconciler creates a reconciler scoped to one product type.
func NewReconciler(store *Store, exec broker.ExecutionClient, market broker.MarketDataClient, bus *events.Bus, exchange, productType string, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		exec:        exec,
		market:      market,
		bus:         bus,
		productType: productType,
		exchange:    exchange,
		logger:      logger.With().Str("component", "Reconciler").Logger(),
	}
}

// Result summarizes one reconciliation pass. Quantities is the broker's
// quantity per store key from this sync, used by the evaluator's existence
// check until the next pass.
type Result struct {
	Adopted   int
	Removed   int
	Corrected int
	Unchanged int

	Quantities map[string]int64
}

// Reconcile fetches broker positions and converges the store onto them.
// A fetch failure leaves the store untouched; it is not an exception path.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result

	brokerPositions, err := r.exec.GetPositions(ctx, r.productType)
	if err != nil {
		r.logger.Warn().Err(err).Msg("position fetch failed, skipping reconciliation pass")
		return res, err
	}

	reported := make(map[string]broker.Position, len(brokerPositions))
	res.Quantities = make(map[string]int64, len(brokerPositions))
	for _, bp := range brokerPositions {
		key := Key(bp.Ticker, bp.ProductType)
		reported[key] = bp
		res.Quantities[key] = bp.Quantity
	}

	// Converge tracked positions onto the broker's view.
	for _, local := range r.store.List() {
		key := local.Key()
		bp, present := reported[key]

		switch {
		case !present:
			misses := r.store.MarkMiss(key)
			if misses >= maxConsecutiveMisses {
				r.remove(key, local, "absent from broker on consecutive syncs")
				res.Removed++
			} else {
				r.logger.Debug().
					Str("ticker", local.Ticker).
					Int("misses", misses).
					Msg("position not reported by broker")
				res.Unchanged++
			}

		case bp.Quantity == 0:
			r.remove(key, local, "broker reports zero quantity")
			res.Removed++

		case bp.Quantity != local.Quantity:
			r.store.SetQuantity(key, bp.Quantity)
			r.store.ClearMiss(key)
			r.logger.Info().
				Str("ticker", local.Ticker).
				Int64("local_qty", local.Quantity).
				Int64("broker_qty", bp.Quantity).
				Msg("quantity corrected to broker value")
			r.bus.Publish(events.Event{
				Type: events.EventQuantityCorrected,
				Data: map[string]interface{}{
					"ticker":     local.Ticker,
					"old_qty":    local.Quantity,
					"broker_qty": bp.Quantity,
				},
			})
			res.Corrected++

		default:
			r.store.ClearMiss(key)
			res.Unchanged++
		}
	}

	// Adopt broker positions the store does not know about.
	for key, bp := range reported {
		if bp.Quantity <= 0 {
			continue
		}
		if _, tracked := r.store.Get(key); tracked {
			continue
		}
		r.adopt(ctx, bp)
		res.Adopted++
	}

	r.logger.Info().
		Int("adopted", res.Adopted).
		Int("removed", res.Removed).
		Int("corrected", res.Corrected).
		Int("unchanged", res.Unchanged).
		Msg("reconciliation pass complete")
	return res, nil
}

// adopt starts tracking a broker position with cold-start risk state: the
// historical position high is unrecoverable, so it seeds from the current
// price and the stop ratchets from there.
func (r *Reconciler) adopt(ctx context.Context, bp broker.Position) {
	seedPrice := bp.LastPrice
	if r.market != nil {
		if price, err := r.market.GetLastPrice(ctx, bp.Ticker); err == nil && price > 0 {
			seedPrice = price
		}
	}
	if seedPrice <= 0 {
		seedPrice = bp.AveragePrice
	}

	exchange := bp.Exchange
	if exchange == "" {
		exchange = r.exchange
	}

	r.store.Track(&Position{
		Ticker:           bp.Ticker,
		Exchange:         exchange,
		ProductType:      bp.ProductType,
		Quantity:         bp.Quantity,
		OriginalQuantity: bp.Quantity,
		EntryPrice:       bp.AveragePrice,
		EntryTime:        time.Now(),
		PositionHigh:     seedPrice,
		LastPrice:        seedPrice,
		State:            StateNew,
	})

	r.logger.Info().
		Str("ticker", bp.Ticker).
		Int64("quantity", bp.Quantity).
		Float64("seed_price", seedPrice).
		Msg("adopted broker position")
	r.bus.Publish(events.Event{
		Type: events.EventPositionAdopted,
		Data: map[string]interface{}{
			"ticker":     bp.Ticker,
			"quantity":   bp.Quantity,
			"seed_price": seedPrice,
		},
	})
}

func (r *Reconciler) remove(key string, p *Position, cause string) {
	r.store.Remove(key)
	r.logger.Info().Str("ticker", p.Ticker).Str("cause", cause).Msg("position dropped by reconciliation")
	r.bus.PublishPositionRemoved(p.Ticker, p.ProductType, cause,
		p.Quantity, p.EntryPrice, p.LastPrice, p.UnrealizedPnL(), p.EntryTime)
}
