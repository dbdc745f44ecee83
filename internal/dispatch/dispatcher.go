// Package dispatch decouples exit detection from order submission: the
// evaluation loop enqueues, a single dispatcher goroutine talks to the
// broker. A slow or rate-limited broker can never stall the next cycle.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exit-watchdog/internal/broker"
	"exit-watchdog/internal/events"
	"exit-watchdog/internal/position"
	"exit-watchdog/internal/signal"
	"exit-watchdog/internal/ticksize"
)

// Item is the unit of work on the order queue. It is owned by the producer
// until enqueued and exclusively by the dispatcher afterwards.
type Item struct {
	Ticker          string
	Exchange        string
	ProductType     string
	Quantity        int64
	TransactionType string
	Kind            signal.Kind
	Reason          string
	TriggerPrice    float64
	Tag             string
}

// Journal persists dispatched orders. Nil-safe at the call sites.
type Journal interface {
	RecordOrder(ctx context.Context, rec OrderRecord) error
}

// OrderRecord is what the journal stores per submission attempt outcome.
type OrderRecord struct {
	Ticker     string
	Kind       string
	Reason     string
	Quantity   int64
	LimitPrice float64
	OrderID    string
	Status     string // PLACED or FAILED
	Error      string
}

// ErrQueueFull is returned when the order queue cannot accept more work.
var ErrQueueFull = errors.New("order queue full")

// Config tunes the dispatcher.
type Config struct {
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	DrainGrace    time.Duration
	SubmitTimeout time.Duration
}

// Dispatcher is the sole consumer of the order queue.
type Dispatcher struct {
	queue   chan Item
	exec    broker.ExecutionClient
	ticks   *ticksize.Resolver
	store   *position.Store
	bus     *events.Bus
	journal Journal
	cfg     Config
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher. journal may be nil.
func NewDispatcher(exec broker.ExecutionClient, ticks *ticksize.Resolver, store *position.Store, bus *events.Bus, journal Journal, cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 15 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:   make(chan Item, cfg.QueueSize),
		exec:    exec,
		ticks:   ticks,
		store:   store,
		bus:     bus,
		journal: journal,
		cfg:     cfg,
		logger:  logger.With().Str("component", "OrderDispatcher").Logger(),
	}
}

// Submit converts an exit signal into a queued order. The pending-order
// guard is set before this returns, so the same position cannot produce a
// second signal while this one is unresolved.
func (d *Dispatcher) Submit(sig *signal.ExitSignal) error {
	key := position.Key(sig.Ticker, sig.ProductType)
	d.store.SetPendingOrder(key, true)
	if sig.Kind == signal.KindProfitTarget {
		d.store.AdvanceProfitTarget(key)
	}

	item := Item{
		Ticker:          sig.Ticker,
		Exchange:        sig.Exchange,
		ProductType:     sig.ProductType,
		Quantity:        sig.Quantity,
		TransactionType: broker.TransactionSell,
		Kind:            sig.Kind,
		Reason:          sig.Reason,
		TriggerPrice:    sig.TriggerPrice,
		Tag:             "watchdog-" + uuid.NewString()[:8],
	}

	select {
	case d.queue <- item:
		d.bus.PublishExitSignal(sig.Ticker, string(sig.Kind), sig.Reason, sig.TriggerPrice, sig.Quantity)
		return nil
	default:
		// Queue full: roll back the guard so the signal fires again next cycle.
		d.store.SetPendingOrder(key, false)
		if sig.Kind == signal.KindProfitTarget {
			d.store.RevertProfitTarget(key)
		}
		d.logger.Error().Str("ticker", sig.Ticker).Msg("order queue full, signal dropped")
		return ErrQueueFull
	}
}

// Backlog returns the number of queued, unprocessed items.
func (d *Dispatcher) Backlog() int {
	return len(d.queue)
}

// Run consumes the queue until the context is cancelled, then drains
// already-queued orders within the grace period.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Int("queue_size", d.cfg.QueueSize).Msg("dispatcher started")

	for {
		select {
		case item := <-d.queue:
			d.process(ctx, item)
		case <-ctx.Done():
			d.drain()
			d.logger.Info().Msg("dispatcher stopped")
			return
		}
	}
}

// drain submits whatever is already queued, bounded by the grace period.
func (d *Dispatcher) drain() {
	if len(d.queue) == 0 {
		return
	}
	d.logger.Info().Int("backlog", len(d.queue)).Msg("draining order queue before shutdown")

	graceCtx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainGrace)
	defer cancel()

	for {
		select {
		case item := <-d.queue:
			d.process(graceCtx, item)
		default:
			return
		}
		if graceCtx.Err() != nil {
			d.logger.Warn().Int("abandoned", len(d.queue)).Msg("drain grace expired")
			return
		}
	}
}

// process submits one order, retrying transient failures with backoff.
func (d *Dispatcher) process(ctx context.Context, item Item) {
	key := position.Key(item.Ticker, item.ProductType)
	limitPrice := d.ticks.RoundPrice(item.Ticker, item.TriggerPrice)

	req := broker.OrderRequest{
		Ticker:          item.Ticker,
		Exchange:        item.Exchange,
		TransactionType: item.TransactionType,
		Quantity:        item.Quantity,
		OrderType:       broker.OrderTypeLimit,
		Price:           limitPrice,
		ProductType:     item.ProductType,
		Tag:             item.Tag,
	}

	var orderID string
	var err error
	backoff := d.cfg.RetryBackoff

	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		submitCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
		orderID, err = d.exec.PlaceOrder(submitCtx, req)
		cancel()

		if err == nil {
			break
		}
		if !broker.IsTransient(err) || attempt == d.cfg.MaxRetries || ctx.Err() != nil {
			break
		}

		d.logger.Warn().
			Err(err).
			Str("ticker", item.Ticker).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("order submission failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}

	if err != nil {
		d.onFailure(ctx, item, key, limitPrice, err)
		return
	}
	d.onSuccess(ctx, item, key, limitPrice, orderID)
}

func (d *Dispatcher) onSuccess(ctx context.Context, item Item, key string, limitPrice float64, orderID string) {
	d.store.SetPendingOrder(key, false)
	if item.Kind != signal.KindProfitTarget {
		// Full exit accepted: park the position until reconciliation
		// confirms the fill and removes it.
		d.store.SetState(key, position.StatePendingExit)
	}

	d.logger.Info().
		Str("ticker", item.Ticker).
		Str("order_id", orderID).
		Int64("quantity", item.Quantity).
		Float64("limit_price", limitPrice).
		Str("reason", item.Reason).
		Msg("exit order placed")

	d.bus.PublishOrderPlaced(item.Ticker, orderID, item.Reason, item.Quantity, limitPrice)
	d.record(ctx, item, limitPrice, orderID, "PLACED", "")
}

func (d *Dispatcher) onFailure(ctx context.Context, item Item, key string, limitPrice float64, err error) {
	// Terminal failure: clear the guard so the position is re-evaluated
	// next cycle, and roll back any ladder advance.
	d.store.SetPendingOrder(key, false)
	d.store.SetState(key, position.StateMonitoring)
	if item.Kind == signal.KindProfitTarget {
		d.store.RevertProfitTarget(key)
	}

	d.logger.Error().
		Err(err).
		Str("ticker", item.Ticker).
		Int64("quantity", item.Quantity).
		Str("reason", item.Reason).
		Msg("exit order failed")

	d.bus.PublishOrderFailed(item.Ticker, item.Reason, err.Error(), item.Quantity)
	d.record(ctx, item, limitPrice, "", "FAILED", err.Error())
}

func (d *Dispatcher) record(ctx context.Context, item Item, limitPrice float64, orderID, status, cause string) {
	if d.journal == nil {
		return
	}
	rec := OrderRecord{
		Ticker:     item.Ticker,
		Kind:       string(item.Kind),
		Reason:     item.Reason,
		Quantity:   item.Quantity,
		LimitPrice: limitPrice,
		OrderID:    orderID,
		Status:     status,
		Error:      cause,
	}
	if err := d.journal.RecordOrder(ctx, rec); err != nil {
		d.logger.Warn().Err(err).Str("ticker", item.Ticker).Msg("order journal write failed")
	}
}
