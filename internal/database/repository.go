package database

import (
	"context"
	"fmt"
	"time"

	"exit-watchdog/internal/dispatch"
	"exit-watchdog/internal/events"
)

// Repository provides journal access over the database pool.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ExitEvent is one journaled exit decision.
type ExitEvent struct {
	ID           int64     `json:"id"`
	Ticker       string    `json:"ticker"`
	Kind         string    `json:"kind"`
	TriggerPrice float64   `json:"trigger_price"`
	Quantity     int64     `json:"quantity"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// ClosedPosition is a realized-P&L history row.
type ClosedPosition struct {
	Ticker      string    `json:"ticker"`
	ProductType string    `json:"product_type"`
	Quantity    int64     `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	EntryTime   time.Time `json:"entry_time"`
	CloseCause  string    `json:"close_cause"`
}

// RecordExitEvent journals an exit decision.
func (r *Repository) RecordExitEvent(ctx context.Context, ev ExitEvent) error {
	query := `INSERT INTO exit_events (ticker, kind, trigger_price, quantity, reason)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, query, ev.Ticker, ev.Kind, ev.TriggerPrice, ev.Quantity, ev.Reason)
	if err != nil {
		return fmt.Errorf("record exit event: %w", err)
	}
	return nil
}

// RecordOrder journals an order submission outcome. Implements
// dispatch.Journal.
func (r *Repository) RecordOrder(ctx context.Context, rec dispatch.OrderRecord) error {
	query := `INSERT INTO exit_orders (ticker, kind, quantity, limit_price, order_id, status, reason, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Ticker, rec.Kind, rec.Quantity, rec.LimitPrice, rec.OrderID, rec.Status, rec.Reason, rec.Error)
	if err != nil {
		return fmt.Errorf("record order: %w", err)
	}
	return nil
}

// RecordClosedPosition journals a position removed by reconciliation.
func (r *Repository) RecordClosedPosition(ctx context.Context, cp ClosedPosition) error {
	query := `INSERT INTO closed_positions (ticker, product_type, quantity, entry_price, exit_price, realized_pnl, entry_time, close_cause)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, query,
		cp.Ticker, cp.ProductType, cp.Quantity, cp.EntryPrice, cp.ExitPrice, cp.RealizedPnL, cp.EntryTime, cp.CloseCause)
	if err != nil {
		return fmt.Errorf("record closed position: %w", err)
	}
	return nil
}

// ListRecentExitEvents returns the newest exit decisions, newest first.
func (r *Repository) ListRecentExitEvents(ctx context.Context, limit int) ([]ExitEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ticker, kind, trigger_price, quantity, COALESCE(reason, ''), created_at
		FROM exit_events ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list exit events: %w", err)
	}
	defer rows.Close()

	var out []ExitEvent
	for rows.Next() {
		var ev ExitEvent
		if err := rows.Scan(&ev.ID, &ev.Ticker, &ev.Kind, &ev.TriggerPrice, &ev.Quantity, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SubscribeTo journals decision events from the bus. The bus delivers
// asynchronously, so a slow insert never holds up the evaluation cycle.
func (r *Repository) SubscribeTo(bus *events.Bus) {
	bus.Subscribe(events.EventExitSignal, func(ev events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := r.RecordExitEvent(ctx, ExitEvent{
			Ticker:       asString(ev.Data["ticker"]),
			Kind:         asString(ev.Data["kind"]),
			TriggerPrice: asFloat64(ev.Data["trigger_price"]),
			Quantity:     asInt64(ev.Data["quantity"]),
			Reason:       asString(ev.Data["reason"]),
		})
		if err != nil {
			r.db.logger.Warn().Err(err).Msg("exit event journaling failed")
		}
	})
	bus.Subscribe(events.EventPositionRemoved, func(ev events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		entryTime, _ := ev.Data["entry_time"].(time.Time)
		err := r.RecordClosedPosition(ctx, ClosedPosition{
			Ticker:      asString(ev.Data["ticker"]),
			ProductType: asString(ev.Data["product_type"]),
			Quantity:    asInt64(ev.Data["quantity"]),
			EntryPrice:  asFloat64(ev.Data["entry_price"]),
			ExitPrice:   asFloat64(ev.Data["exit_price"]),
			RealizedPnL: asFloat64(ev.Data["pnl"]),
			EntryTime:   entryTime,
			CloseCause:  asString(ev.Data["cause"]),
		})
		if err != nil {
			r.db.logger.Warn().Err(err).Msg("closed position journaling failed")
		}
	})
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

var _ dispatch.Journal = (*Repository)(nil)
