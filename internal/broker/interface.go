package broker

import (
	"context"
	"time"
)

// MarketDataClient supplies prices and historical candles.
type MarketDataClient interface {
	GetLastPrice(ctx context.Context, ticker string) (float64, error)
	GetHistoricalCandles(ctx context.Context, ticker string, interval Interval, from, to time.Time) ([]Candle, error)
}

// ExecutionClient places orders and reports broker-side state.
type ExecutionClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (orderID string, err error)
	GetPositions(ctx context.Context, productType string) ([]Position, error)
	GetInstruments(ctx context.Context, exchange string) ([]Instrument, error)
	GetMargins(ctx context.Context) (*Margins, error)
}

// Ensure both Client and MockClient satisfy the gateway interfaces.
var _ MarketDataClient = (*Client)(nil)
var _ ExecutionClient = (*Client)(nil)
var _ MarketDataClient = (*MockClient)(nil)
var _ ExecutionClient = (*MockClient)(nil)
