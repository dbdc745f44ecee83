package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient is an in-memory gateway implementation used in tests and in
// dry-run mode. All fields are safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	Prices      map[string]float64
	Candles     map[string][]Candle // key: ticker + ":" + interval
	Positions   []Position
	Instruments []Instrument
	Margin      Margins

	// Error injection
	PriceErr  error
	CandleErr error
	OrderErr  error
	PosErr    error

	// FailOrders makes the next N PlaceOrder calls fail with OrderErr.
	FailOrders int

	PlacedOrders []OrderRequest
	nextOrderID  int
}

// NewMockClient creates an empty mock gateway.
func NewMockClient() *MockClient {
	return &MockClient{
		Prices:  make(map[string]float64),
		Candles: make(map[string][]Candle),
	}
}

// SetPrice sets the last traded price for a ticker.
func (m *MockClient) SetPrice(ticker string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[ticker] = price
}

// SetCandles sets the candle series returned for a ticker and interval.
func (m *MockClient) SetCandles(ticker string, interval Interval, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Candles[ticker+":"+string(interval)] = candles
}

// SetPositions replaces the broker-reported position list.
func (m *MockClient) SetPositions(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Positions = positions
}

func (m *MockClient) GetLastPrice(ctx context.Context, ticker string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	price, ok := m.Prices[ticker]
	if !ok {
		return 0, &APIError{StatusCode: 404, Code: "DataException", Message: "no quote for " + ticker}
	}
	return price, nil
}

func (m *MockClient) GetHistoricalCandles(ctx context.Context, ticker string, interval Interval, from, to time.Time) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CandleErr != nil {
		return nil, m.CandleErr
	}
	return m.Candles[ticker+":"+string(interval)], nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailOrders > 0 {
		m.FailOrders--
		if m.OrderErr != nil {
			return "", m.OrderErr
		}
		return "", &APIError{StatusCode: 500, Code: "GeneralException", Message: "simulated failure"}
	}
	if m.OrderErr != nil {
		return "", m.OrderErr
	}

	m.PlacedOrders = append(m.PlacedOrders, req)
	m.nextOrderID++
	return fmt.Sprintf("MOCK-%06d", m.nextOrderID), nil
}

func (m *MockClient) GetPositions(ctx context.Context, productType string) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PosErr != nil {
		return nil, m.PosErr
	}

	out := make([]Position, 0, len(m.Positions))
	for _, p := range m.Positions {
		if productType == "" || p.ProductType == productType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockClient) GetInstruments(ctx context.Context, exchange string) ([]Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Instruments, nil
}

func (m *MockClient) GetMargins(ctx context.Context) (*Margins, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	margin := m.Margin
	return &margin, nil
}

// OrderCount returns how many orders were accepted.
func (m *MockClient) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PlacedOrders)
}
