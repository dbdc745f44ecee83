package broker

import (
	"errors"
	"fmt"
	"time"
)

// Candle represents a single OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Interval identifies a candle interval supported by the market data gateway.
type Interval string

const (
	IntervalDay    Interval = "day"
	IntervalHourly Interval = "60minute"
)

// Product types as classified by the broker.
const (
	ProductDelivery = "CNC" // delivery, settles to the demat account
	ProductIntraday = "MIS" // intraday, auto-squared-off by the broker
)

// Transaction types.
const (
	TransactionBuy  = "BUY"
	TransactionSell = "SELL"
)

// Order types.
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Position represents a broker-reported holding.
type Position struct {
	Ticker       string  `json:"tradingsymbol"`
	Exchange     string  `json:"exchange"`
	ProductType  string  `json:"product"`
	Quantity     int64   `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
}

// Instrument carries exchange metadata for a tradable symbol.
type Instrument struct {
	Ticker   string  `json:"tradingsymbol"`
	Exchange string  `json:"exchange"`
	TickSize float64 `json:"tick_size"`
	LotSize  int64   `json:"lot_size"`
}

// Margins reports available funds on the trading account.
type Margins struct {
	AvailableCash float64 `json:"available_cash"`
	UsedMargin    float64 `json:"used_margin"`
}

// OrderRequest is an explicit, validated order placement request.
type OrderRequest struct {
	Ticker          string  `json:"tradingsymbol"`
	Exchange        string  `json:"exchange"`
	TransactionType string  `json:"transaction_type"`
	Quantity        int64   `json:"quantity"`
	OrderType       string  `json:"order_type"`
	Price           float64 `json:"price,omitempty"` // required for LIMIT orders
	ProductType     string  `json:"product"`
	Tag             string  `json:"tag,omitempty"`
}

// Validate checks the request before it reaches the wire.
func (r OrderRequest) Validate() error {
	if r.Ticker == "" {
		return errors.New("order request: ticker is required")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order request: quantity must be positive, got %d", r.Quantity)
	}
	if r.TransactionType != TransactionBuy && r.TransactionType != TransactionSell {
		return fmt.Errorf("order request: invalid transaction type %q", r.TransactionType)
	}
	if r.OrderType != OrderTypeLimit && r.OrderType != OrderTypeMarket {
		return fmt.Errorf("order request: invalid order type %q", r.OrderType)
	}
	if r.OrderType == OrderTypeLimit && r.Price <= 0 {
		return fmt.Errorf("order request: limit order needs a positive price, got %.2f", r.Price)
	}
	if r.ProductType == "" {
		return errors.New("order request: product type is required")
	}
	return nil
}

// APIError is an error returned by the broker HTTP API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the call is worth retrying.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient classifies an error as retryable. Network-level errors
// (timeouts, resets) arrive as plain errors and are treated as transient;
// only an explicit non-transient APIError is terminal.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}
