package position

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ManifestEntry is one line of the optional orders manifest used to seed
// tracking without a full broker sync.
type ManifestEntry struct {
	Ticker      string    `json:"ticker"`
	Exchange    string    `json:"exchange,omitempty"`
	ProductType string    `json:"product_type,omitempty"`
	Quantity    int64     `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	EntryTime   time.Time `json:"entry_time,omitempty"`
}

// LoadManifest reads and validates an orders manifest file.
func LoadManifest(path string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read orders manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse orders manifest: %w", err)
	}

	for i, e := range entries {
		if e.Ticker == "" {
			return nil, fmt.Errorf("orders manifest entry %d: ticker is required", i)
		}
		if e.Quantity <= 0 {
			return nil, fmt.Errorf("orders manifest entry %d (%s): quantity must be positive", i, e.Ticker)
		}
		if e.EntryPrice <= 0 {
			return nil, fmt.Errorf("orders manifest entry %d (%s): entry price must be positive", i, e.Ticker)
		}
	}
	return entries, nil
}

// FromManifest builds a tracked position from a manifest entry, applying
// defaults for exchange and product type.
func FromManifest(e ManifestEntry, defaultExchange, defaultProduct string) *Position {
	exchange := e.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	product := e.ProductType
	if product == "" {
		product = defaultProduct
	}
	entryTime := e.EntryTime
	if entryTime.IsZero() {
		entryTime = time.Now()
	}

	return &Position{
		Ticker:           e.Ticker,
		Exchange:         exchange,
		ProductType:      product,
		Quantity:         e.Quantity,
		OriginalQuantity: e.Quantity,
		EntryPrice:       e.EntryPrice,
		EntryTime:        entryTime,
		PositionHigh:     e.EntryPrice,
		State:            StateNew,
	}
}
