package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a REST implementation of the market-data and execution gateways.
// The wire format follows the common Indian retail broker API shape: JSON
// envelopes with a status field, API key header and HMAC request signing.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a broker REST client.
func NewClient(apiKey, secretKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_type"`
	Message   string          `json:"message"`
}

// GetLastPrice returns the last traded price for a ticker.
func (c *Client) GetLastPrice(ctx context.Context, ticker string) (float64, error) {
	params := url.Values{}
	params.Set("tradingsymbol", ticker)

	var data struct {
		LastPrice float64 `json:"last_price"`
	}
	if err := c.get(ctx, "/quote/ltp", params, &data); err != nil {
		return 0, fmt.Errorf("get last price for %s: %w", ticker, err)
	}
	return data.LastPrice, nil
}

// GetHistoricalCandles returns candles for the given interval and window,
// ordered oldest first. An empty result is not an error.
func (c *Client) GetHistoricalCandles(ctx context.Context, ticker string, interval Interval, from, to time.Time) ([]Candle, error) {
	params := url.Values{}
	params.Set("tradingsymbol", ticker)
	params.Set("interval", string(interval))
	params.Set("from", from.Format("2006-01-02 15:04:05"))
	params.Set("to", to.Format("2006-01-02 15:04:05"))

	var data struct {
		Candles []Candle `json:"candles"`
	}
	if err := c.get(ctx, "/historical/candles", params, &data); err != nil {
		return nil, fmt.Errorf("get %s candles for %s: %w", interval, ticker, err)
	}
	return data.Candles, nil
}

// PlaceOrder submits an order and returns the broker order ID.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("tradingsymbol", req.Ticker)
	params.Set("exchange", req.Exchange)
	params.Set("transaction_type", req.TransactionType)
	params.Set("quantity", strconv.FormatInt(req.Quantity, 10))
	params.Set("order_type", req.OrderType)
	params.Set("product", req.ProductType)
	if req.OrderType == OrderTypeLimit {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', 2, 64))
	}
	if req.Tag != "" {
		params.Set("tag", req.Tag)
	}

	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := c.post(ctx, "/orders/regular", params, &data); err != nil {
		return "", fmt.Errorf("place %s order for %s: %w", req.TransactionType, req.Ticker, err)
	}
	return data.OrderID, nil
}

// GetPositions returns current holdings, optionally filtered by product type.
func (c *Client) GetPositions(ctx context.Context, productType string) ([]Position, error) {
	var data struct {
		Net []Position `json:"net"`
	}
	if err := c.get(ctx, "/portfolio/positions", nil, &data); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	if productType == "" {
		return data.Net, nil
	}
	filtered := make([]Position, 0, len(data.Net))
	for _, p := range data.Net {
		if p.ProductType == productType {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// GetInstruments returns instrument metadata for an exchange.
func (c *Client) GetInstruments(ctx context.Context, exchange string) ([]Instrument, error) {
	params := url.Values{}
	params.Set("exchange", exchange)

	var data struct {
		Instruments []Instrument `json:"instruments"`
	}
	if err := c.get(ctx, "/instruments", params, &data); err != nil {
		return nil, fmt.Errorf("get instruments for %s: %w", exchange, err)
	}
	return data.Instruments, nil
}

// GetMargins returns account margin information.
func (c *Client) GetMargins(ctx context.Context) (*Margins, error) {
	var data Margins
	if err := c.get(ctx, "/user/margins", nil, &data); err != nil {
		return nil, fmt.Errorf("get margins: %w", err)
	}
	return &data, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, params, out)
}

func (c *Client) post(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, params, out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", c.sign(params))

	endpoint := c.baseURL + path
	var req *http.Request
	var err error

	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err == nil {
			req.URL.RawQuery = params.Encode()
		}
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || env.Status == "error" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.ErrorCode,
			Message:    env.Message,
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// sign creates an HMAC-SHA256 signature over the sorted query string.
func (c *Client) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}
