package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TickerStream maintains a websocket subscription for last-traded prices.
// It is an optional fast path: the watchdog falls back to REST polling
// whenever a streamed price is missing or stale.
type TickerStream struct {
	url    string
	apiKey string
	logger zerolog.Logger
	maxAge time.Duration

	mu      sync.RWMutex
	tickers map[string]struct{}
	last    map[string]streamTick

	conn   *websocket.Conn
	connMu sync.Mutex
}

type streamTick struct {
	price float64
	at    time.Time
}

type tickMessage struct {
	Ticker    string  `json:"tradingsymbol"`
	LastPrice float64 `json:"last_price"`
}

// NewTickerStream creates a stream client. maxAge bounds how old a streamed
// price may be before Get reports it as unusable.
func NewTickerStream(url, apiKey string, maxAge time.Duration, logger zerolog.Logger) *TickerStream {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &TickerStream{
		url:     url,
		apiKey:  apiKey,
		logger:  logger.With().Str("component", "TickerStream").Logger(),
		maxAge:  maxAge,
		tickers: make(map[string]struct{}),
		last:    make(map[string]streamTick),
	}
}

// Subscribe adds tickers to the subscription set. Takes effect on the next
// (re)connect; the subscription message is also sent on a live connection.
func (s *TickerStream) Subscribe(tickers ...string) {
	s.mu.Lock()
	for _, t := range tickers {
		s.tickers[t] = struct{}{}
	}
	subs := s.subscriptionList()
	s.mu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		msg := map[string]interface{}{"action": "subscribe", "tickers": subs}
		if err := s.conn.WriteJSON(msg); err != nil {
			s.logger.Warn().Err(err).Msg("subscribe write failed")
		}
	}
}

func (s *TickerStream) subscriptionList() []string {
	subs := make([]string, 0, len(s.tickers))
	for t := range s.tickers {
		subs = append(subs, t)
	}
	return subs
}

// Get returns the most recent streamed price if it is fresh enough.
func (s *TickerStream) Get(ticker string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.last[ticker]
	if !ok || time.Since(tick.at) > s.maxAge {
		return 0, false
	}
	return tick.price, true
}

// Run connects and keeps the stream alive until the context is cancelled,
// reconnecting with backoff on failure.
func (s *TickerStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.connectAndRead(ctx); err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *TickerStream) connectAndRead(ctx context.Context) error {
	header := map[string][]string{"X-Api-Key": {s.apiKey}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	s.mu.RLock()
	subs := s.subscriptionList()
	s.mu.RUnlock()
	if len(subs) > 0 {
		msg := map[string]interface{}{"action": "subscribe", "tickers": subs}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	s.logger.Info().Int("tickers", len(subs)).Msg("ticker stream connected")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil {
			s.logger.Debug().Err(err).Msg("skipping unparseable tick")
			continue
		}
		if tick.Ticker == "" || tick.LastPrice <= 0 {
			continue
		}

		s.mu.Lock()
		s.last[tick.Ticker] = streamTick{price: tick.LastPrice, at: time.Now()}
		s.mu.Unlock()
	}
}
