// Redis-backed snapshots of derived risk state. A restarted watchdog can
// recover position_high, the trailing stop, and the VSR baseline instead of
// cold-reseeding; when Redis is unavailable the repository degrades to an
// in-memory cache so monitoring continues without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// riskStateKeyPrefix namespaces snapshot keys.
	// Format: watchdog:risk:{ticker}|{product}
	riskStateKeyPrefix = "watchdog:risk"

	// riskStateTTL keeps snapshots for a week; positions usually close
	// well within that and stale entries expire on their own.
	riskStateTTL = 7 * 24 * time.Hour
)

// RiskSnapshot is the derived state worth surviving a restart.
type RiskSnapshot struct {
	Ticker        string    `json:"ticker"`
	ProductType   string    `json:"product_type"`
	PositionHigh  float64   `json:"position_high"`
	StopLossPrice float64   `json:"stop_loss_price"`
	AverageVSR    float64   `json:"average_vsr"`
	VSRHistory    []float64 `json:"vsr_history"`
	SavedAt       time.Time `json:"saved_at"`
}

// RiskStateRepository stores risk snapshots in Redis with an in-memory
// fallback when Redis is unreachable.
type RiskStateRepository struct {
	client         *redis.Client
	logger         zerolog.Logger
	fallback       map[string]*RiskSnapshot
	fallbackMu     sync.RWMutex
	redisAvailable atomic.Bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NewRiskStateRepository connects to Redis. A failed ping is not fatal:
// the repository starts in fallback mode and retries the ping on each write.
func NewRiskStateRepository(cfg RedisConfig, logger zerolog.Logger) *RiskStateRepository {
	repo := &RiskStateRepository{
		logger:   logger.With().Str("component", "RiskStateRepository").Logger(),
		fallback: make(map[string]*RiskSnapshot),
	}
	if !cfg.Enabled {
		return repo
	}

	repo.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repo.client.Ping(ctx).Err(); err != nil {
		repo.logger.Warn().Err(err).Msg("redis unavailable, using in-memory fallback")
	} else {
		repo.redisAvailable.Store(true)
		repo.logger.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	}
	return repo
}

func snapshotKey(ticker, productType string) string {
	return fmt.Sprintf("%s:%s|%s", riskStateKeyPrefix, ticker, productType)
}

// Save stores a snapshot, falling back to memory on Redis failure.
func (r *RiskStateRepository) Save(ctx context.Context, snap *RiskSnapshot) error {
	snap.SavedAt = time.Now()
	cacheKey := snap.Ticker + "|" + snap.ProductType

	r.fallbackMu.Lock()
	r.fallback[cacheKey] = snap
	r.fallbackMu.Unlock()

	if r.client == nil {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal risk snapshot: %w", err)
	}

	key := snapshotKey(snap.Ticker, snap.ProductType)
	if err := r.client.Set(ctx, key, data, riskStateTTL).Err(); err != nil {
		if r.redisAvailable.Swap(false) {
			r.logger.Warn().Err(err).Msg("redis write failed, degrading to in-memory cache")
		}
		return nil
	}
	r.redisAvailable.Store(true)
	return nil
}

// Load returns the snapshot for a position, or nil when none exists.
func (r *RiskStateRepository) Load(ctx context.Context, ticker, productType string) (*RiskSnapshot, error) {
	if r.client != nil {
		data, err := r.client.Get(ctx, snapshotKey(ticker, productType)).Bytes()
		if err == nil {
			var snap RiskSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return nil, fmt.Errorf("unmarshal risk snapshot: %w", err)
			}
			r.redisAvailable.Store(true)
			return &snap, nil
		}
		if err != redis.Nil {
			r.logger.Debug().Err(err).Str("ticker", ticker).Msg("redis read failed, trying fallback cache")
		}
	}

	r.fallbackMu.RLock()
	defer r.fallbackMu.RUnlock()
	if snap, ok := r.fallback[ticker+"|"+productType]; ok {
		return snap, nil
	}
	return nil, nil
}

// Delete removes a closed position's snapshot.
func (r *RiskStateRepository) Delete(ctx context.Context, ticker, productType string) {
	r.fallbackMu.Lock()
	delete(r.fallback, ticker+"|"+productType)
	r.fallbackMu.Unlock()

	if r.client != nil {
		if err := r.client.Del(ctx, snapshotKey(ticker, productType)).Err(); err != nil {
			r.logger.Debug().Err(err).Str("ticker", ticker).Msg("redis delete failed")
		}
	}
}

// Available reports whether Redis itself is reachable.
func (r *RiskStateRepository) Available() bool {
	return r.redisAvailable.Load()
}
