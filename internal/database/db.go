// Package database persists the watchdog's decision journal in PostgreSQL
// and derived risk-state snapshots in Redis.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool and verifies connectivity.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "Database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS exit_events (
			id SERIAL PRIMARY KEY,
			ticker VARCHAR(32) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			trigger_price DECIMAL(20, 4) NOT NULL,
			quantity BIGINT NOT NULL,
			reason TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_events_ticker ON exit_events(ticker)`,
		`CREATE TABLE IF NOT EXISTS exit_orders (
			id SERIAL PRIMARY KEY,
			ticker VARCHAR(32) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			quantity BIGINT NOT NULL,
			limit_price DECIMAL(20, 4),
			order_id VARCHAR(64),
			status VARCHAR(16) NOT NULL,
			reason TEXT,
			error TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exit_orders_ticker ON exit_orders(ticker)`,
		`CREATE TABLE IF NOT EXISTS closed_positions (
			id SERIAL PRIMARY KEY,
			ticker VARCHAR(32) NOT NULL,
			product_type VARCHAR(8) NOT NULL,
			quantity BIGINT NOT NULL,
			entry_price DECIMAL(20, 4) NOT NULL,
			exit_price DECIMAL(20, 4),
			realized_pnl DECIMAL(20, 4),
			entry_time TIMESTAMP,
			closed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			close_cause TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_positions_ticker ON closed_positions(ticker)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations complete")
	return nil
}
