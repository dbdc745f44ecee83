package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	BrokerConfig       BrokerConfig       `json:"broker"`
	WatchdogConfig     WatchdogConfig     `json:"watchdog"`
	RiskConfig         RiskConfig         `json:"risk"`
	DispatchConfig     DispatchConfig     `json:"dispatch"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
}

// BrokerConfig holds the broker gateway settings. API credentials come from
// Vault when enabled, environment otherwise.
type BrokerConfig struct {
	BaseURL   string `json:"base_url"`
	WSURL     string `json:"ws_url"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	TimeoutS  int    `json:"timeout_seconds"`
	MockMode  bool   `json:"mock_mode"` // Use the simulated broker, no real orders
}

type WatchdogConfig struct {
	PollInterval      time.Duration `json:"poll_interval"`
	ReconcileInterval time.Duration `json:"reconcile_interval"`
	SummaryInterval   time.Duration `json:"summary_interval"`
	OffHoursIdle      time.Duration `json:"off_hours_idle"`
	ManifestPath      string        `json:"manifest_path"`
	Exchange          string        `json:"exchange"`
	ProductType       string        `json:"product_type"`
	IgnoreMarketHours bool          `json:"ignore_market_hours"`
	StreamEnabled     bool          `json:"stream_enabled"`
	StreamMaxAgeS     int           `json:"stream_max_age_seconds"`
}

type RiskConfig struct {
	LossThresholdPct      float64 `json:"loss_threshold_pct"`      // Hard loss limit, e.g. 2.0 for -2%
	VSRDeteriorationRatio float64 `json:"vsr_deterioration_ratio"` // Exit when current/average drops below
	ProfitTargetsEnabled  bool    `json:"profit_targets_enabled"`
}

type DispatchConfig struct {
	QueueSize    int           `json:"queue_size"`
	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
	DrainGrace   time.Duration `json:"drain_grace"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// DatabaseConfig holds the Postgres journal settings. Disabled means the
// watchdog runs without a durable order journal.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

type AuthConfig struct {
	Enabled       bool          `json:"enabled"`
	JWTSecret     string        `json:"jwt_secret"`
	PasswordHash  string        `json:"password_hash"` // bcrypt hash of the operator password
	TokenDuration time.Duration `json:"token_duration"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Broker config
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	if cfg.BrokerConfig.BaseURL == "" {
		cfg.BrokerConfig.BaseURL = "https://api.broker.example.com"
	}
	cfg.BrokerConfig.WSURL = getEnvOrDefault("BROKER_WS_URL", cfg.BrokerConfig.WSURL)
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.SecretKey = getEnvOrDefault("BROKER_SECRET_KEY", cfg.BrokerConfig.SecretKey)
	cfg.BrokerConfig.TimeoutS = getEnvIntOrDefault("BROKER_TIMEOUT_SECONDS", 10)
	cfg.BrokerConfig.MockMode = getEnvOrDefault("MOCK_MODE", "false") == "true"

	// Watchdog config
	cfg.WatchdogConfig.PollInterval = getEnvDurationOrDefault("WATCHDOG_POLL_INTERVAL", 45*time.Second)
	cfg.WatchdogConfig.ReconcileInterval = getEnvDurationOrDefault("WATCHDOG_RECONCILE_INTERVAL", 5*time.Minute)
	cfg.WatchdogConfig.SummaryInterval = getEnvDurationOrDefault("WATCHDOG_SUMMARY_INTERVAL", 30*time.Minute)
	cfg.WatchdogConfig.OffHoursIdle = getEnvDurationOrDefault("WATCHDOG_OFF_HOURS_IDLE", 5*time.Minute)
	cfg.WatchdogConfig.ManifestPath = getEnvOrDefault("WATCHDOG_MANIFEST_PATH", cfg.WatchdogConfig.ManifestPath)
	cfg.WatchdogConfig.Exchange = getEnvOrDefault("WATCHDOG_EXCHANGE", "NSE")
	cfg.WatchdogConfig.ProductType = getEnvOrDefault("WATCHDOG_PRODUCT_TYPE", "CNC")
	cfg.WatchdogConfig.IgnoreMarketHours = getEnvOrDefault("WATCHDOG_IGNORE_MARKET_HOURS", "false") == "true"
	cfg.WatchdogConfig.StreamEnabled = getEnvOrDefault("WATCHDOG_STREAM_ENABLED", "true") == "true"
	cfg.WatchdogConfig.StreamMaxAgeS = getEnvIntOrDefault("WATCHDOG_STREAM_MAX_AGE_SECONDS", 30)

	// Risk config
	cfg.RiskConfig.LossThresholdPct = getEnvFloatOrDefault("RISK_LOSS_THRESHOLD_PCT", 2.0)
	cfg.RiskConfig.VSRDeteriorationRatio = getEnvFloatOrDefault("RISK_VSR_DETERIORATION_RATIO", 0.5)
	cfg.RiskConfig.ProfitTargetsEnabled = getEnvOrDefault("RISK_PROFIT_TARGETS_ENABLED", "false") == "true"

	// Dispatch config
	cfg.DispatchConfig.QueueSize = getEnvIntOrDefault("DISPATCH_QUEUE_SIZE", 64)
	cfg.DispatchConfig.MaxRetries = getEnvIntOrDefault("DISPATCH_MAX_RETRIES", 3)
	cfg.DispatchConfig.RetryBackoff = getEnvDurationOrDefault("DISPATCH_RETRY_BACKOFF", 2*time.Second)
	cfg.DispatchConfig.DrainGrace = getEnvDurationOrDefault("DISPATCH_DRAIN_GRACE", 15*time.Second)

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", "false") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", "watchdog")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", "exit_watchdog")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)

	// Server config
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", "true") == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", 8080)

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)
	cfg.AuthConfig.TokenDuration = getEnvDurationOrDefault("AUTH_TOKEN_DURATION", 12*time.Hour)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "exit-watchdog/broker-keys")
}

func (cfg *Config) validate() error {
	if !cfg.BrokerConfig.MockMode && !cfg.VaultConfig.Enabled && cfg.BrokerConfig.APIKey == "" {
		return errors.New("config: broker API key required (set BROKER_API_KEY, enable Vault, or set MOCK_MODE=true)")
	}
	if cfg.RiskConfig.LossThresholdPct <= 0 {
		return errors.New("config: loss threshold must be positive")
	}
	if cfg.RiskConfig.VSRDeteriorationRatio <= 0 || cfg.RiskConfig.VSRDeteriorationRatio >= 1 {
		return errors.New("config: VSR deterioration ratio must be in (0, 1)")
	}
	if cfg.WatchdogConfig.PollInterval < 5*time.Second {
		return errors.New("config: poll interval below 5s would hammer the quote API")
	}
	if cfg.AuthConfig.Enabled && (cfg.AuthConfig.JWTSecret == "" || cfg.AuthConfig.PasswordHash == "") {
		return errors.New("config: auth enabled but AUTH_JWT_SECRET or AUTH_PASSWORD_HASH missing")
	}
	if cfg.DatabaseConfig.Enabled && cfg.DatabaseConfig.Password == "" {
		return errors.New("config: database enabled but DATABASE_PASSWORD missing")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
