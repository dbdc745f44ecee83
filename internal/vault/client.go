// Package vault fetches broker API credentials from HashiCorp Vault so
// they never live in environment files on the trading host.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// Credentials are the broker API credentials stored in Vault.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Config holds Vault connection settings.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config Config
	logger zerolog.Logger
}

// NewClient creates a new Vault client. When disabled it is a no-op and
// FetchCredentials returns the fallback values.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		config: cfg,
		logger: logger.With().Str("component", "Vault").Logger(),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// FetchCredentials reads the broker credentials, returning the fallback
// pair when Vault is disabled.
func (c *Client) FetchCredentials(ctx context.Context, fallback Credentials) (Credentials, error) {
	if !c.config.Enabled {
		return fallback, nil
	}

	secret, err := c.client.KVv2(c.config.MountPath).Get(ctx, c.config.SecretPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("read broker credentials from vault: %w", err)
	}

	creds := Credentials{
		APIKey:    stringField(secret.Data, "api_key"),
		SecretKey: stringField(secret.Data, "secret_key"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, fmt.Errorf("vault secret %s/%s missing api_key or secret_key", c.config.MountPath, c.config.SecretPath)
	}

	c.logger.Info().Str("path", c.config.SecretPath).Msg("broker credentials loaded from vault")
	return creds, nil
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
