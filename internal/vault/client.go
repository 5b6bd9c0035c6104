// Package vault retrieves the advisory service API key from HashiCorp
// Vault so the key never lives in config files or process environment.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/gocityvibes/emini/config"
)

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cached string // oracle key, fetched once
}

// NewClient creates a new Vault client. A disabled config yields a client
// that only serves values set through SetKey, for development and tests.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// OracleKey returns the advisory API key, reading from Vault on first use
// and caching thereafter.
func (c *Client) OracleKey(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.cached != "" {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return "", fmt.Errorf("oracle key not set and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.config.SecretPath)
	if err != nil {
		return "", fmt.Errorf("failed to read oracle key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("oracle key not found at %s", c.config.SecretPath)
	}

	// KV v2 nests payload under "data"
	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	key, ok := data["api_key"].(string)
	if !ok || key == "" {
		return "", fmt.Errorf("invalid secret format at %s", c.config.SecretPath)
	}

	c.mu.Lock()
	c.cached = key
	c.mu.Unlock()
	return key, nil
}

// SetKey seeds the cached key directly, bypassing Vault.
func (c *Client) SetKey(key string) {
	c.mu.Lock()
	c.cached = key
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
