// Package vault resolves venue API credentials from HashiCorp Vault KV v2,
// falling back to environment variables.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"multi-exchange-trading-bot/config"
)

var ErrNoCredentials = errors.New("no credentials configured")

// Credentials holds whatever a venue adapter needs to sign requests
type Credentials struct {
	APIKey        string `json:"api_key,omitempty"`
	SecretKey     string `json:"secret_key,omitempty"`
	KeyName       string `json:"key_name,omitempty"`
	PrivateKeyPEM string `json:"private_key,omitempty"`
	BearerToken   string `json:"bearer_token,omitempty"`
}

// Empty reports whether no credential field is set
func (c Credentials) Empty() bool {
	return c == Credentials{}
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	getenv func(string) string

	mu    sync.RWMutex
	cache map[string]Credentials
}

// NewClient creates a new Vault client. A disabled config reads the environment only.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config: cfg,
		getenv: os.Getenv,
		cache:  make(map[string]Credentials),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Credentials returns the credentials of a venue: Vault first (cached), then
// environment variables. ErrNoCredentials means neither source had any.
func (c *Client) Credentials(ctx context.Context, venueID string) (Credentials, error) {
	c.mu.RLock()
	cached, ok := c.cache[venueID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var vaultErr error
	if c.config.Enabled {
		creds, err := c.read(ctx, venueID)
		if err == nil && !creds.Empty() {
			c.mu.Lock()
			c.cache[venueID] = creds
			c.mu.Unlock()
			return creds, nil
		}
		vaultErr = err
	}

	creds := c.fromEnv(venueID)
	if creds.Empty() {
		if vaultErr != nil {
			return Credentials{}, fmt.Errorf("%w for %s: %w", ErrNoCredentials, venueID, vaultErr)
		}
		return Credentials{}, fmt.Errorf("%w for %s", ErrNoCredentials, venueID)
	}
	return creds, nil
}

// StoreCredentials writes a venue's credentials to Vault
func (c *Client) StoreCredentials(ctx context.Context, venueID string, creds Credentials) error {
	c.mu.Lock()
	c.cache[venueID] = creds
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(venueID), map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":      creds.APIKey,
			"secret_key":   creds.SecretKey,
			"key_name":     creds.KeyName,
			"private_key":  creds.PrivateKeyPEM,
			"bearer_token": creds.BearerToken,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}
	return nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]Credentials)
	c.mu.Unlock()
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

func (c *Client) read(ctx context.Context, venueID string) (Credentials, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(venueID))
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("invalid secret format")
	}

	return Credentials{
		APIKey:        getString(data, "api_key"),
		SecretKey:     getString(data, "secret_key"),
		KeyName:       getString(data, "key_name"),
		PrivateKeyPEM: getString(data, "private_key"),
		BearerToken:   getString(data, "bearer_token"),
	}, nil
}

// fromEnv reads <VENUE>_API_KEY, <VENUE>_SECRET_KEY, <VENUE>_API_KEY_NAME,
// <VENUE>_API_PRIVATE_KEY and <VENUE>_BEARER_TOKEN
func (c *Client) fromEnv(venueID string) Credentials {
	prefix := strings.ToUpper(venueID) + "_"
	return Credentials{
		APIKey:        c.getenv(prefix + "API_KEY"),
		SecretKey:     c.getenv(prefix + "SECRET_KEY"),
		KeyName:       c.getenv(prefix + "API_KEY_NAME"),
		PrivateKeyPEM: strings.ReplaceAll(c.getenv(prefix+"API_PRIVATE_KEY"), `\n`, "\n"),
		BearerToken:   c.getenv(prefix + "BEARER_TOKEN"),
	}
}

// secretPath is the KV v2 data path of a venue
func (c *Client) secretPath(venueID string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, venueID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
