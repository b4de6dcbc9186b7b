// Package config provides configuration management for Gatekey.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment

	// AdminSecret is the shared admin password; it doubles as the admin
	// bearer token. Required.
	AdminSecret string

	// MarketplaceEndpoint is the purchase-code verification URL.
	MarketplaceEndpoint string
	// MarketplaceAPIToken authenticates Gatekey against the marketplace API.
	MarketplaceAPIToken string
	// MarketplaceItemID is the item the sold licenses must belong to.
	// Purchase codes for other items are rejected in live mode.
	MarketplaceItemID string
	// MarketplaceTimeout bounds each outbound verification call.
	MarketplaceTimeout time.Duration

	// MockRetentionDays is how long MOCK-* test licenses are kept before
	// the maintenance scheduler prunes them.
	MockRetentionDays int
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	timeout := time.Duration(getEnvInt("MARKETPLACE_TIMEOUT_SECONDS", 15)) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	mockRetention := getEnvInt("MOCK_RETENTION_DAYS", 30)
	if mockRetention < 1 {
		mockRetention = 30
	}

	return ServerConfig{
		Environment:         env,
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		MarketplaceEndpoint: os.Getenv("MARKETPLACE_ENDPOINT"),
		MarketplaceAPIToken: os.Getenv("MARKETPLACE_API_TOKEN"),
		MarketplaceItemID:   os.Getenv("MARKETPLACE_ITEM_ID"),
		MarketplaceTimeout:  timeout,
		MockRetentionDays:   mockRetention,
	}
}

// Validate checks that required settings are present.
func (c ServerConfig) Validate() error {
	if c.AdminSecret == "" {
		return errors.New("ADMIN_SECRET is required")
	}
	if c.MarketplaceEndpoint == "" {
		return errors.New("MARKETPLACE_ENDPOINT is required")
	}
	if c.MarketplaceAPIToken == "" {
		return errors.New("MARKETPLACE_API_TOKEN is required")
	}
	return nil
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
