package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultClientConfigDir returns the default config directory (~/.gatekey).
func DefaultClientConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".gatekey"), nil
}

// DefaultClientConfigPath returns the default config file path (~/.gatekey/config.yml).
func DefaultClientConfigPath() (string, error) {
	dir, err := DefaultClientConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// ClientConfig holds the gatekey CLI's configuration: which server to talk
// to and the credentials obtained from it.
type ClientConfig struct {
	ServerURL    string `yaml:"server_url,omitempty"`
	Domain       string `yaml:"domain,omitempty"`
	LicenseToken string `yaml:"license_token,omitempty"`
	AdminSecret  string `yaml:"admin_secret,omitempty"`
}

// Validate checks that the configuration has required fields for operation.
func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	return nil
}

// LoadClientConfig reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadDefaultClientConfig loads the configuration from the default path.
func LoadDefaultClientConfig() (*ClientConfig, error) {
	path, err := DefaultClientConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadClientConfig(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *ClientConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Token and secret live in this file, keep it user-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *ClientConfig) SaveDefault() error {
	path, err := DefaultClientConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}
