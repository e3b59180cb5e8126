// Package config loads server configuration from an optional HuJSON file
// (JSON with comments and trailing commas) in the data directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the config file name inside the data directory.
const ConfigFileName = "config.hujson"

// Config holds all server configuration options.
type Config struct {
	// PageSize is the row count per fetch page.
	PageSize int64 `json:"page_size,omitempty"`
	// MaxLimit caps the limit of a single row read request.
	MaxLimit int64 `json:"max_limit,omitempty"`
	// HubURL is the websocket URL of the shared relay hub. Empty means
	// process-local delivery only.
	HubURL string `json:"hub_url,omitempty"`
	// WriteRPS and WriteBurst rate-limit row writes per client IP.
	WriteRPS   float64 `json:"write_rps,omitempty"`
	WriteBurst int     `json:"write_burst,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		PageSize:   150,
		MaxLimit:   1000,
		WriteRPS:   25,
		WriteBurst: 50,
	}
}

// Load reads the config file from dataDir, returning defaults if it does not
// exist. Values absent from the file keep their defaults.
func Load(dataDir string) (Config, error) {
	cfg := Default()
	path := filepath.Join(dataDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.MaxLimit < c.PageSize {
		return fmt.Errorf("max_limit (%d) must be at least page_size (%d)", c.MaxLimit, c.PageSize)
	}
	if c.WriteRPS <= 0 {
		return fmt.Errorf("write_rps must be positive, got %g", c.WriteRPS)
	}
	if c.WriteBurst <= 0 {
		return fmt.Errorf("write_burst must be positive, got %d", c.WriteBurst)
	}
	return nil
}
