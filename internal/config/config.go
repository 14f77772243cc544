// Package config loads runtime settings from the environment, with an
// optional .env file and an optional YAML portal inventory for batch work.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "stalker_probe"

// Config holds portal and discovery settings. All fields map to
// STALKER_PROBE_* environment variables.
type Config struct {
	PortalURL string `envconfig:"PORTAL_URL"`
	MAC       string `envconfig:"MAC"`
	Timezone  string `envconfig:"TIMEZONE" default:"UTC"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`

	DiscoverAttempts int           `envconfig:"DISCOVER_ATTEMPTS" default:"100"`
	DiscoverTimeout  time.Duration `envconfig:"DISCOVER_TIMEOUT" default:"5s"`
	DiscoverDelay    time.Duration `envconfig:"DISCOVER_DELAY" default:"100ms"`
	MACPrefix        string        `envconfig:"MAC_PREFIX"`

	StorePath   string `envconfig:"STORE_PATH"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	PortalsFile string `envconfig:"PORTALS_FILE"`
}

// Load reads config from the environment. Call LoadEnvFile(".env") first to
// pick up a local .env file.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.DiscoverAttempts <= 0 {
		c.DiscoverAttempts = 100
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return &c, nil
}
