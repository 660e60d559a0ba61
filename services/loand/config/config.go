// Package config loads the runtime settings for the lending API daemon.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for loand's HTTP surface.
type Config struct {
	ListenAddress  string     `yaml:"listen"`
	MetricsAddress string     `yaml:"metrics_listen"`
	Auth           AuthConfig `yaml:"auth"`
	RateLimit      RateLimit  `yaml:"rate_limit"`
	Telemetry      Telemetry  `yaml:"telemetry"`
}

// AuthConfig lists the bearer tokens accepted by the service. An empty list
// disables authentication, which is only acceptable for local development.
type AuthConfig struct {
	APITokens     []string `yaml:"api_tokens"`
	AllowInsecure bool     `yaml:"allow_insecure"`
}

// RateLimit bounds request throughput per instance.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Telemetry selects the optional OpenTelemetry exporters.
type Telemetry struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Environment string `yaml:"environment"`
	Insecure    bool   `yaml:"insecure"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:  ":8545",
		MetricsAddress: ":9091",
		RateLimit:      RateLimit{RequestsPerSecond: 50, Burst: 100},
	}
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8545"
	}
	cfg.MetricsAddress = strings.TrimSpace(cfg.MetricsAddress)
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = ":9091"
	}
	tokens := make([]string, 0, len(cfg.Auth.APITokens))
	for _, token := range cfg.Auth.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.Auth.APITokens = tokens
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 100
	}
}

func (cfg Config) validate() error {
	if len(cfg.Auth.APITokens) == 0 && !cfg.Auth.AllowInsecure {
		return fmt.Errorf("auth: api_tokens required unless allow_insecure=true")
	}
	return nil
}
