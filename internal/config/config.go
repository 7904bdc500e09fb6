// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the triage client and mock API.
type Config struct {
	// Remote API
	APIBaseURL string
	APIToken   string
	RateLimit  float64 // fallback requests per second, 0 = unlimited
	RateBurst  int

	// Streaming
	StaleTag      string
	EventLogLimit int
	StreamTimeout time.Duration

	// Redis cache invalidation (disabled when empty)
	RedisURL     string
	RedisChannel string

	// Postgres result history (disabled when empty)
	DatabaseURL string

	// Servers
	MetricsAddr string
	MockPort    int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	API struct {
		BaseURL   string  `yaml:"base_url"`
		Token     string  `yaml:"token"`
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"api"`
	Stream struct {
		StaleTag      string `yaml:"stale_tag"`
		EventLogLimit *int   `yaml:"event_log_limit"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"stream"`
	Redis struct {
		URL     string `yaml:"url"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Mock struct {
		Port int `yaml:"port"`
	} `yaml:"mock"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing config file is not an error: every
// setting has an environment variable or a default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg := &Config{
		APIBaseURL:    firstNonEmpty(raw.API.BaseURL, envOrDefault("API_BASE_URL", "http://localhost:8000")),
		APIToken:      firstNonEmpty(raw.API.Token, os.Getenv("API_TOKEN")),
		RateLimit:     raw.API.RateLimit,
		RateBurst:     raw.API.RateBurst,
		StaleTag:      firstNonEmpty(raw.Stream.StaleTag, envOrDefault("STALE_TAG", "conversations")),
		EventLogLimit: envOrDefaultInt("EVENT_LOG_LIMIT", 200),
		StreamTimeout: envOrDefaultDuration("STREAM_TIMEOUT", 2*time.Minute),
		RedisURL:      firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		RedisChannel:  firstNonEmpty(raw.Redis.Channel, envOrDefault("REDIS_CHANNEL", "triage:invalidations")),
		DatabaseURL:   firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		MetricsAddr:   firstNonEmpty(raw.Metrics.Addr, os.Getenv("METRICS_ADDR")),
		MockPort:      raw.Mock.Port,
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = envOrDefaultFloat("RATE_LIMIT", 0)
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = envOrDefaultInt("RATE_BURST", 1)
	}
	if raw.Stream.EventLogLimit != nil {
		cfg.EventLogLimit = *raw.Stream.EventLogLimit
	}
	if raw.Stream.Timeout != "" {
		d, err := time.ParseDuration(raw.Stream.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse stream.timeout: %w", err)
		}
		cfg.StreamTimeout = d
	}
	if cfg.MockPort == 0 {
		cfg.MockPort = envOrDefaultInt("MOCK_PORT", 8000)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail on first use.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid API base URL %q: %w", c.APIBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid API base URL %q: want http(s)://host", c.APIBaseURL)
	}
	if c.EventLogLimit < 0 {
		return fmt.Errorf("event log limit must not be negative, got %d", c.EventLogLimit)
	}
	if c.StreamTimeout < 0 {
		return fmt.Errorf("stream timeout must not be negative, got %s", c.StreamTimeout)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
