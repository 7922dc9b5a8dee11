package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Expansion store backends
const (
	StoreBackendMemory = "memory"
	StoreBackendBadger = "badger"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent          string           `yaml:"user_agent,omitempty"`
	TempDir            string           `yaml:"temp_dir,omitempty"`       // Where downloaded thumbnails live until cache clear
	ScrapeTimeout      time.Duration    `yaml:"scrape_timeout,omitempty"` // Page fetch + image download, per request
	ExpandTimeout      time.Duration    `yaml:"expand_timeout,omitempty"` // HEAD request for short URL expansion
	MaxRetries         int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration    `yaml:"max_retry_delay,omitempty"`
	MaxRequestsPerHost int              `yaml:"max_requests_per_host,omitempty"`
	DelayPerHost       time.Duration    `yaml:"delay_per_host,omitempty"`
	MaxImageSizeBytes  int64            `yaml:"max_image_size_bytes,omitempty"`
	ExpansionStore     StoreConfig      `yaml:"expansion_store,omitempty"`
	Shorteners         ShortenerConfig  `yaml:"shorteners,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// StoreConfig selects where expansion results are kept
type StoreConfig struct {
	Backend string        `yaml:"backend,omitempty"` // "memory" or "badger"
	Path    string        `yaml:"path,omitempty"`    // Badger directory
	TTL     time.Duration `yaml:"ttl,omitempty"`     // 0 = keep until cleared
}

// ShortenerConfig holds provider selection and credentials
type ShortenerConfig struct {
	Default string      `yaml:"default,omitempty"`
	Bitly   BitlyConfig `yaml:"bitly,omitempty"`
}

// BitlyConfig holds bit.ly API credentials
type BitlyConfig struct {
	Login  string `yaml:"login,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Default returns a config with all defaults applied
func Default() *AppConfig {
	cfg := &AppConfig{}
	_, _ = cfg.Validate()
	return cfg
}

// Load reads and parses a YAML config file. Defaults are not applied.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// EffectiveTempDir returns the directory downloaded thumbnails are written to
func (c *AppConfig) EffectiveTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Join(os.TempDir(), "linkpeek")
}
