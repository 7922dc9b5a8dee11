package config

import (
	"fmt"
	"time"

	"github.com/linkpeek/linkpeek/pkg/utils"
)

const (
	defaultUserAgent     = "linkpeek/1.0"
	defaultScrapeTimeout = 10 * time.Second
	defaultExpandTimeout = 5000 * time.Millisecond
	defaultMaxImageBytes = 5 << 20
	defaultShortener     = "tinyurl"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	// Timeouts
	if c.ScrapeTimeout < 0 {
		warnings = append(warnings, fmt.Sprintf("scrape_timeout cannot be negative, defaulting to %v", defaultScrapeTimeout))
		c.ScrapeTimeout = 0
	}
	if c.ScrapeTimeout == 0 {
		c.ScrapeTimeout = defaultScrapeTimeout
	}
	if c.ExpandTimeout < 0 {
		warnings = append(warnings, fmt.Sprintf("expand_timeout cannot be negative, defaulting to %v", defaultExpandTimeout))
		c.ExpandTimeout = 0
	}
	if c.ExpandTimeout == 0 {
		c.ExpandTimeout = defaultExpandTimeout
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 2
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 500 * time.Millisecond
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 5 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = 2
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling delay")
		c.DelayPerHost = 0
	}

	// MaxImageSizeBytes
	if c.MaxImageSizeBytes < 0 {
		warnings = append(warnings, "max_image_size_bytes cannot be negative, setting to 0 (unlimited)")
		c.MaxImageSizeBytes = 0
	} else if c.MaxImageSizeBytes == 0 {
		c.MaxImageSizeBytes = defaultMaxImageBytes
	}

	if err := c.validateStore(&warnings); err != nil {
		return warnings, err
	}

	if c.Shorteners.Default == "" {
		c.Shorteners.Default = defaultShortener
	}
	switch c.Shorteners.Default {
	case "tinyurl", "googl", "bitly":
	default:
		return warnings, fmt.Errorf("%w: unknown default shortener '%s' (want tinyurl, googl or bitly)", utils.ErrConfigValidation, c.Shorteners.Default)
	}
	if c.Shorteners.Default == "bitly" && (c.Shorteners.Bitly.Login == "" || c.Shorteners.Bitly.APIKey == "") {
		return warnings, fmt.Errorf("%w: default shortener is bitly but bitly login/api_key are empty", utils.ErrConfigValidation)
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateStore applies expansion store defaults.
func (c *AppConfig) validateStore(warnings *[]string) error {
	s := &c.ExpansionStore
	switch s.Backend {
	case "":
		s.Backend = StoreBackendMemory
	case StoreBackendMemory:
	case StoreBackendBadger:
		if s.Path == "" {
			*warnings = append(*warnings, "expansion_store.path is empty, defaulting to './linkpeek_state'")
			s.Path = "./linkpeek_state"
		}
	default:
		return fmt.Errorf("%w: unknown expansion_store.backend %q (supported: memory, badger)", utils.ErrConfigValidation, s.Backend)
	}
	if s.TTL < 0 {
		*warnings = append(*warnings, "expansion_store.ttl cannot be negative, disabling expiry")
		s.TTL = 0
	}
	if s.TTL > 0 && s.Backend == StoreBackendMemory {
		*warnings = append(*warnings, "expansion_store.ttl is only honoured by the badger backend")
	}
	return nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
