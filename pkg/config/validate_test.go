package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkpeek/linkpeek/pkg/utils"
)

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	_, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, "linkpeek/1.0", cfg.UserAgent)
	assert.Equal(t, 10*time.Second, cfg.ScrapeTimeout)
	assert.Equal(t, 5000*time.Millisecond, cfg.ExpandTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialRetryDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 2, cfg.MaxRequestsPerHost)
	assert.Equal(t, int64(5<<20), cfg.MaxImageSizeBytes)
	assert.Equal(t, StoreBackendMemory, cfg.ExpansionStore.Backend)
	assert.Equal(t, "tinyurl", cfg.Shorteners.Default)

	// Check HTTP client defaults
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 2, cfg.HTTPClientSettings.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, cfg.HTTPClientSettings.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.TLSHandshakeTimeout)
	assert.Equal(t, 1*time.Second, cfg.HTTPClientSettings.ExpectContinueTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.DialerKeepAlive)
}

func TestAppConfig_Validate_PreservesValues(t *testing.T) {
	cfg := AppConfig{
		UserAgent:          "custom/2",
		ScrapeTimeout:      3 * time.Second,
		ExpandTimeout:      time.Second,
		MaxRetries:         4,
		InitialRetryDelay:  time.Second,
		MaxRetryDelay:      10 * time.Second,
		MaxRequestsPerHost: 8,
		MaxImageSizeBytes:  1024,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "custom/2", cfg.UserAgent)
	assert.Equal(t, 3*time.Second, cfg.ScrapeTimeout)
	assert.Equal(t, time.Second, cfg.ExpandTimeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 8, cfg.MaxRequestsPerHost)
	assert.Equal(t, int64(1024), cfg.MaxImageSizeBytes)
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	cfg := AppConfig{
		ScrapeTimeout:     -time.Second,
		ExpandTimeout:     -time.Second,
		MaxRetries:        -1,
		DelayPerHost:      -time.Second,
		MaxImageSizeBytes: -5,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "scrape_timeout cannot be negative"))
	assert.True(t, containsWarning(warnings, "expand_timeout cannot be negative"))
	assert.True(t, containsWarning(warnings, "max_retries cannot be negative"))
	assert.True(t, containsWarning(warnings, "delay_per_host cannot be negative"))
	assert.True(t, containsWarning(warnings, "max_image_size_bytes cannot be negative"))
	assert.Equal(t, 10*time.Second, cfg.ScrapeTimeout)
	assert.Equal(t, time.Duration(0), cfg.DelayPerHost)
	assert.Equal(t, int64(0), cfg.MaxImageSizeBytes)
}

func TestAppConfig_Validate_RetryDelayClamp(t *testing.T) {
	cfg := AppConfig{
		MaxRetries:        3,
		InitialRetryDelay: 10 * time.Second,
		MaxRetryDelay:     2 * time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
	assert.Equal(t, 2*time.Second, cfg.InitialRetryDelay)
}

func TestAppConfig_Validate_Store(t *testing.T) {
	t.Run("badger without path gets default", func(t *testing.T) {
		cfg := AppConfig{ExpansionStore: StoreConfig{Backend: StoreBackendBadger}}
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.True(t, containsWarning(warnings, "expansion_store.path is empty"))
		assert.Equal(t, "./linkpeek_state", cfg.ExpansionStore.Path)
	})

	t.Run("unknown backend is fatal", func(t *testing.T) {
		cfg := AppConfig{ExpansionStore: StoreConfig{Backend: "redis"}}
		_, err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrConfigValidation))
	})

	t.Run("ttl on memory backend warns", func(t *testing.T) {
		cfg := AppConfig{ExpansionStore: StoreConfig{TTL: time.Hour}}
		warnings, err := cfg.Validate()
		require.NoError(t, err)
		assert.True(t, containsWarning(warnings, "only honoured by the badger backend"))
	})
}

func TestAppConfig_Validate_BitlyCredentials(t *testing.T) {
	cfg := AppConfig{Shorteners: ShortenerConfig{Default: "bitly"}}
	_, err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))

	cfg = AppConfig{Shorteners: ShortenerConfig{
		Default: "bitly",
		Bitly:   BitlyConfig{Login: "me", APIKey: "k"},
	}}
	_, err = cfg.Validate()
	require.NoError(t, err)
}

func TestAppConfig_Validate_UnknownShortener(t *testing.T) {
	cfg := AppConfig{Shorteners: ShortenerConfig{Default: "is.gd"}}
	_, err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}

func TestLoad(t *testing.T) {
	content := `
user_agent: "tester/1.0"
scrape_timeout: 7s
expansion_store:
  backend: badger
  path: /tmp/state
  ttl: 1h
shorteners:
  default: googl
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "tester/1.0", cfg.UserAgent)
	assert.Equal(t, 7*time.Second, cfg.ScrapeTimeout)
	assert.Equal(t, StoreBackendBadger, cfg.ExpansionStore.Backend)
	assert.Equal(t, time.Hour, cfg.ExpansionStore.TTL)
	assert.Equal(t, "googl", cfg.Shorteners.Default)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEffectiveTempDir(t *testing.T) {
	cfg := AppConfig{}
	assert.Equal(t, filepath.Join(os.TempDir(), "linkpeek"), cfg.EffectiveTempDir())

	cfg.TempDir = "/var/thumbs"
	assert.Equal(t, "/var/thumbs", cfg.EffectiveTempDir())
}
