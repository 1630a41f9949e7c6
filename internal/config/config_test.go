package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Stream.ReconnectDelay.Duration)
	assert.Equal(t, []string{"backend", "binance", "coingecko"}, cfg.MarketData.Providers)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradesync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "snapshot"

[exchange]
symbol = "ETHUSDT"
timeout = "2s"

[stream]
reconnect_delay = "750ms"
`), 0o600))

	t.Setenv("TRADESYNC_EXCHANGE_USER_ID", "u-42")
	t.Setenv("TRADESYNC_MARKET_DATA_PROVIDERS", "binance, coingecko ,")
	t.Setenv("TRADESYNC_ORDERS_RATE_LIMIT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "snapshot", cfg.Mode)
	assert.Equal(t, "ETHUSDT", cfg.Exchange.Symbol)
	assert.Equal(t, 2*time.Second, cfg.Exchange.Timeout.Duration)
	assert.Equal(t, 750*time.Millisecond, cfg.Stream.ReconnectDelay.Duration)
	assert.Equal(t, "u-42", cfg.Exchange.UserID)
	assert.Equal(t, []string{"binance", "coingecko"}, cfg.MarketData.Providers)
	// Unparseable overrides leave the default in place.
	assert.Equal(t, 10, cfg.Orders.RateLimit)
	// Untouched sections keep their defaults.
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Exchange.WSURL)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sync", cfg.Mode)
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: decode")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	cfg.Exchange.BaseURL = "localhost"
	cfg.Exchange.WSURL = "http://localhost/ws"
	cfg.Stream.ReconnectDelay = duration{}
	cfg.MarketData.Providers = []string{"oracle"}
	cfg.Auth.APIKey = "key"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "arbitrage"`)
	assert.Contains(t, msg, "exchange: base_url")
	assert.Contains(t, msg, "must use scheme ws or wss")
	assert.Contains(t, msg, "stream: reconnect_delay")
	assert.Contains(t, msg, `unknown provider "oracle"`)
	assert.Contains(t, msg, "auth: api_key and api_secret")
}

func TestValidateModeRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "submit"
	assert.ErrorContains(t, cfg.Validate(), "user_id is required")

	cfg = Defaults()
	cfg.Mode = "watch"
	assert.ErrorContains(t, cfg.Validate(), "enabled is required for mode watch")

	cfg = Defaults()
	cfg.MarketData.Providers = []string{"cache"}
	assert.ErrorContains(t, cfg.Validate(), "requires redis.enabled")
	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.APIKey = "key"
	cfg.Auth.APISecret = "secret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.S3.SecretKey = "s3"
	cfg.Notify.TelegramToken = "bot"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Auth.APIKey)
	assert.Equal(t, "***", out.Auth.APISecret)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password)

	// The original is untouched, including shared slices.
	out.MarketData.Providers[0] = "changed"
	assert.Equal(t, "secret", cfg.Auth.APISecret)
	assert.Equal(t, "backend", cfg.MarketData.Providers[0])
}
