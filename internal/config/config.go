// Package config defines the tradesync configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by TRADESYNC_* environment variables.
type Config struct {
	Exchange   ExchangeConfig   `toml:"exchange"`
	Auth       AuthConfig       `toml:"auth"`
	MarketData MarketDataConfig `toml:"market_data"`
	Stream     StreamConfig     `toml:"stream"`
	Orders     OrdersConfig     `toml:"orders"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	API        APIConfig        `toml:"api"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ExchangeConfig points at the trading server.
type ExchangeConfig struct {
	BaseURL        string   `toml:"base_url"`
	WSURL          string   `toml:"ws_url"`
	Symbol         string   `toml:"symbol"`
	UserID         string   `toml:"user_id"`
	Timeout        duration `toml:"timeout"`
	OrderBookDepth int      `toml:"order_book_depth"`
	TradeLimit     int      `toml:"trade_limit"`
}

// AuthConfig holds the optional request signing credentials. The secret is
// either given in clear or as a file sealed with crypto.EncryptSecret.
type AuthConfig struct {
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	Passphrase          string `toml:"passphrase"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// MarketDataConfig controls the provider chain. Providers lists the
// non-terminal providers in priority order; the default provider always
// closes the chain unless UseDefault is false.
type MarketDataConfig struct {
	Providers       []string `toml:"providers"`
	BinanceURL      string   `toml:"binance_url"`
	CoinGeckoURL    string   `toml:"coingecko_url"`
	CoinGeckoID     string   `toml:"coingecko_id"`
	Timeout         duration `toml:"timeout"`
	CacheMaxAge     duration `toml:"cache_max_age"`
	RefreshInterval duration `toml:"refresh_interval"`
	UseDefault      bool     `toml:"use_default"`
}

// StreamConfig controls the push channel.
type StreamConfig struct {
	ReconnectDelay duration `toml:"reconnect_delay"`
	PongWait       duration `toml:"pong_wait"`
	StatusInterval duration `toml:"status_interval"`
}

// OrdersConfig throttles order actions. RateLimit 0 disables the limiter.
type OrdersConfig struct {
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// RedisConfig holds Redis connection parameters for the state mirror.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds the audit journal connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds the session archive target.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// NotifyConfig configures operator alerts. Events filters which alert types
// are sent; empty sends all of them.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// APIConfig configures the local control API served in sync mode. RateLimit
// requests per RateWindow per client; 0 disables throttling.
type APIConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// duration wraps time.Duration so TOML strings like "5s" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for a local trading server.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:        "http://localhost:8080",
			WSURL:          "ws://localhost:8080/ws",
			Symbol:         "BTCUSDT",
			Timeout:        duration{5 * time.Second},
			OrderBookDepth: 20,
			TradeLimit:     50,
		},
		MarketData: MarketDataConfig{
			Providers:       []string{ProviderBackend, ProviderBinance, ProviderCoinGecko},
			BinanceURL:      "https://api.binance.com",
			CoinGeckoURL:    "https://api.coingecko.com",
			CoinGeckoID:     "bitcoin",
			Timeout:         duration{5 * time.Second},
			CacheMaxAge:     duration{2 * time.Minute},
			RefreshInterval: duration{0},
			UseDefault:      true,
		},
		Stream: StreamConfig{
			ReconnectDelay: duration{5 * time.Second},
			PongWait:       duration{60 * time.Second},
			StatusInterval: duration{30 * time.Second},
		},
		Orders: OrdersConfig{
			RateLimit:  10,
			RateWindow: duration{time.Minute},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			MaxRetries:  3,
			KeyPrefix:   "tradesync:",
			SnapshotTTL: duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradesync",
			User:          "tradesync",
			SSLMode:       "disable",
			MaxConns:      4,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "sessions",
		},
		API: APIConfig{
			Addr:       "127.0.0.1:8090",
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Mode:     "sync",
		LogLevel: "info",
	}
}

// Provider names accepted in market_data.providers.
const (
	ProviderBackend   = "backend"
	ProviderBinance   = "binance"
	ProviderCoinGecko = "coingecko"
	ProviderCache     = "cache"
)

var validProviders = map[string]bool{
	ProviderBackend:   true,
	ProviderBinance:   true,
	ProviderCoinGecko: true,
	ProviderCache:     true,
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":     true,
	"snapshot": true,
	"submit":   true,
	"cancel":   true,
	"watch":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, snapshot, submit, cancel, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if err := checkURL(c.Exchange.BaseURL, "http", "https"); err != nil {
		errs = append(errs, "exchange: base_url "+err.Error())
	}
	if err := checkURL(c.Exchange.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, "exchange: ws_url "+err.Error())
	}
	if strings.TrimSpace(c.Exchange.Symbol) == "" {
		errs = append(errs, "exchange: symbol must not be empty")
	}
	if c.Exchange.Timeout.Duration <= 0 {
		errs = append(errs, "exchange: timeout must be > 0")
	}
	if c.Exchange.TradeLimit < 0 || c.Exchange.TradeLimit > 100 {
		errs = append(errs, fmt.Sprintf("exchange: trade_limit must be 0-100, got %d", c.Exchange.TradeLimit))
	}
	needsUser := c.Mode == "submit" || c.Mode == "cancel"
	if needsUser && c.Exchange.UserID == "" {
		errs = append(errs, "exchange: user_id is required for mode "+c.Mode)
	}

	// Auth: key and a secret source go together.
	hasSecret := c.Auth.APISecret != "" || c.Auth.EncryptedSecretPath != ""
	if (c.Auth.APIKey != "") != hasSecret {
		errs = append(errs, "auth: api_key and api_secret (or encrypted_secret_path) must be set together")
	}
	if c.Auth.EncryptedSecretPath != "" && c.Auth.SecretPassword == "" {
		errs = append(errs, "auth: secret_password is required when encrypted_secret_path is set")
	}

	// Market data
	for _, p := range c.MarketData.Providers {
		if !validProviders[p] {
			errs = append(errs, fmt.Sprintf("market_data: unknown provider %q", p))
		}
		if p == ProviderCache && !c.Redis.Enabled {
			errs = append(errs, "market_data: provider \"cache\" requires redis.enabled")
		}
	}
	if len(c.MarketData.Providers) == 0 && !c.MarketData.UseDefault {
		errs = append(errs, "market_data: at least one provider or use_default is required")
	}
	if c.MarketData.Timeout.Duration <= 0 {
		errs = append(errs, "market_data: timeout must be > 0")
	}
	if c.MarketData.RefreshInterval.Duration < 0 {
		errs = append(errs, "market_data: refresh_interval must be >= 0")
	}

	// Stream
	if c.Stream.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "stream: reconnect_delay must be > 0")
	}

	// Orders
	if c.Orders.RateLimit < 0 {
		errs = append(errs, "orders: rate_limit must be >= 0")
	}
	if c.Orders.RateLimit > 0 && c.Orders.RateWindow.Duration <= 0 {
		errs = append(errs, "orders: rate_window must be > 0 when rate_limit is set")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}
	if c.Mode == "watch" && !c.Redis.Enabled {
		errs = append(errs, "redis: enabled is required for mode watch")
	}

	// Postgres
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	// Notify
	if (c.Notify.TelegramToken != "") != (c.Notify.TelegramChatID != "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.DiscordWebhookURL != "" {
		if err := checkURL(c.Notify.DiscordWebhookURL, "https", "http"); err != nil {
			errs = append(errs, "notify: discord_webhook_url "+err.Error())
		}
	}

	// API
	if c.API.Enabled {
		if c.API.Addr == "" {
			errs = append(errs, "api: addr must not be empty")
		}
		if c.API.RateLimit < 0 {
			errs = append(errs, "api: rate_limit must be >= 0")
		}
		if c.API.RateLimit > 0 && c.API.RateWindow.Duration <= 0 {
			errs = append(errs, "api: rate_window must be > 0 when rate_limit is set")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%q must use scheme %s", raw, strings.Join(schemes, " or "))
}
