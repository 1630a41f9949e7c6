package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, loads .env if present, and applies TRADESYNC_* overrides. The
// result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose TRADESYNC_* variable is set and
// non-empty, so secrets can be injected without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "TRADESYNC_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSURL, "TRADESYNC_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.Symbol, "TRADESYNC_EXCHANGE_SYMBOL")
	setStr(&cfg.Exchange.UserID, "TRADESYNC_EXCHANGE_USER_ID")
	setDuration(&cfg.Exchange.Timeout, "TRADESYNC_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.OrderBookDepth, "TRADESYNC_EXCHANGE_ORDER_BOOK_DEPTH")
	setInt(&cfg.Exchange.TradeLimit, "TRADESYNC_EXCHANGE_TRADE_LIMIT")

	// ── Auth ──
	setStr(&cfg.Auth.APIKey, "TRADESYNC_AUTH_API_KEY")
	setStr(&cfg.Auth.APISecret, "TRADESYNC_AUTH_API_SECRET")
	setStr(&cfg.Auth.Passphrase, "TRADESYNC_AUTH_PASSPHRASE")
	setStr(&cfg.Auth.EncryptedSecretPath, "TRADESYNC_AUTH_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Auth.SecretPassword, "TRADESYNC_AUTH_SECRET_PASSWORD")

	// ── Market data ──
	setStringSlice(&cfg.MarketData.Providers, "TRADESYNC_MARKET_DATA_PROVIDERS")
	setStr(&cfg.MarketData.BinanceURL, "TRADESYNC_MARKET_DATA_BINANCE_URL")
	setStr(&cfg.MarketData.CoinGeckoURL, "TRADESYNC_MARKET_DATA_COINGECKO_URL")
	setStr(&cfg.MarketData.CoinGeckoID, "TRADESYNC_MARKET_DATA_COINGECKO_ID")
	setDuration(&cfg.MarketData.Timeout, "TRADESYNC_MARKET_DATA_TIMEOUT")
	setDuration(&cfg.MarketData.CacheMaxAge, "TRADESYNC_MARKET_DATA_CACHE_MAX_AGE")
	setDuration(&cfg.MarketData.RefreshInterval, "TRADESYNC_MARKET_DATA_REFRESH_INTERVAL")
	setBool(&cfg.MarketData.UseDefault, "TRADESYNC_MARKET_DATA_USE_DEFAULT")

	// ── Stream ──
	setDuration(&cfg.Stream.ReconnectDelay, "TRADESYNC_STREAM_RECONNECT_DELAY")
	setDuration(&cfg.Stream.PongWait, "TRADESYNC_STREAM_PONG_WAIT")
	setDuration(&cfg.Stream.StatusInterval, "TRADESYNC_STREAM_STATUS_INTERVAL")

	// ── Orders ──
	setInt(&cfg.Orders.RateLimit, "TRADESYNC_ORDERS_RATE_LIMIT")
	setDuration(&cfg.Orders.RateWindow, "TRADESYNC_ORDERS_RATE_WINDOW")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADESYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADESYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADESYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADESYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADESYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADESYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADESYNC_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TRADESYNC_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.SnapshotTTL, "TRADESYNC_REDIS_SNAPSHOT_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADESYNC_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADESYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADESYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADESYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADESYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADESYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADESYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADESYNC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.MaxConns, "TRADESYNC_POSTGRES_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADESYNC_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADESYNC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADESYNC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADESYNC_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADESYNC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADESYNC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADESYNC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADESYNC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADESYNC_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "TRADESYNC_S3_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADESYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADESYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADESYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADESYNC_NOTIFY_EVENTS")

	// ── API ──
	setBool(&cfg.API.Enabled, "TRADESYNC_API_ENABLED")
	setStr(&cfg.API.Addr, "TRADESYNC_API_ADDR")
	setStr(&cfg.API.APIKey, "TRADESYNC_API_KEY")
	setStringSlice(&cfg.API.CORSOrigins, "TRADESYNC_API_CORS_ORIGINS")
	setInt(&cfg.API.RateLimit, "TRADESYNC_API_RATE_LIMIT")
	setDuration(&cfg.API.RateWindow, "TRADESYNC_API_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADESYNC_MODE")
	setStr(&cfg.LogLevel, "TRADESYNC_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
