package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/tradesync/internal/blob/s3"
	"github.com/alanyoungcy/tradesync/internal/cache/redis"
	"github.com/alanyoungcy/tradesync/internal/config"
	"github.com/alanyoungcy/tradesync/internal/crypto"
	"github.com/alanyoungcy/tradesync/internal/domain"
	"github.com/alanyoungcy/tradesync/internal/marketdata"
	"github.com/alanyoungcy/tradesync/internal/notify"
	"github.com/alanyoungcy/tradesync/internal/orders"
	"github.com/alanyoungcy/tradesync/internal/platform/exchange"
	"github.com/alanyoungcy/tradesync/internal/server/handler"
	"github.com/alanyoungcy/tradesync/internal/state"
	"github.com/alanyoungcy/tradesync/internal/store/postgres"
	"github.com/alanyoungcy/tradesync/internal/stream"
)

// Dependencies bundles everything the modes use. Optional backends are nil
// when their config section is disabled.
type Dependencies struct {
	Store      *state.Store
	REST       *exchange.RESTClient
	Resolver   *marketdata.Resolver
	Controller *stream.Controller
	Orders     *orders.Client
	Notifier   *notify.Notifier

	// Redis
	Cache      domain.SnapshotCache
	Bus        *redis.EventBus
	APILimiter *redis.RateLimiter

	// Postgres
	Audit *postgres.AuditStore

	// S3
	Archiver *s3blob.SessionArchiver

	// Probes feed the health endpoint.
	Probes map[string]handler.Probe
}

// eventChannel is the bus channel carrying state events for symbol.
func eventChannel(symbol string) string {
	return "state:" + symbol
}

// Wire builds every dependency from cfg. The returned cleanup releases them
// in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	symbol := exchange.NormalizeSymbol(cfg.Exchange.Symbol)
	deps := &Dependencies{
		Store:  state.NewStore(symbol),
		Probes: map[string]handler.Probe{},
	}

	// --- Credentials ---
	var auth *crypto.HMACAuth
	if cfg.Auth.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			Raw:           cfg.Auth.APISecret,
			EncryptedPath: cfg.Auth.EncryptedSecretPath,
			Password:      cfg.Auth.SecretPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: api secret: %w", err))
		}
		auth = &crypto.HMACAuth{Key: cfg.Auth.APIKey, Secret: secret, Passphrase: cfg.Auth.Passphrase}
	}

	// --- Trading server ---
	deps.REST = exchange.NewRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.Timeout.Duration, auth)
	deps.Probes["exchange"] = deps.REST.Health

	// --- Redis (optional) ---
	var orderLimiter orders.Limiter
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Cache = redis.NewSnapshotCache(rc, cfg.Redis.SnapshotTTL.Duration)
		deps.Bus = redis.NewEventBus(rc)
		if cfg.API.RateLimit > 0 {
			deps.APILimiter = redis.NewRateLimiter(rc, cfg.API.RateLimit, cfg.API.RateWindow.Duration)
		}
		deps.Probes["redis"] = rc.Ping
		if cfg.Orders.RateLimit > 0 {
			orderLimiter = redis.NewRateLimiter(rc, cfg.Orders.RateLimit, cfg.Orders.RateWindow.Duration)
		}
	}

	// --- Postgres audit journal (optional) ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Probes["postgres"] = pg.Pool().Ping
	}

	// --- S3 session archive (optional) ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewSessionArchiver(s3blob.NewWriter(sc, 0), cfg.S3.Prefix)
		deps.Probes["s3"] = sc.Health
	}

	// --- Market data ---
	resolver, err := buildResolver(cfg, symbol, deps, logger)
	if err != nil {
		return fail(err)
	}
	deps.Resolver = resolver

	// --- Push channel ---
	dialer := exchange.NewWSDialer(cfg.Exchange.WSURL).WithPongWait(cfg.Stream.PongWait.Duration)
	if auth != nil {
		dialer = dialer.WithHeader(crypto.HeaderAPIKey, auth.Key)
	}
	deps.Controller = stream.NewController(stream.Config{
		Symbol:         symbol,
		ReconnectDelay: cfg.Stream.ReconnectDelay.Duration,
	}, stream.WSDialer(dialer), deps.Store, logger)
	closers = append(closers, deps.Controller.Disconnect)

	// --- Alerts ---
	deps.Notifier = buildNotifier(cfg.Notify, logger)

	// --- Orders ---
	deps.Orders = orders.NewClient(deps.REST, deps.Store, cfg.Exchange.UserID, logger)
	if deps.Audit != nil {
		deps.Orders.WithAudit(deps.Audit)
	}
	if orderLimiter != nil {
		deps.Orders.WithLimiter(orderLimiter)
	}
	if deps.Notifier.Enabled() {
		deps.Orders.WithAlerts(deps.Notifier)
	}

	return deps, cleanup, nil
}

// buildResolver assembles the provider chain in the configured order with
// the default provider last.
func buildResolver(cfg *config.Config, symbol string, deps *Dependencies, logger *slog.Logger) (*marketdata.Resolver, error) {
	md := cfg.MarketData
	timeout := md.Timeout.Duration

	var chain []marketdata.Provider
	for _, name := range md.Providers {
		switch name {
		case config.ProviderBackend:
			chain = append(chain, marketdata.NewBackendProvider(deps.REST, symbol, timeout))
		case config.ProviderBinance:
			chain = append(chain, marketdata.NewBinanceProvider(md.BinanceURL, symbol, timeout))
		case config.ProviderCoinGecko:
			chain = append(chain, marketdata.NewCoinGeckoProvider(md.CoinGeckoURL, md.CoinGeckoID, symbol, timeout))
		case config.ProviderCache:
			if deps.Cache == nil {
				return nil, errors.New("wire: market data provider cache needs redis")
			}
			chain = append(chain, marketdata.NewCacheProvider(deps.Cache, symbol, md.CacheMaxAge.Duration, timeout))
		default:
			return nil, fmt.Errorf("wire: unknown market data provider %q", name)
		}
	}

	var terminal marketdata.Provider
	if md.UseDefault {
		terminal = marketdata.NewDefaultProvider(symbol)
	}
	return marketdata.NewResolver(logger, terminal, chain...).
		WithAttemptTimeout(timeout + time.Second), nil
}

func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}

// fanoutBus publishes to every bus and returns the first error.
type fanoutBus []domain.EventBus

func (f fanoutBus) Publish(ctx context.Context, channel string, payload []byte) error {
	var first error
	for _, b := range f {
		if err := b.Publish(ctx, channel, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
