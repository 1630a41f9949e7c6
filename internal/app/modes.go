package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradesync/internal/domain"
	"github.com/alanyoungcy/tradesync/internal/notify"
	"github.com/alanyoungcy/tradesync/internal/server"
	"github.com/alanyoungcy/tradesync/internal/server/handler"
	"github.com/alanyoungcy/tradesync/internal/server/ws"
	"github.com/alanyoungcy/tradesync/internal/state"
	"github.com/alanyoungcy/tradesync/internal/stream"
)

const (
	archiveTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
	alertTimeout    = 10 * time.Second
	historyCount    = 100
)

// SyncMode bootstraps the local state, keeps it synchronized over the push
// channel, and serves the optional mirror and control API until ctx is
// cancelled. The session is archived on the way out.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, gctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if a.cfg.API.Enabled {
		hub = ws.NewHub(func() any { return deps.Store.View() }, a.logger)
		g.Go(func() error { return hub.Run(gctx) })
		a.startHTTPServer(gctx, g, deps, hub)
	}
	if mirror := a.buildMirror(deps, hub); mirror != nil {
		deps.Store.AddObserver(mirror)
		g.Go(func() error { return mirror.Run(gctx) })
	}
	a.watchConnection(deps)

	a.bootstrap(gctx, deps, deps.Controller)

	g.Go(func() error { return a.statusLoop(gctx, deps) })
	if every := a.cfg.MarketData.RefreshInterval.Duration; every > 0 {
		g.Go(func() error { return a.refreshLoop(gctx, deps, every) })
	}

	err := g.Wait()
	deps.Controller.Disconnect()
	a.archive(deps)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SnapshotMode bootstraps once without the push channel and prints the
// resulting state.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snapshot mode")

	a.bootstrap(ctx, deps, nil)
	a.archive(deps)
	return a.printJSON(deps.Store.View())
}

// SubmitMode submits one order from the command-line options.
func (a *App) SubmitMode(ctx context.Context, deps *Dependencies) error {
	req, err := a.orderRequest(deps.Store.Symbol())
	if err != nil {
		return fmt.Errorf("submit mode: %w", err)
	}

	res, err := deps.Orders.Submit(ctx, req)
	out := map[string]any{"success": err == nil, "message": res.Message}
	if err != nil {
		out["message"] = err.Error()
	} else {
		out["order"] = state.NewOrderDoc(res.Order)
	}
	if perr := a.printJSON(out); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("submit mode: %w", err)
	}
	return nil
}

// CancelMode cancels the order named on the command line.
func (a *App) CancelMode(ctx context.Context, deps *Dependencies) error {
	if a.opts.OrderID == "" {
		return errors.New("cancel mode: -order-id is required")
	}

	err := deps.Orders.Cancel(ctx, a.opts.OrderID)
	out := map[string]any{"success": err == nil, "order_id": a.opts.OrderID}
	if err != nil {
		out["message"] = err.Error()
	}
	if perr := a.printJSON(out); perr != nil {
		return perr
	}
	if err != nil {
		return fmt.Errorf("cancel mode: %w", err)
	}
	return nil
}

// WatchMode prints the state events another sync process publishes on the
// bus, one JSON document per line. With Options.Since set, the retained
// stream is replayed first.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.Bus == nil {
		return errors.New("watch mode: redis is not enabled")
	}
	channel := eventChannel(deps.Store.Symbol())

	if a.opts.Since != "" {
		last := a.opts.Since
		for {
			msgs, err := deps.Bus.History(ctx, channel, last, historyCount)
			if err != nil {
				return fmt.Errorf("watch mode: history: %w", err)
			}
			for _, m := range msgs {
				fmt.Fprintln(a.out, string(m.Payload))
				last = m.ID
			}
			if len(msgs) < historyCount {
				break
			}
		}
	}

	ch, err := deps.Bus.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("watch mode: subscribe: %w", err)
	}
	a.logger.InfoContext(ctx, "watching state events", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(a.out, string(payload))
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (a *App) bootstrap(ctx context.Context, deps *Dependencies, conn state.Connector) state.Report {
	bc := state.BootstrapConfig{
		UserID:     a.cfg.Exchange.UserID,
		Depth:      a.cfg.Exchange.OrderBookDepth,
		TradeLimit: a.cfg.Exchange.TradeLimit,
		Timeout:    a.cfg.Exchange.Timeout.Duration,
		BookMaxAge: a.cfg.MarketData.CacheMaxAge.Duration,
	}
	if deps.Cache != nil {
		bc.BookCache = deps.Cache
	}
	report := deps.Store.Initialize(ctx, bc, deps.Resolver, deps.REST, conn, a.logger)

	a.logger.InfoContext(ctx, "bootstrap report",
		slog.String("provider", report.Provider),
		slog.Bool("market_ok", report.MarketErr == nil),
		slog.Bool("order_book_fallback", report.OrderBookFallback),
		slog.Bool("order_book_cached", report.OrderBookCached),
		slog.Bool("trades_placeholder", report.TradesFallback),
		slog.Bool("orders_ok", report.OrdersErr == nil),
		slog.Bool("push_started", report.Connected),
	)
	return report
}

// buildMirror returns nil when there is nowhere to mirror to.
func (a *App) buildMirror(deps *Dependencies, hub *ws.Hub) *state.Mirror {
	var buses fanoutBus
	if deps.Bus != nil {
		buses = append(buses, deps.Bus)
	}
	if hub != nil {
		buses = append(buses, hub)
	}
	if deps.Cache == nil && len(buses) == 0 {
		return nil
	}

	var bus domain.EventBus
	if len(buses) > 0 {
		bus = buses
	}
	return state.NewMirror(deps.Cache, bus, eventChannel(deps.Store.Symbol()), a.logger)
}

// watchConnection alerts when an established push channel drops and when it
// comes back.
func (a *App) watchConnection(deps *Dependencies) {
	if !deps.Notifier.Enabled() {
		return
	}
	var (
		mu   sync.Mutex
		down bool
	)
	symbol := deps.Store.Symbol()
	deps.Controller.OnStateChange(func(s stream.State) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case s == stream.StateReconnecting && !down:
			down = true
			go a.alert(deps.Notifier, notify.EventStreamDown, "Push channel lost",
				symbol+": reconnecting")
		case s == stream.StateConnected && down:
			down = false
			go a.alert(deps.Notifier, notify.EventStreamUp, "Push channel restored", symbol)
		}
	})
}

func (a *App) alert(n *notify.Notifier, event, title, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := n.Notify(ctx, event, title, message); err != nil {
		a.logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (a *App) statusLoop(ctx context.Context, deps *Dependencies) error {
	every := a.cfg.Stream.StatusInterval.Duration
	if every <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			market, source := deps.Store.Market()
			book := deps.Store.OrderBook()
			attrs := []any{
				slog.String("stream", deps.Controller.State().String()),
				slog.String("price", market.Price.String()),
				slog.String("source", source),
				slog.Int("trades", len(deps.Store.Trades())),
				slog.Int("orders", len(deps.Store.Orders())),
			}
			if bid, ok := book.BestBid(); ok {
				attrs = append(attrs, slog.String("best_bid", bid.String()))
			}
			if ask, ok := book.BestAsk(); ok {
				attrs = append(attrs, slog.String("best_ask", ask.String()))
			}
			a.logger.InfoContext(ctx, "status", attrs...)
		}
	}
}

// refreshLoop re-resolves the market snapshot. A failed refresh keeps the
// previous snapshot.
func (a *App) refreshLoop(ctx context.Context, deps *Dependencies, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, provider, err := deps.Resolver.Resolve(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "market refresh failed", slog.String("error", err.Error()))
				continue
			}
			deps.Store.SetMarket(snap, provider)
		}
	}
}

// archive uploads the final state when an archiver is configured.
func (a *App) archive(deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	key, err := deps.Archiver.Archive(ctx, deps.Store.Symbol(), time.Now(), deps.Store.View())
	if err != nil {
		a.logger.Error("session archive failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("session archived", slog.String("key", key))
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Probes),
		Status: handler.NewStatusHandler(a.cfg.Mode, deps.Store.Symbol(), a.startedAt, statusSource{deps}),
		State:  handler.NewStateHandler(deps.Store),
		Orders: handler.NewOrderHandler(deps.Orders, deps.Store, a.logger),
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}

	cfg := server.Config{
		Addr:        a.cfg.API.Addr,
		CORSOrigins: a.cfg.API.CORSOrigins,
		APIKey:      a.cfg.API.APIKey,
	}
	if deps.APILimiter != nil {
		cfg.Limiter = deps.APILimiter
	}
	srv := server.NewServer(cfg, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// orderRequest builds the submit request from the command-line options.
func (a *App) orderRequest(symbol string) (domain.OrderRequest, error) {
	qty, err := decimal.NewFromString(strings.TrimSpace(a.opts.Quantity))
	if err != nil {
		return domain.OrderRequest{}, fmt.Errorf("%w: quantity %q", domain.ErrInvalidOrder, a.opts.Quantity)
	}
	req := domain.OrderRequest{
		Symbol:   symbol,
		Side:     domain.Side(strings.ToLower(a.opts.Side)),
		Type:     domain.OrderType(strings.ToLower(a.opts.OrderType)),
		Quantity: qty,
		UserID:   a.cfg.Exchange.UserID,
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeLimit
	}
	if p := strings.TrimSpace(a.opts.Price); p != "" {
		price, err := decimal.NewFromString(p)
		if err != nil {
			return domain.OrderRequest{}, fmt.Errorf("%w: price %q", domain.ErrInvalidOrder, a.opts.Price)
		}
		req.Price = &price
	}
	if err := req.Validate(); err != nil {
		return domain.OrderRequest{}, err
	}
	return req, nil
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("app: write output: %w", err)
	}
	return nil
}

// statusSource feeds the status endpoint.
type statusSource struct {
	deps *Dependencies
}

func (s statusSource) StreamState() string { return s.deps.Controller.State().String() }

func (s statusSource) MarketProvider() string {
	_, source := s.deps.Store.Market()
	return source
}
