// Package app owns the tradesync process lifecycle. It wires the
// dependencies for the configured mode and runs that mode until the context
// is cancelled.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/tradesync/internal/config"
)

// Options carries the command-line arguments of the one-shot modes.
type Options struct {
	// submit
	Side      string
	OrderType string
	Price     string
	Quantity  string
	// cancel
	OrderID string
	// watch: replay the event stream from this id before following it
	Since string
	// Out receives the mode's output; nil means stdout.
	Out io.Writer
}

// App is the root application object.
type App struct {
	cfg       *config.Config
	opts      Options
	out       io.Writer
	logger    *slog.Logger
	startedAt time.Time
	closers   []func()
	wire      func(context.Context, *config.Config, *slog.Logger) (*Dependencies, func(), error)
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &App{
		cfg:       cfg,
		opts:      opts,
		out:       out,
		logger:    logger.With(slog.String("component", "app")),
		startedAt: time.Now(),
		wire:      Wire,
	}
}

// Run wires the dependencies and runs the configured mode. It returns nil
// on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("symbol", a.cfg.Exchange.Symbol),
	)

	deps, cleanup, err := a.wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "sync":
		return a.SyncMode(ctx, deps)
	case "snapshot":
		return a.SnapshotMode(ctx, deps)
	case "submit":
		return a.SubmitMode(ctx, deps)
	case "cancel":
		return a.CancelMode(ctx, deps)
	case "watch":
		return a.WatchMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases resources in reverse registration order. Later calls are
// no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
