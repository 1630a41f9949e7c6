// Package stream keeps local trading state in step with the server's push
// channel. The Controller owns the connection lifecycle: it dials, reads and
// dispatches frames, and schedules a single delayed retry whenever the
// channel drops.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
	"github.com/alanyoungcy/tradesync/internal/platform/exchange"
)

// DefaultReconnectDelay is the fixed wait before a reconnect attempt.
const DefaultReconnectDelay = 5 * time.Second

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Channel is one open push connection.
type Channel interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Channel, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// WSDialer adapts an exchange.WSDialer to Dialer.
func WSDialer(d *exchange.WSDialer) Dialer {
	return DialerFunc(func(ctx context.Context) (Channel, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Sink receives decoded events. state.Store implements it. SetConnected is
// called with the controller's lock held and must not call back into it.
type Sink interface {
	ApplyTrade(domain.Trade)
	ReplaceOrderBook(domain.OrderBookSnapshot)
	ReplaceMarket(domain.MarketSnapshot)
	// ApplyOrderUpdate replaces a known order and reports whether it was known.
	ApplyOrderUpdate(domain.Order) bool
	SetConnected(bool)
}

// Timer is a pending retry.
type Timer interface {
	Stop() bool
}

// Config controls a Controller.
type Config struct {
	// Symbol filters frames; frames naming another symbol are dropped.
	Symbol         string
	ReconnectDelay time.Duration
}

// Controller drives the push channel state machine:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//
// Disconnect moves to Disconnected from any state and cancels a pending
// retry. Each dial gets a new epoch; anything delivered by an older epoch is
// ignored.
type Controller struct {
	dialer Dialer
	sink   Sink
	symbol string
	delay  time.Duration
	logger *slog.Logger

	afterFunc func(time.Duration, func()) Timer

	mu         sync.Mutex
	state      State
	epoch      uint64
	stopped    bool
	baseCtx    context.Context
	conn       Channel
	dialCancel context.CancelFunc
	retry      Timer
	onState    func(State)
	pending    []State
	delivering bool

	// dispatchMu keeps two frame handlers from ever interleaving.
	dispatchMu sync.Mutex
}

// NewController creates a Controller in the Disconnected state.
func NewController(cfg Config, dialer Dialer, sink Sink, logger *slog.Logger) *Controller {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Controller{
		dialer:  dialer,
		sink:    sink,
		symbol:  exchange.NormalizeSymbol(cfg.Symbol),
		delay:   delay,
		logger:  logger.With(slog.String("component", "stream")),
		baseCtx: context.Background(),
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
}

// OnStateChange registers a hook called after every transition, outside the
// controller's lock. Calls are serialized and arrive in transition order.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts connecting in the background. It is a no-op while already
// connecting or connected. Calling it after Disconnect restarts the
// controller. ctx bounds every future dial; cancelling it stops reconnects
// from succeeding but does not by itself move to Disconnected.
func (c *Controller) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.stopped = false
	c.baseCtx = ctx
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.startLocked()
	c.unlockAndNotify()
}

// Disconnect closes the channel, cancels any pending retry and moves to
// Disconnected. A frame handler already running finishes before Disconnect
// returns; no frame reaches the sink afterwards.
func (c *Controller) Disconnect() {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	c.stopped = true
	c.epoch++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	conn := c.conn
	c.conn = nil
	wasActive := c.state != StateDisconnected
	c.setStateLocked(StateDisconnected)
	c.sink.SetConnected(false)
	c.unlockAndNotify()

	if conn != nil {
		_ = conn.Close()
	}
	if wasActive {
		c.logger.Info("push channel disconnected")
	}
}

// startLocked begins a dial under a fresh epoch. Caller holds c.mu.
func (c *Controller) startLocked() {
	c.epoch++
	epoch := c.epoch
	c.setStateLocked(StateConnecting)

	if c.dialCancel != nil {
		c.dialCancel()
	}
	dialCtx, cancel := context.WithCancel(c.baseCtx)
	c.dialCancel = cancel

	go c.dial(dialCtx, epoch)
}

func (c *Controller) dial(ctx context.Context, epoch uint64) {
	ch, err := c.dialer.Dial(ctx)

	c.mu.Lock()
	if c.stopped || epoch != c.epoch {
		c.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		c.dropLocked(epoch, fmt.Errorf("stream: dial: %w", err))
		c.unlockAndNotify()
		return
	}
	c.conn = ch
	c.setStateLocked(StateConnected)
	c.sink.SetConnected(true)
	c.unlockAndNotify()

	c.logger.Info("push channel connected", slog.Uint64("epoch", epoch))

	go c.readLoop(ch, epoch)
}

// readLoop reads frames of one connection until it fails.
func (c *Controller) readLoop(ch Channel, epoch uint64) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.stopped || epoch != c.epoch {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.dropLocked(epoch, fmt.Errorf("stream: read: %w: %w", domain.ErrChannelClosed, err))
			c.unlockAndNotify()

			_ = ch.Close()
			return
		}
		c.dispatch(epoch, data)
	}
}

// dropLocked moves to Reconnecting and schedules exactly one retry. Caller
// holds c.mu.
func (c *Controller) dropLocked(epoch uint64, cause error) {
	c.logger.Warn("push channel lost, scheduling reconnect",
		slog.String("error", cause.Error()),
		slog.Duration("delay", c.delay),
	)
	c.setStateLocked(StateReconnecting)
	c.sink.SetConnected(false)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.afterFunc(c.delay, func() { c.retryFire(epoch) })
}

func (c *Controller) retryFire(epoch uint64) {
	c.mu.Lock()
	if c.stopped || epoch != c.epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.startLocked()
	c.unlockAndNotify()
}

func (c *Controller) dispatch(epoch uint64, data []byte) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	current := !c.stopped && epoch == c.epoch
	c.mu.Unlock()
	if !current {
		return
	}
	c.handleFrame(data)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, s)
}

// unlockAndNotify releases c.mu and reports queued transitions. Only one
// goroutine delivers at a time; transitions queued while it runs the hook
// are picked up by the same loop, so the hook sees them in order.
func (c *Controller) unlockAndNotify() {
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for {
		pending := c.pending
		c.pending = nil
		hook := c.onState
		if len(pending) == 0 {
			c.delivering = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if hook != nil {
			for _, s := range pending {
				hook(s)
			}
		}
		c.mu.Lock()
	}
}
