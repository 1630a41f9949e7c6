// Package state holds the local trading state: the market snapshot, the
// order book, the trade tape and the user's orders. All accessors return
// copies; the Store is safe for concurrent use.
package state

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tradesync/internal/domain"
)

// MaxTrades bounds the trade tape.
const MaxTrades = 100

// Where an order book came from.
const (
	BookFromServer      = "server"
	BookFromCache       = "cache"
	BookFromPlaceholder = "placeholder"
)

// Observer is told about replacements after the Store has released its lock.
// Implementations must not block for long.
type Observer interface {
	MarketReplaced(snap domain.MarketSnapshot, source string)
	OrderBookReplaced(book domain.OrderBookSnapshot, source string)
	TradeApplied(domain.Trade)
}

// Store is the in-memory trading state for one symbol.
type Store struct {
	mu           sync.RWMutex
	symbol       string
	market       domain.MarketSnapshot
	marketSource string
	book         domain.OrderBookSnapshot
	trades       []domain.Trade // newest first
	orders       []domain.Order // newest first
	connected    bool

	observers []Observer
}

// NewStore creates an empty Store for symbol.
func NewStore(symbol string) *Store {
	return &Store{
		symbol: symbol,
		book:   domain.OrderBookSnapshot{Symbol: symbol},
	}
}

// Symbol returns the symbol the Store tracks.
func (s *Store) Symbol() string { return s.symbol }

// AddObserver registers o for future changes.
func (s *Store) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Store) observersSnapshot() []Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Observer(nil), s.observers...)
}

// --------------------------------------------------------------------------
// Market snapshot
// --------------------------------------------------------------------------

// SetMarket replaces the market snapshot and records which provider
// produced it.
func (s *Store) SetMarket(snap domain.MarketSnapshot, source string) {
	s.mu.Lock()
	s.market = snap
	s.marketSource = source
	s.mu.Unlock()

	for _, o := range s.observersSnapshot() {
		o.MarketReplaced(snap, source)
	}
}

// ReplaceMarket replaces the market snapshot with one pushed by the server.
func (s *Store) ReplaceMarket(snap domain.MarketSnapshot) {
	s.SetMarket(snap, "push")
}

// Market returns the current snapshot and its source.
func (s *Store) Market() (domain.MarketSnapshot, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.market, s.marketSource
}

// --------------------------------------------------------------------------
// Order book
// --------------------------------------------------------------------------

// ReplaceOrderBook swaps in a snapshot from the server wholesale.
func (s *Store) ReplaceOrderBook(book domain.OrderBookSnapshot) {
	s.SetOrderBook(book, BookFromServer)
}

// SetOrderBook swaps in a new snapshot wholesale and records its source.
// Sides are re-sorted so the ordering invariant holds whatever the caller
// passed.
func (s *Store) SetOrderBook(book domain.OrderBookSnapshot, source string) {
	sorted := domain.NewOrderBookSnapshot(book.Symbol, book.Bids, book.Asks, book.Timestamp)
	if sorted.Symbol == "" {
		sorted.Symbol = s.symbol
	}

	s.mu.Lock()
	s.book = sorted
	s.mu.Unlock()

	for _, o := range s.observersSnapshot() {
		o.OrderBookReplaced(sorted.Clone(), source)
	}
}

// OrderBook returns a copy of the current snapshot.
func (s *Store) OrderBook() domain.OrderBookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book.Clone()
}

// --------------------------------------------------------------------------
// Trade tape
// --------------------------------------------------------------------------

// ApplyTrade prepends t and truncates the tape to MaxTrades.
func (s *Store) ApplyTrade(t domain.Trade) {
	s.mu.Lock()
	tape := make([]domain.Trade, 0, min(len(s.trades)+1, MaxTrades))
	tape = append(tape, t)
	for _, old := range s.trades {
		if len(tape) == MaxTrades {
			break
		}
		tape = append(tape, old)
	}
	s.trades = tape
	s.mu.Unlock()

	for _, o := range s.observersSnapshot() {
		o.TradeApplied(t)
	}
}

// ReplaceTrades swaps in a newest-first tape, keeping at most MaxTrades.
func (s *Store) ReplaceTrades(trades []domain.Trade) {
	n := min(len(trades), MaxTrades)
	tape := make([]domain.Trade, n)
	copy(tape, trades[:n])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = tape
}

// Trades returns a copy of the tape, newest first.
func (s *Store) Trades() []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Trade(nil), s.trades...)
}

// --------------------------------------------------------------------------
// Orders
// --------------------------------------------------------------------------

// ReplaceOrders swaps in the user's orders.
func (s *Store) ReplaceOrders(orders []domain.Order) {
	out := make([]domain.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Normalize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = out
}

// PrependOrder adds an order accepted by the server at the front. An
// existing record with the same id is replaced instead.
func (s *Store) PrependOrder(o domain.Order) {
	o = o.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == o.ID {
			s.orders[i] = o
			return
		}
	}
	s.orders = append([]domain.Order{o}, s.orders...)
}

// RemoveOrder drops the order with id and reports whether it existed.
func (s *Store) RemoveOrder(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			s.orders = append(s.orders[:i:i], s.orders[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyOrderUpdate replaces a known order wholesale. Unknown ids are
// ignored and reported as false.
func (s *Store) ApplyOrderUpdate(o domain.Order) bool {
	o = o.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == o.ID {
			if o.Symbol == "" {
				o.Symbol = s.orders[i].Symbol
			}
			s.orders[i] = o
			return true
		}
	}
	return false
}

// Order looks up one order by id.
func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return domain.Order{}, false
}

// Orders returns a copy of the user's orders, newest first.
func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Order(nil), s.orders...)
}

// --------------------------------------------------------------------------
// Connectivity
// --------------------------------------------------------------------------

// SetConnected records push channel connectivity.
func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

// Connected reports whether the push channel is up.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// View is a consistent copy of the whole state. It marshals to the
// snake_case document in view_json.go.
type View struct {
	Symbol       string
	Market       domain.MarketSnapshot
	MarketSource string
	OrderBook    domain.OrderBookSnapshot
	Trades       []domain.Trade
	Orders       []domain.Order
	Connected    bool
	CapturedAt   time.Time
}

// View captures the whole state under one read lock.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Symbol:       s.symbol,
		Market:       s.market,
		MarketSource: s.marketSource,
		OrderBook:    s.book.Clone(),
		Trades:       append([]domain.Trade{}, s.trades...),
		Orders:       append([]domain.Order{}, s.orders...),
		Connected:    s.connected,
		CapturedAt:   time.Now().UTC(),
	}
}
