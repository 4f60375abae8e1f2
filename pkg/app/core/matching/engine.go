package matching

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/ledger"
	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/events"
	"github.com/uhyunpark/spotbook/pkg/util"
)

// Publisher receives events after the state change they describe has committed.
// Publish is called with the symbol lock held; it must not block or call back
// into the Engine.
type Publisher interface {
	Publish(ev events.Event) bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) bool { return true }

// symbolState is everything owned by one market. mu serializes placements and
// cancellations on the symbol; readers take it shared.
type symbolState struct {
	mu     sync.RWMutex
	book   *orderbook.OrderBook
	trades []orderbook.Trade // oldest first, capped at Config.RecentTradesCap
}

// Engine matches orders per symbol and settles every trade through one Ledger.
type Engine struct {
	cfg       Config
	ledger    *ledger.Ledger
	markets   *market.MarketRegistry
	clock     util.Clock
	seq       *Sequencer
	publisher Publisher
	logger    *zap.SugaredLogger

	symbolsMu sync.RWMutex
	symbols   map[string]*symbolState

	// Order history. Lock order is symbol mu, then ordersMu.
	ordersMu sync.RWMutex
	orders   map[string]*orderbook.Order
	byTrader map[string][]string

	tradeCount atomic.Uint64
}

type Option func(*Engine)

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.logger = l } }
func WithClock(c util.Clock) Option          { return func(e *Engine) { e.clock = c } }
func WithPublisher(p Publisher) Option       { return func(e *Engine) { e.publisher = p } }
func WithSequencer(s *Sequencer) Option      { return func(e *Engine) { e.seq = s } }

func New(l *ledger.Ledger, markets *market.MarketRegistry, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		ledger:    l,
		markets:   markets,
		clock:     util.RealClock{},
		seq:       NewSequencer(0),
		publisher: nopPublisher{},
		logger:    util.NopSugar(),
		symbols:   make(map[string]*symbolState),
		orders:    make(map[string]*orderbook.Order),
		byTrader:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.BookEventDepth <= 0 {
		e.cfg.BookEventDepth = DefaultConfig().BookEventDepth
	}
	return e
}

func (e *Engine) Config() Config                  { return e.cfg }
func (e *Engine) Ledger() *ledger.Ledger          { return e.ledger }
func (e *Engine) Markets() *market.MarketRegistry { return e.markets }
func (e *Engine) Clock() util.Clock               { return e.clock }

// resolveMarket returns the market for symbol, registering it when
// AutoCreateMarkets is on. Errors wrap orderbook.ErrInvalidOrder.
func (e *Engine) resolveMarket(symbol string) (*market.Market, error) {
	m, err := e.markets.GetMarket(symbol)
	if err == nil {
		return m, nil
	}
	if !e.cfg.AutoCreateMarkets {
		return nil, fmt.Errorf("%w: %w", orderbook.ErrInvalidOrder, err)
	}
	m, created, err := e.markets.GetOrCreate(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", orderbook.ErrInvalidOrder, err)
	}
	if created {
		e.logger.Infow("market_auto_created", "symbol", m.Symbol, "base", m.BaseAsset, "quote", m.QuoteAsset)
	}
	return m, nil
}

// state returns the symbol's book state, creating an empty one on first use.
func (e *Engine) state(symbol string) *symbolState {
	e.symbolsMu.RLock()
	st, ok := e.symbols[symbol]
	e.symbolsMu.RUnlock()
	if ok {
		return st
	}

	e.symbolsMu.Lock()
	defer e.symbolsMu.Unlock()
	if st, ok = e.symbols[symbol]; ok {
		return st
	}
	st = &symbolState{book: orderbook.NewOrderBook(symbol)}
	e.symbols[symbol] = st
	return st
}

func (e *Engine) lookupState(symbol string) (*symbolState, bool) {
	e.symbolsMu.RLock()
	defer e.symbolsMu.RUnlock()
	st, ok := e.symbols[symbol]
	return st, ok
}

// View runs fn with shared access to symbol's book and trade history
// (oldest first). fn must not mutate or retain either. A registered market
// with no activity yet is viewed as an empty book.
func (e *Engine) View(symbol string, fn func(book *orderbook.OrderBook, trades []orderbook.Trade)) error {
	m, err := e.markets.GetMarket(symbol)
	if err != nil {
		return err
	}
	st := e.state(m.Symbol)
	st.mu.RLock()
	defer st.mu.RUnlock()
	fn(st.book, st.trades)
	return nil
}

// GetOrder returns a copy of the order with id, live or historical.
func (e *Engine) GetOrder(id string) (*orderbook.Order, error) {
	e.ordersMu.RLock()
	o, ok := e.orders[id]
	e.ordersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrOrderNotFound)
	}
	st, _ := e.lookupState(o.Symbol)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return o.Clone(), nil
}

// UserOrders returns copies of trader's orders, oldest first. An empty symbol
// matches every market.
func (e *Engine) UserOrders(trader, symbol string) []*orderbook.Order {
	e.ordersMu.RLock()
	ids := e.byTrader[trader]
	matched := make([]*orderbook.Order, 0, len(ids))
	for _, id := range ids {
		if o := e.orders[id]; symbol == "" || o.Symbol == symbol {
			matched = append(matched, o)
		}
	}
	e.ordersMu.RUnlock()

	out := make([]*orderbook.Order, 0, len(matched))
	for _, o := range matched {
		st, _ := e.lookupState(o.Symbol)
		st.mu.RLock()
		out = append(out, o.Clone())
		st.mu.RUnlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// recordOrder adds o to the history index. Caller holds the symbol lock.
func (e *Engine) recordOrder(o *orderbook.Order) {
	e.ordersMu.Lock()
	e.orders[o.ID] = o
	e.byTrader[o.Trader] = append(e.byTrader[o.Trader], o.ID)
	e.ordersMu.Unlock()
}

// Stats are engine-wide totals.
type Stats struct {
	Markets int    `json:"markets"`
	Orders  int    `json:"orders"`
	Trades  uint64 `json:"trades"`
	Traders int    `json:"traders"`
	Resting int    `json:"resting"`
}

func (e *Engine) Stats() Stats {
	e.ordersMu.RLock()
	orders := len(e.orders)
	e.ordersMu.RUnlock()

	e.symbolsMu.RLock()
	states := make([]*symbolState, 0, len(e.symbols))
	for _, st := range e.symbols {
		states = append(states, st)
	}
	e.symbolsMu.RUnlock()

	resting := 0
	for _, st := range states {
		st.mu.RLock()
		resting += st.book.Len()
		st.mu.RUnlock()
	}

	return Stats{
		Markets: e.markets.Count(),
		Orders:  orders,
		Trades:  e.tradeCount.Load(),
		Traders: e.ledger.TraderCount(),
		Resting: resting,
	}
}

// Deposit credits a trader through the ledger.
func (e *Engine) Deposit(trader, currency string, amount decimal.Decimal) error {
	if err := e.ledger.Deposit(trader, currency, amount); err != nil {
		return err
	}
	e.logger.Infow("funds_deposited", "trader", trader, "currency", currency, "amount", amount.String())
	return nil
}

// Withdraw debits a trader through the ledger.
func (e *Engine) Withdraw(trader, currency string, amount decimal.Decimal) error {
	if err := e.ledger.Withdraw(trader, currency, amount); err != nil {
		return err
	}
	e.logger.Infow("funds_withdrawn", "trader", trader, "currency", currency, "amount", amount.String())
	return nil
}
