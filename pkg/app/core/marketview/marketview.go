// Package marketview answers read-only market queries from the matching
// engine's state. Every query runs under the symbol's shared lock and never
// mutates the book.
package marketview

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

const (
	DefaultDepth       = 10
	DefaultTradeLimit  = 50
	DefaultStatsWindow = 100
)

// View reads symbol state from an Engine.
type View struct {
	engine      *matching.Engine
	depth       int
	statsWindow int
}

type Option func(*View)

// WithDefaultDepth sets the level count used when a caller asks for depth <= 0.
func WithDefaultDepth(n int) Option { return func(v *View) { v.depth = n } }

// WithStatsWindow sets how many most recent trades MarketStats aggregates over.
func WithStatsWindow(n int) Option { return func(v *View) { v.statsWindow = n } }

func New(engine *matching.Engine, opts ...Option) *View {
	v := &View{engine: engine, depth: DefaultDepth, statsWindow: DefaultStatsWindow}
	for _, opt := range opts {
		opt(v)
	}
	if v.depth <= 0 {
		v.depth = DefaultDepth
	}
	if v.statsWindow <= 0 {
		v.statsWindow = DefaultStatsWindow
	}
	return v
}

// Depth is a point-in-time top of book.
type Depth struct {
	Symbol    string                 `json:"symbol"`
	Bids      []orderbook.PriceLevel `json:"bids"` // best (highest) first
	Asks      []orderbook.PriceLevel `json:"asks"` // best (lowest) first
	Timestamp time.Time              `json:"timestamp"`
}

// DepthSnapshot returns up to levels price levels per side.
func (v *View) DepthSnapshot(symbol string, levels int) (*Depth, error) {
	if levels <= 0 {
		levels = v.depth
	}
	out := &Depth{Symbol: symbol, Timestamp: v.engine.Clock().Now()}
	err := v.engine.View(symbol, func(book *orderbook.OrderBook, _ []orderbook.Trade) {
		out.Bids = book.Levels(orderbook.Buy, levels)
		out.Asks = book.Levels(orderbook.Sell, levels)
	})
	if err != nil {
		return nil, err
	}
	if out.Bids == nil {
		out.Bids = []orderbook.PriceLevel{}
	}
	if out.Asks == nil {
		out.Asks = []orderbook.PriceLevel{}
	}
	return out, nil
}

// RecentTrades returns up to limit trades for symbol, newest first.
func (v *View) RecentTrades(symbol string, limit int) ([]orderbook.Trade, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	var out []orderbook.Trade
	err := v.engine.View(symbol, func(_ *orderbook.OrderBook, trades []orderbook.Trade) {
		n := min(limit, len(trades))
		out = make([]orderbook.Trade, 0, n)
		for i := len(trades) - 1; i >= len(trades)-n; i-- {
			out = append(out, trades[i])
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats summarizes one market. Volume, High, Low, Open and TradeCount cover
// the most recent Window trades, not a wall-clock interval.
type Stats struct {
	Symbol    string              `json:"symbol"`
	BestBid   decimal.NullDecimal `json:"bestBid"`
	BestAsk   decimal.NullDecimal `json:"bestAsk"`
	Spread    decimal.NullDecimal `json:"spread"`
	MidPrice  decimal.NullDecimal `json:"midPrice"`
	BidLevels int                 `json:"bidLevels"`
	AskLevels int                 `json:"askLevels"`
	BidOrders int                 `json:"bidOrders"`
	AskOrders int                 `json:"askOrders"`
	BidDepth  decimal.Decimal     `json:"bidDepth"` // total resting bid amount
	AskDepth  decimal.Decimal     `json:"askDepth"`

	LastPrice   decimal.NullDecimal `json:"lastPrice"`
	Open        decimal.NullDecimal `json:"open"`
	High        decimal.NullDecimal `json:"high"`
	Low         decimal.NullDecimal `json:"low"`
	Change      decimal.NullDecimal `json:"change"` // LastPrice - Open
	Volume      decimal.Decimal     `json:"volume"` // base
	QuoteVolume decimal.Decimal     `json:"quoteVolume"`
	TradeCount  int                 `json:"tradeCount"`
	Window      int                 `json:"window"`
}

// MarketStats computes Stats for symbol.
func (v *View) MarketStats(symbol string) (*Stats, error) {
	s := &Stats{Symbol: symbol, Window: v.statsWindow}
	err := v.engine.View(symbol, func(book *orderbook.OrderBook, trades []orderbook.Trade) {
		if bid, ok := book.BestBid(); ok {
			s.BestBid = bid.Price
		}
		if ask, ok := book.BestAsk(); ok {
			s.BestAsk = ask.Price
		}
		if spread, ok := book.Spread(); ok {
			s.Spread = decimal.NewNullDecimal(spread)
			s.MidPrice = decimal.NewNullDecimal(s.BestBid.Decimal.Add(s.BestAsk.Decimal).Div(decimal.NewFromInt(2)))
		}
		s.BidLevels, s.AskLevels = book.LevelCount(orderbook.Buy), book.LevelCount(orderbook.Sell)
		s.BidOrders, s.AskOrders = book.OrderCount(orderbook.Buy), book.OrderCount(orderbook.Sell)
		s.BidDepth = sumLevels(book.Levels(orderbook.Buy, 0))
		s.AskDepth = sumLevels(book.Levels(orderbook.Sell, 0))

		if len(trades) > v.statsWindow {
			trades = trades[len(trades)-v.statsWindow:]
		}
		s.TradeCount = len(trades)
		if len(trades) == 0 {
			return
		}
		high, low := trades[0].Price, trades[0].Price
		for _, t := range trades {
			s.Volume = s.Volume.Add(t.Amount)
			s.QuoteVolume = s.QuoteVolume.Add(t.Notional())
			high = decimal.Max(high, t.Price)
			low = decimal.Min(low, t.Price)
		}
		open, last := trades[0].Price, trades[len(trades)-1].Price
		s.Open = decimal.NewNullDecimal(open)
		s.LastPrice = decimal.NewNullDecimal(last)
		s.High = decimal.NewNullDecimal(high)
		s.Low = decimal.NewNullDecimal(low)
		s.Change = decimal.NewNullDecimal(last.Sub(open))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Summary pairs a market's stats with its engine-wide context.
type Summary struct {
	Engine  matching.Stats `json:"engine"`
	Markets []*Stats       `json:"markets"`
}

// AllStats returns MarketStats for every registered market plus engine totals.
func (v *View) AllStats() (*Summary, error) {
	out := &Summary{Engine: v.engine.Stats()}
	for _, m := range v.engine.Markets().ListMarkets() {
		s, err := v.MarketStats(m.Symbol)
		if err != nil {
			return nil, err
		}
		out.Markets = append(out.Markets, s)
	}
	return out, nil
}

func sumLevels(levels []orderbook.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Amount)
	}
	return total
}
