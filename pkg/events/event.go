package events

import (
	"time"

	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// Type identifies what changed.
type Type string

const (
	TradeExecuted Type = "trade"
	OrderUpdated  Type = "order"
	BookChanged   Type = "orderbook"
)

// Depth is the top of book captured when a BookChanged event is emitted.
type Depth struct {
	Bids []orderbook.PriceLevel `json:"bids"`
	Asks []orderbook.PriceLevel `json:"asks"`
}

// Event is a post-commit notification. Payload pointers are private copies;
// sinks may keep them.
type Event struct {
	Type      Type             `json:"type"`
	Symbol    string           `json:"symbol"`
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Trade     *orderbook.Trade `json:"trade,omitempty"`
	Order     *orderbook.Order `json:"order,omitempty"`
	Depth     *Depth           `json:"depth,omitempty"`
}

// Channel is the subscription channel the event is fanned out on:
// trades:{symbol}, orderbook:{symbol} or orders:{trader}.
func (e Event) Channel() string {
	switch e.Type {
	case TradeExecuted:
		return "trades:" + e.Symbol
	case BookChanged:
		return "orderbook:" + e.Symbol
	case OrderUpdated:
		if e.Order != nil {
			return "orders:" + e.Order.Trader
		}
	}
	return ""
}

func NewTradeEvent(seq uint64, t orderbook.Trade) Event {
	return Event{Type: TradeExecuted, Symbol: t.Symbol, Seq: seq, Timestamp: t.Timestamp, Trade: &t}
}

func NewOrderEvent(seq uint64, o *orderbook.Order) Event {
	return Event{Type: OrderUpdated, Symbol: o.Symbol, Seq: seq, Timestamp: o.UpdatedAt, Order: o.Clone()}
}

func NewBookEvent(seq uint64, symbol string, ts time.Time, bids, asks []orderbook.PriceLevel) Event {
	return Event{Type: BookChanged, Symbol: symbol, Seq: seq, Timestamp: ts, Depth: &Depth{Bids: bids, Asks: asks}}
}
