package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevel is the aggregate view of one price on one side.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`   // total remaining at this price
	Notional decimal.Decimal `json:"notional"` // Price × Amount
	Orders   int             `json:"orders"`
}

// level is a FIFO queue of resting orders at one price.
type level struct {
	price  decimal.Decimal
	orders []*Order
}

// bookSide keeps levels ordered best-first: descending price for bids,
// ascending for asks. Min() is always the best level.
type bookSide struct {
	levels *btree.BTreeG[*level]
	count  int
}

func newBookSide(side Side) *bookSide {
	var less func(a, b *level) bool
	switch side {
	case Buy:
		less = func(a, b *level) bool { return a.price.GreaterThan(b.price) }
	case Sell:
		less = func(a, b *level) bool { return a.price.LessThan(b.price) }
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", side))
	}
	return &bookSide{levels: btree.NewBTreeG(less)}
}

func (bs *bookSide) add(o *Order) {
	probe := &level{price: o.Price.Decimal}
	lvl, ok := bs.levels.Get(probe)
	if !ok {
		lvl = probe
		bs.levels.Set(lvl)
	}
	lvl.orders = append(lvl.orders, o)
	bs.count++
}

func (bs *bookSide) remove(o *Order) bool {
	lvl, ok := bs.levels.Get(&level{price: o.Price.Decimal})
	if !ok {
		return false
	}
	for i, cur := range lvl.orders {
		if cur.ID != o.ID {
			continue
		}
		lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
		if len(lvl.orders) == 0 {
			bs.levels.Delete(lvl)
		}
		bs.count--
		return true
	}
	return false
}

func (bs *bookSide) best() (*Order, bool) {
	lvl, ok := bs.levels.Min()
	if !ok || len(lvl.orders) == 0 {
		return nil, false
	}
	return lvl.orders[0], true
}

// OrderBook holds the resting orders of one symbol in price-time priority.
//
// OrderBook is not safe for concurrent use; the matching engine serializes all
// access to a symbol's book behind that symbol's lock.
type OrderBook struct {
	Symbol string

	bids *bookSide
	asks *bookSide

	// Order index for O(1) cancellation
	index map[string]*Order
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   newBookSide(Buy),
		asks:   newBookSide(Sell),
		index:  make(map[string]*Order),
	}
}

func (ob *OrderBook) side(s Side) *bookSide {
	switch s {
	case Buy:
		return ob.bids
	case Sell:
		return ob.asks
	default:
		panic(fmt.Sprintf("orderbook: invalid side %d", s))
	}
}

// Insert places a live limit order at the back of its price level.
func (ob *OrderBook) Insert(o *Order) error {
	if o.Kind != Limit || !o.Price.Valid {
		return fmt.Errorf("only priced limit orders may rest: %w", ErrInvalidOrder)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, ErrInvalidOrder)
	}
	if _, exists := ob.index[o.ID]; exists {
		return fmt.Errorf("order %s already resting: %w", o.ID, ErrInvalidOrder)
	}
	ob.side(o.Side).add(o)
	ob.index[o.ID] = o
	return nil
}

// Remove takes an order off whichever side it rests on.
// ok is false when the order is not in the book.
func (ob *OrderBook) Remove(id string) (*Order, bool) {
	o, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	ob.side(o.Side).remove(o)
	delete(ob.index, id)
	return o, true
}

// Contains reports whether id is resting.
func (ob *OrderBook) Contains(id string) bool {
	_, ok := ob.index[id]
	return ok
}

// Best returns the highest-priority resting order on side s.
func (ob *OrderBook) Best(s Side) (*Order, bool) {
	return ob.side(s).best()
}

func (ob *OrderBook) BestBid() (*Order, bool) { return ob.bids.best() }
func (ob *OrderBook) BestAsk() (*Order, bool) { return ob.asks.best() }

// Spread returns bestAsk - bestBid; ok is false if either side is empty.
func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, ok := ob.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := ob.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Decimal.Sub(bid.Price.Decimal), true
}

// Walk visits resting orders on side s in matching priority until fn returns false.
// fn must not mutate the book.
func (ob *OrderBook) Walk(s Side, fn func(o *Order) bool) {
	ob.side(s).levels.Scan(func(lvl *level) bool {
		for _, o := range lvl.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// Levels returns up to n aggregated price levels on side s, best first.
// n <= 0 returns every level.
func (ob *OrderBook) Levels(s Side, n int) []PriceLevel {
	var out []PriceLevel
	ob.side(s).levels.Scan(func(lvl *level) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		amount := decimal.Zero
		for _, o := range lvl.orders {
			amount = amount.Add(o.Remaining())
		}
		out = append(out, PriceLevel{
			Price:    lvl.price,
			Amount:   amount,
			Notional: lvl.price.Mul(amount),
			Orders:   len(lvl.orders),
		})
		return true
	})
	return out
}

// OrderCount returns the number of resting orders on side s.
func (ob *OrderBook) OrderCount(s Side) int { return ob.side(s).count }

// LevelCount returns the number of distinct prices on side s.
func (ob *OrderBook) LevelCount(s Side) int { return ob.side(s).levels.Len() }

// Len returns the number of resting orders on both sides.
func (ob *OrderBook) Len() int { return len(ob.index) }
