package matching

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/ledger"
	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/events"
)

// PlaceRequest describes a new order. Price is set for limit orders only.
type PlaceRequest struct {
	Trader      string
	Symbol      string
	Side        orderbook.Side
	Kind        orderbook.Kind
	TimeInForce orderbook.TimeInForce
	Amount      decimal.Decimal
	Price       decimal.NullDecimal
	ExpireAt    time.Time
}

// PlaceResult is the outcome of an accepted placement.
type PlaceResult struct {
	Order  *orderbook.Order  // copy of the taker after matching
	Trades []orderbook.Trade // in execution order
	// Halted holds the settlement failure that stopped matching early, if any.
	// Trades committed before it stand.
	Halted error
}

// Resting reports whether the order's remainder was put on the book.
func (r *PlaceResult) Resting() bool {
	return !r.Order.Status.Terminal()
}

// PlaceOrder validates req, matches it against the opposite side of its book
// and rests or discards the remainder. Validation failures are returned before
// any state changes and wrap orderbook.ErrInvalidOrder or
// ledger.ErrInsufficientBalance. A settlement failure during matching is not
// an error; it is reported in PlaceResult.Halted.
func (e *Engine) PlaceOrder(req PlaceRequest) (*PlaceResult, error) {
	now := e.clock.Now()
	o := &orderbook.Order{
		Trader:      req.Trader,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Kind:        req.Kind,
		TimeInForce: req.TimeInForce,
		Amount:      req.Amount,
		Price:       req.Price,
		Filled:      decimal.Zero,
		Status:      orderbook.StatusPending,
		ExpireAt:    req.ExpireAt,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.TimeInForce == orderbook.GTD && !o.ExpireAt.After(now) {
		return nil, fmt.Errorf("expireAt %s is not in the future: %w", o.ExpireAt.Format(time.RFC3339), orderbook.ErrInvalidOrder)
	}

	mkt, err := e.resolveMarket(req.Symbol)
	if err != nil {
		return nil, err
	}
	var limit *decimal.Decimal
	if p, ok := o.LimitPrice(); ok {
		limit = &p
	}
	if err := mkt.ValidateOrder(limit, o.Amount); err != nil {
		return nil, fmt.Errorf("%w: %w", orderbook.ErrInvalidOrder, err)
	}
	if e.cfg.PrecheckBalances {
		if err := e.precheck(mkt, o); err != nil {
			return nil, err
		}
	}

	st := e.state(mkt.Symbol)
	st.mu.Lock()

	o.ID = uuid.NewString()
	o.Symbol = mkt.Symbol
	o.Seq = e.seq.Next()
	o.CreatedAt = now
	o.UpdatedAt = now

	res, touched := e.match(st, mkt, o, now)
	e.finish(st, o, now)
	e.recordOrder(o)

	// Events go out under the lock so each symbol's events reach the
	// publisher in commit order.
	e.emit(e.collectEvents(st, o, res, touched, now))
	res.Order = o.Clone()
	st.mu.Unlock()

	e.logger.Infow("order_placed",
		"order_id", o.ID, "trader", o.Trader, "symbol", o.Symbol,
		"side", o.Side.String(), "kind", o.Kind.String(), "tif", o.TimeInForce.String(),
		"amount", o.Amount.String(), "price", priceString(o),
		"filled", res.Order.Filled.String(), "status", res.Order.Status.String(),
		"trades", len(res.Trades))
	return res, nil
}

// precheck rejects an order its trader could not settle in full right now.
// Market buys have no price bound and are not checked.
func (e *Engine) precheck(mkt *market.Market, o *orderbook.Order) error {
	currency, need := mkt.BaseAsset, o.Amount
	if o.Side == orderbook.Buy {
		p, ok := o.LimitPrice()
		if !ok {
			return nil
		}
		currency, need = mkt.QuoteAsset, o.Amount.Mul(p)
	}
	if e.ledger.CanCover(o.Trader, currency, need) {
		return nil
	}
	return &ledger.InsufficientBalanceError{
		Trader: o.Trader, Currency: currency, Have: e.ledger.Balance(o.Trader, currency), Need: need,
	}
}

// crosses reports whether a taker may trade at the maker's price.
func crosses(taker, maker *orderbook.Order) bool {
	limit, ok := taker.LimitPrice()
	if !ok {
		return true
	}
	price := maker.Price.Decimal
	if taker.Side == orderbook.Buy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// nextMaker returns the highest-priority resting order opposite taker that
// has not been skipped in this placement.
func nextMaker(book *orderbook.OrderBook, taker *orderbook.Order, skipped map[string]bool) (*orderbook.Order, bool) {
	if len(skipped) == 0 {
		return book.Best(taker.Side.Opposite())
	}
	var found *orderbook.Order
	book.Walk(taker.Side.Opposite(), func(o *orderbook.Order) bool {
		if skipped[o.ID] {
			return true
		}
		found = o
		return false
	})
	return found, found != nil
}

// match runs the matching loop for taker. Caller holds st.mu exclusively.
// touched lists makers whose fill changed, in match order.
func (e *Engine) match(st *symbolState, mkt *market.Market, taker *orderbook.Order, now time.Time) (*PlaceResult, []*orderbook.Order) {
	res := &PlaceResult{}
	var touched []*orderbook.Order
	var skipped map[string]bool

	for taker.Remaining().IsPositive() {
		maker, ok := nextMaker(st.book, taker, skipped)
		if !ok || !crosses(taker, maker) {
			break
		}

		amount := decimal.Min(taker.Remaining(), maker.Remaining())
		price := maker.Price.Decimal
		s := ledger.Settlement{Base: mkt.BaseAsset, Quote: mkt.QuoteAsset, Amount: amount, Price: price}
		if taker.Side == orderbook.Buy {
			s.Buyer, s.Seller = taker.Trader, maker.Trader
		} else {
			s.Buyer, s.Seller = maker.Trader, taker.Trader
		}

		if err := e.ledger.Settle(s); err != nil {
			if e.cfg.FailurePolicy == SkipCounterparty && makerAtFault(err, taker, maker) {
				if skipped == nil {
					skipped = make(map[string]bool)
				}
				skipped[maker.ID] = true
				e.logger.Warnw("settlement_skipped",
					"taker_id", taker.ID, "maker_id", maker.ID, "maker", maker.Trader,
					"amount", amount.String(), "price", price.String(), "error", err)
				continue
			}
			res.Halted = err
			if errors.Is(err, ledger.ErrLedgerInvariant) {
				e.logger.Errorw("settlement_invariant_violation", "taker_id", taker.ID, "maker_id", maker.ID, "error", err)
			} else {
				e.logger.Warnw("settlement_failed_matching_halted",
					"taker_id", taker.ID, "maker_id", maker.ID,
					"amount", amount.String(), "price", price.String(), "error", err)
			}
			break
		}

		trade := orderbook.Trade{
			ID:        uuid.NewString(),
			Symbol:    mkt.Symbol,
			Price:     price,
			Amount:    amount,
			Buyer:     s.Buyer,
			Seller:    s.Seller,
			TakerSide: taker.Side,
			Seq:       e.seq.Next(),
			Timestamp: now,
		}
		if taker.Side == orderbook.Buy {
			trade.BuyOrderID, trade.SellOrderID = taker.ID, maker.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = maker.ID, taker.ID
		}

		// amount never exceeds either remainder, so these cannot fail on a
		// consistent book.
		if err := taker.ApplyFill(amount, trade.ID, now); err != nil {
			panic(fmt.Sprintf("matching: taker fill after settlement: %v", err))
		}
		if err := maker.ApplyFill(amount, trade.ID, now); err != nil {
			panic(fmt.Sprintf("matching: maker fill after settlement: %v", err))
		}
		if maker.Status == orderbook.StatusFilled {
			st.book.Remove(maker.ID)
		}

		st.appendTrade(trade, e.cfg.RecentTradesCap)
		e.tradeCount.Add(1)
		res.Trades = append(res.Trades, trade)
		touched = append(touched, maker)

		e.logger.Debugw("trade_executed",
			"trade_id", trade.ID, "symbol", trade.Symbol, "price", price.String(), "amount", amount.String(),
			"buyer", trade.Buyer, "seller", trade.Seller)
	}
	return res, touched
}

// makerAtFault reports whether a failed settlement is attributable solely to
// the resting side.
func makerAtFault(err error, taker, maker *orderbook.Order) bool {
	var ib *ledger.InsufficientBalanceError
	if !errors.As(err, &ib) {
		return false
	}
	return ib.Trader == maker.Trader && maker.Trader != taker.Trader
}

// finish settles what happens to the taker's remainder. A limit remainder
// rests as PENDING or PARTIAL unless it is IOC; market remainders end UNFILLED.
// With CloseCrossingRemainder set, a limit remainder that still crosses the
// opposite side ends UNFILLED too.
func (e *Engine) finish(st *symbolState, taker *orderbook.Order, now time.Time) {
	if taker.Status == orderbook.StatusFilled {
		return
	}
	rest := taker.Kind == orderbook.Limit && taker.TimeInForce != orderbook.IOC
	if rest && e.cfg.CloseCrossingRemainder {
		if best, ok := st.book.Best(taker.Side.Opposite()); ok && crosses(taker, best) {
			rest = false
		}
	}
	if rest {
		if err := st.book.Insert(taker); err != nil {
			panic(fmt.Sprintf("matching: rest order %s: %v", taker.ID, err))
		}
		return
	}
	if err := taker.Close(orderbook.StatusUnfilled, now); err != nil {
		panic(fmt.Sprintf("matching: close order %s: %v", taker.ID, err))
	}
	e.logger.Infow("order_unfilled", "order_id", taker.ID, "filled", taker.Filled.String(), "remaining", taker.Remaining().String())
}

func (st *symbolState) appendTrade(t orderbook.Trade, limit int) {
	st.trades = append(st.trades, t)
	if limit > 0 && len(st.trades) > limit {
		st.trades = st.trades[len(st.trades)-limit:]
	}
}

// collectEvents snapshots the placement's effects, each with its own sequence
// number. Caller holds st.mu.
func (e *Engine) collectEvents(st *symbolState, taker *orderbook.Order, res *PlaceResult, makers []*orderbook.Order, now time.Time) []events.Event {
	evs := make([]events.Event, 0, 2*len(res.Trades)+2)
	for _, t := range res.Trades {
		evs = append(evs, events.NewTradeEvent(t.Seq, t))
	}
	for _, m := range makers {
		evs = append(evs, events.NewOrderEvent(e.seq.Next(), m))
	}
	evs = append(evs, events.NewOrderEvent(e.seq.Next(), taker))
	return append(evs, e.bookEvent(st, now))
}

func (e *Engine) bookEvent(st *symbolState, now time.Time) events.Event {
	depth := e.cfg.BookEventDepth
	return events.NewBookEvent(e.seq.Next(), st.book.Symbol, now,
		st.book.Levels(orderbook.Buy, depth), st.book.Levels(orderbook.Sell, depth))
}

func (e *Engine) emit(evs []events.Event) {
	for _, ev := range evs {
		e.publisher.Publish(ev)
	}
}

func priceString(o *orderbook.Order) string {
	if p, ok := o.LimitPrice(); ok {
		return p.String()
	}
	return "market"
}
