package matching

import (
	"fmt"
	"sort"
	"time"

	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/events"
)

// CancelOrder removes a live order owned by trader from its book and marks it
// CANCELLED. It runs under the symbol lock, so it either sees the order fully
// matched (ErrNotCancellable) or removes it before any further match.
func (e *Engine) CancelOrder(orderID, trader string) (*orderbook.Order, error) {
	e.ordersMu.RLock()
	o, ok := e.orders[orderID]
	e.ordersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, ErrOrderNotFound)
	}

	st, _ := e.lookupState(o.Symbol)
	st.mu.Lock()
	if o.Trader != trader {
		st.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", orderID, ErrNotOwner)
	}
	if o.Status.Terminal() {
		status := o.Status
		st.mu.Unlock()
		return nil, fmt.Errorf("%s is %s: %w", orderID, status, ErrNotCancellable)
	}

	now := e.clock.Now()
	st.book.Remove(o.ID)
	if err := o.Close(orderbook.StatusCancelled, now); err != nil {
		st.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrNotCancellable)
	}
	e.emit([]events.Event{
		events.NewOrderEvent(e.seq.Next(), o),
		e.bookEvent(st, now),
	})
	cp := o.Clone()
	st.mu.Unlock()

	e.logger.Infow("order_cancelled", "order_id", o.ID, "trader", trader, "symbol", o.Symbol,
		"filled", cp.Filled.String(), "remaining", cp.Remaining().String())
	return cp, nil
}

// ExpireOrders moves every resting GTD order whose ExpireAt is at or before now
// to EXPIRED and takes it off the book. It returns the number expired.
func (e *Engine) ExpireOrders(now time.Time) int {
	e.symbolsMu.RLock()
	symbols := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		symbols = append(symbols, sym)
	}
	e.symbolsMu.RUnlock()
	sort.Strings(symbols)

	total := 0
	for _, sym := range symbols {
		st, _ := e.lookupState(sym)
		st.mu.Lock()
		var due []*orderbook.Order
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			st.book.Walk(side, func(o *orderbook.Order) bool {
				if o.TimeInForce == orderbook.GTD && !o.ExpireAt.After(now) {
					due = append(due, o)
				}
				return true
			})
		}
		if len(due) == 0 {
			st.mu.Unlock()
			continue
		}
		evs := make([]events.Event, 0, len(due)+1)
		for _, o := range due {
			st.book.Remove(o.ID)
			if err := o.Close(orderbook.StatusExpired, now); err != nil {
				e.logger.Errorw("order_expire_failed", "order_id", o.ID, "error", err)
				continue
			}
			evs = append(evs, events.NewOrderEvent(e.seq.Next(), o))
		}
		expired := len(evs)
		evs = append(evs, e.bookEvent(st, now))
		e.emit(evs)
		st.mu.Unlock()

		total += expired
		e.logger.Infow("orders_expired", "symbol", sym, "count", expired)
	}
	return total
}
