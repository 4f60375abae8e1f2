package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// Archive is an append-mostly audit log of trades and order states on Pebble.
// It is fed from the event bus after commit and is never read back into the
// engine.
type Archive struct {
	db *pebble.DB
}

// OpenArchive opens (or creates) a Pebble database at path.
func OpenArchive(path string) (*Archive, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveTrade persists a trade
func (a *Archive) SaveTrade(t *orderbook.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade: %w", err)
	}
	if err := a.db.Set(tradeKey(t.Symbol, t.Seq, t.ID), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// SaveOrder persists the latest state of an order, replacing earlier states.
func (a *Archive) SaveOrder(o *orderbook.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	key := orderKey(o.Trader, o.Seq, o.ID)

	batch := a.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, data, nil); err != nil {
		return err
	}
	if err := batch.Set(orderIDKey(o.ID), key, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// LoadOrder loads an order by id.
// Returns nil if the order was never archived.
func (a *Archive) LoadOrder(orderID string) (*orderbook.Order, error) {
	key, err := a.get(orderIDKey(orderID))
	if err != nil || key == nil {
		return nil, err
	}
	data, err := a.get(key)
	if err != nil || data == nil {
		return nil, err
	}
	var o orderbook.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &o, nil
}

// LoadOrders loads every archived order of trader, oldest first.
func (a *Archive) LoadOrders(trader string) ([]*orderbook.Order, error) {
	prefix := orderPrefix(trader)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*orderbook.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o orderbook.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // Skip invalid entries
		}
		orders = append(orders, &o)
	}
	return orders, iter.Error()
}

// LoadRecentTrades loads the most recent N trades for a symbol
// Trades are returned in reverse commit order (newest first)
func (a *Archive) LoadRecentTrades(symbol string, limit int) ([]*orderbook.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*orderbook.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t orderbook.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, &t)
	}
	return trades, iter.Error()
}

// Flush syncs buffered writes to disk.
func (a *Archive) Flush() error {
	return a.db.Flush()
}

func (a *Archive) get(key []byte) ([]byte, error) {
	val, closer, err := a.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}
