package market

import (
	"fmt"
	"sort"
	"sync"
)

// MarketRegistry manages multiple markets in a thread-safe manner
type MarketRegistry struct {
	mu      sync.RWMutex
	markets map[string]*Market // symbol -> market
}

// NewMarketRegistry creates an empty market registry
func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		markets: make(map[string]*Market),
	}
}

// RegisterMarket adds a new market to the registry
// Returns error if market with same symbol already exists
func (mr *MarketRegistry) RegisterMarket(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, exists := mr.markets[m.Symbol]; exists {
		return fmt.Errorf("%s: %w", m.Symbol, ErrMarketExists)
	}

	mr.markets[m.Symbol] = m
	return nil
}

// GetMarket retrieves a market by symbol
func (mr *MarketRegistry) GetMarket(symbol string) (*Market, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	m, exists := mr.markets[symbol]
	if !exists {
		return nil, fmt.Errorf("%s: %w", symbol, ErrMarketNotFound)
	}

	return m, nil
}

// GetOrCreate returns the market for symbol, registering a default one if absent.
func (mr *MarketRegistry) GetOrCreate(symbol string) (*Market, bool, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if m, exists := mr.markets[symbol]; exists {
		return m, false, nil
	}
	m, err := NewMarketWithDefaults(symbol)
	if err != nil {
		return nil, false, err
	}
	mr.markets[symbol] = m
	return m, true, nil
}

// ListMarkets returns all registered markets sorted by symbol
func (mr *MarketRegistry) ListMarkets() []*Market {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	markets := make([]*Market, 0, len(mr.markets))
	for _, m := range mr.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })

	return markets
}

// UpdateMarketStatus changes the trading status of a market
func (mr *MarketRegistry) UpdateMarketStatus(symbol string, status MarketStatus) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, exists := mr.markets[symbol]
	if !exists {
		return fmt.Errorf("%s: %w", symbol, ErrMarketNotFound)
	}

	if m.Status == Closed {
		return fmt.Errorf("cannot change status of %s from Closed (terminal state)", symbol)
	}

	// Copy-on-write: callers holding the old *Market never observe a torn update.
	cp := *m
	cp.Status = status
	mr.markets[symbol] = &cp
	return nil
}

// Count returns the total number of registered markets
func (mr *MarketRegistry) Count() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.markets)
}

// Exists checks if a market is registered
func (mr *MarketRegistry) Exists(symbol string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, exists := mr.markets[symbol]
	return exists
}
