package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/util"
)

// Settlement is a prospective exchange of Amount base for Amount×Price quote.
type Settlement struct {
	Buyer  string
	Seller string
	Base   string
	Quote  string
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// Notional returns Amount × Price in quote currency.
func (s Settlement) Notional() decimal.Decimal {
	return s.Amount.Mul(s.Price)
}

type balanceKey struct {
	trader   string
	currency string
}

// Ledger holds per-trader, per-currency balances.
// Every mutation runs under a single writer lock, so a check and the transfer that
// follows it can never interleave with another settlement touching the same balance.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[string]decimal.Decimal // trader -> currency -> amount

	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Ledger {
	if logger == nil {
		logger = util.NopSugar()
	}
	return &Ledger{
		balances: make(map[string]map[string]decimal.Decimal),
		logger:   logger,
	}
}

// Deposit credits amount to trader's currency balance.
func (l *Ledger) Deposit(trader, currency string, amount decimal.Decimal) error {
	if currency == "" {
		return ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return fmt.Errorf("deposit %s: %w", amount.String(), ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.setLocked(trader, currency, l.getLocked(trader, currency).Add(amount))
	l.logger.Debugw("ledger_deposit", "trader", trader, "currency", currency, "amount", amount.String())
	return nil
}

// Withdraw debits amount from trader's currency balance.
// Returns an *InsufficientBalanceError if the balance cannot cover it.
func (l *Ledger) Withdraw(trader, currency string, amount decimal.Decimal) error {
	if currency == "" {
		return ErrInvalidCurrency
	}
	if !amount.IsPositive() {
		return fmt.Errorf("withdraw %s: %w", amount.String(), ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.getLocked(trader, currency)
	if have.LessThan(amount) {
		return &InsufficientBalanceError{Trader: trader, Currency: currency, Have: have, Need: amount}
	}
	l.setLocked(trader, currency, have.Sub(amount))
	l.logger.Debugw("ledger_withdraw", "trader", trader, "currency", currency, "amount", amount.String())
	return nil
}

// Settle applies a trade: the buyer pays Amount×Price quote and receives Amount base,
// the seller the reverse. Either every balance changes or none does.
func (l *Ledger) Settle(s Settlement) error {
	if !s.Amount.IsPositive() || !s.Price.IsPositive() {
		return fmt.Errorf("settle amount=%s price=%s: %w", s.Amount.String(), s.Price.String(), ErrInvalidAmount)
	}
	if s.Base == "" || s.Quote == "" {
		return ErrInvalidCurrency
	}
	notional := s.Notional()

	l.mu.Lock()
	defer l.mu.Unlock()

	if have := l.getLocked(s.Buyer, s.Quote); have.LessThan(notional) {
		return &InsufficientBalanceError{Trader: s.Buyer, Currency: s.Quote, Have: have, Need: notional}
	}
	if have := l.getLocked(s.Seller, s.Base); have.LessThan(s.Amount) {
		return &InsufficientBalanceError{Trader: s.Seller, Currency: s.Base, Have: have, Need: s.Amount}
	}

	// Stage all four legs first; buyer and seller may be the same trader.
	staged := make(map[balanceKey]decimal.Decimal, 4)
	stage := func(trader, currency string, delta decimal.Decimal) {
		k := balanceKey{trader, currency}
		cur, ok := staged[k]
		if !ok {
			cur = l.getLocked(trader, currency)
		}
		staged[k] = cur.Add(delta)
	}
	stage(s.Buyer, s.Quote, notional.Neg())
	stage(s.Buyer, s.Base, s.Amount)
	stage(s.Seller, s.Base, s.Amount.Neg())
	stage(s.Seller, s.Quote, notional)

	for k, v := range staged {
		if v.IsNegative() {
			l.logger.Errorw("ledger_invariant_violation", "trader", k.trader, "currency", k.currency, "balance", v.String())
			return fmt.Errorf("%s/%s would be %s: %w", k.trader, k.currency, v.String(), ErrLedgerInvariant)
		}
	}
	for k, v := range staged {
		l.setLocked(k.trader, k.currency, v)
	}
	return nil
}

// CanCover reports whether trader currently holds at least amount of currency.
// The answer is advisory; only Settle and Withdraw are authoritative.
func (l *Ledger) CanCover(trader, currency string, amount decimal.Decimal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.getLocked(trader, currency).LessThan(amount)
}

// Balance returns trader's balance in currency (zero if none).
func (l *Ledger) Balance(trader, currency string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(trader, currency)
}

// Balances returns a copy of all of trader's balances.
func (l *Ledger) Balances(trader string) map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(l.balances[trader]))
	for cur, amt := range l.balances[trader] {
		out[cur] = amt
	}
	return out
}

// Total sums currency across all traders.
func (l *Ledger) Total(currency string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, byCur := range l.balances {
		total = total.Add(byCur[currency])
	}
	return total
}

// Traders returns all traders that have ever held a balance, sorted.
func (l *Ledger) Traders() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.balances))
	for t := range l.balances {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TraderCount returns the number of traders with a ledger entry.
func (l *Ledger) TraderCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}

// Validate checks that no balance is negative.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for trader, byCur := range l.balances {
		for cur, amt := range byCur {
			if amt.IsNegative() {
				return fmt.Errorf("negative %s balance for %s: %s: %w", cur, trader, amt.String(), ErrLedgerInvariant)
			}
		}
	}
	return nil
}

func (l *Ledger) getLocked(trader, currency string) decimal.Decimal {
	if byCur, ok := l.balances[trader]; ok {
		return byCur[currency]
	}
	return decimal.Zero
}

func (l *Ledger) setLocked(trader, currency string, amount decimal.Decimal) {
	byCur, ok := l.balances[trader]
	if !ok {
		byCur = make(map[string]decimal.Decimal)
		l.balances[trader] = byCur
	}
	byCur[currency] = amount
}
