package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrLedgerInvariant means a balance would have gone negative. It is never expected
	// to surface; seeing it indicates an internal consistency bug.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidCurrency = errors.New("currency must not be empty")
)

// InsufficientBalanceError reports which trader/currency could not cover a debit.
type InsufficientBalanceError struct {
	Trader   string
	Currency string
	Have     decimal.Decimal
	Need     decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: have %s, need %s",
		e.Currency, e.Trader, e.Have.String(), e.Need.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
