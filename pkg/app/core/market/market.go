package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMarketNotFound  = errors.New("market not found")
	ErrMarketExists    = errors.New("market already registered")
	ErrMarketNotActive = errors.New("market not active")
	ErrInvalidSymbol   = errors.New("invalid symbol")
)

// MarketStatus defines the trading status of a market
type MarketStatus int8

const (
	Active MarketStatus = iota // Trading enabled
	Paused                     // Trading halted, book retained
	Closed                     // Terminal
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Market defines a spot pair (e.g. ETH/USDC).
type Market struct {
	Symbol     string // "ETH/USDC"
	BaseAsset  string // "ETH"
	QuoteAsset string // "USDC"
	Status     MarketStatus

	// TickSize is the minimum price increment; zero means any precision.
	TickSize decimal.Decimal
	// LotSize is the minimum amount increment; zero means any precision.
	LotSize decimal.Decimal
	// MinAmount rejects dust orders; zero disables the check.
	MinAmount decimal.Decimal
}

// Params holds the optional precision and size limits of a market.
type Params struct {
	TickSize  decimal.Decimal
	LotSize   decimal.Decimal
	MinAmount decimal.Decimal
}

// ParseSymbol splits "BASE/QUOTE" (or "BASE-QUOTE") into its assets.
func ParseSymbol(symbol string) (base, quote string, err error) {
	sep := "/"
	if !strings.Contains(symbol, sep) {
		sep = "-"
	}
	parts := strings.Split(symbol, sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%q: %w (want BASE/QUOTE)", symbol, ErrInvalidSymbol)
	}
	if parts[0] == parts[1] {
		return "", "", fmt.Errorf("%q: base equals quote: %w", symbol, ErrInvalidSymbol)
	}
	return parts[0], parts[1], nil
}

// NewMarket creates an Active market for symbol with validation.
func NewMarket(symbol string, params Params) (*Market, error) {
	base, quote, err := ParseSymbol(symbol)
	if err != nil {
		return nil, err
	}
	m := &Market{
		Symbol:     symbol,
		BaseAsset:  base,
		QuoteAsset: quote,
		Status:     Active,
		TickSize:   params.TickSize,
		LotSize:    params.LotSize,
		MinAmount:  params.MinAmount,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// NewMarketWithDefaults creates a market with no precision limits.
func NewMarketWithDefaults(symbol string) (*Market, error) {
	return NewMarket(symbol, Params{})
}

// Validate checks market parameter sanity
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.TickSize.IsNegative() {
		return fmt.Errorf("tick size cannot be negative")
	}
	if m.LotSize.IsNegative() {
		return fmt.Errorf("lot size cannot be negative")
	}
	if m.MinAmount.IsNegative() {
		return fmt.Errorf("min amount cannot be negative")
	}
	return nil
}

// ValidateOrder checks an order's amount (and price, if non-nil) against the market's rules.
func (m *Market) ValidateOrder(price *decimal.Decimal, amount decimal.Decimal) error {
	if m.Status != Active {
		return fmt.Errorf("%s is %s: %w", m.Symbol, m.Status, ErrMarketNotActive)
	}
	if !m.LotSize.IsZero() && !amount.Mod(m.LotSize).IsZero() {
		return fmt.Errorf("amount %s not a multiple of lot size %s", amount, m.LotSize)
	}
	if !m.MinAmount.IsZero() && amount.LessThan(m.MinAmount) {
		return fmt.Errorf("amount %s below minimum %s", amount, m.MinAmount)
	}
	if price != nil && !m.TickSize.IsZero() && !price.Mod(m.TickSize).IsZero() {
		return fmt.Errorf("price %s not a multiple of tick size %s", price, m.TickSize)
	}
	return nil
}
