package market

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		symbol    string
		base      string
		quote     string
		wantError bool
	}{
		{"ETH/USDC", "ETH", "USDC", false},
		{"BTC-USDT", "BTC", "USDT", false},
		{"ETHUSDC", "", "", true},
		{"ETH/", "", "", true},
		{"A/B/C", "", "", true},
		{"USDC/USDC", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			base, quote, err := ParseSymbol(tt.symbol)
			if tt.wantError {
				if !errors.Is(err, ErrInvalidSymbol) {
					t.Errorf("expected ErrInvalidSymbol, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if base != tt.base || quote != tt.quote {
				t.Errorf("got %s/%s, want %s/%s", base, quote, tt.base, tt.quote)
			}
		})
	}
}

func TestValidateOrder(t *testing.T) {
	m, err := NewMarket("ETH/USDC", Params{
		TickSize:  decimal.RequireFromString("0.01"),
		LotSize:   decimal.RequireFromString("0.001"),
		MinAmount: decimal.RequireFromString("0.01"),
	})
	if err != nil {
		t.Fatalf("new market: %v", err)
	}

	price := decimal.RequireFromString("2000.01")
	badPrice := decimal.RequireFromString("2000.005")

	if err := m.ValidateOrder(&price, decimal.RequireFromString("0.5")); err != nil {
		t.Errorf("valid order rejected: %v", err)
	}
	if err := m.ValidateOrder(&badPrice, decimal.RequireFromString("0.5")); err == nil {
		t.Error("expected tick size violation")
	}
	if err := m.ValidateOrder(nil, decimal.RequireFromString("0.0005")); err == nil {
		t.Error("expected lot size violation")
	}
	if err := m.ValidateOrder(nil, decimal.RequireFromString("0.005")); err == nil {
		t.Error("expected min amount violation")
	}

	m.Status = Paused
	if err := m.ValidateOrder(&price, decimal.RequireFromString("1")); !errors.Is(err, ErrMarketNotActive) {
		t.Errorf("expected ErrMarketNotActive, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	mr := NewMarketRegistry()
	m, _ := NewMarketWithDefaults("ETH/USDC")

	if err := mr.RegisterMarket(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mr.RegisterMarket(m); !errors.Is(err, ErrMarketExists) {
		t.Errorf("expected ErrMarketExists, got %v", err)
	}
	if _, err := mr.GetMarket("BTC/USDC"); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}

	got, created, err := mr.GetOrCreate("BTC/USDC")
	if err != nil || !created || got.BaseAsset != "BTC" {
		t.Fatalf("GetOrCreate = %+v, %v, %v", got, created, err)
	}
	if _, created, _ := mr.GetOrCreate("BTC/USDC"); created {
		t.Error("second GetOrCreate should not create")
	}
	if mr.Count() != 2 {
		t.Errorf("count = %d, want 2", mr.Count())
	}
	if list := mr.ListMarkets(); list[0].Symbol != "BTC/USDC" {
		t.Errorf("markets not sorted: %s first", list[0].Symbol)
	}

	if err := mr.UpdateMarketStatus("ETH/USDC", Closed); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mr.UpdateMarketStatus("ETH/USDC", Active); err == nil {
		t.Error("expected error reopening closed market")
	}
}
