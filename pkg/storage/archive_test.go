package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/events"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func trade(seq uint64, symbol, price string) *orderbook.Trade {
	return &orderbook.Trade{
		ID:        fmt.Sprintf("t-%d", seq),
		Symbol:    symbol,
		Price:     decimal.RequireFromString(price),
		Amount:    decimal.NewFromInt(1),
		Buyer:     "b",
		Seller:    "s",
		TakerSide: orderbook.Buy,
		Seq:       seq,
		Timestamp: time.Unix(int64(seq), 0).UTC(),
	}
}

func TestLoadRecentTradesNewestFirst(t *testing.T) {
	a := openTestArchive(t)
	// seq 9 and 10 must sort numerically, not lexically
	for _, seq := range []uint64{1, 2, 9, 10} {
		if err := a.SaveTrade(trade(seq, "ETH/USDC", "2000")); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.SaveTrade(trade(11, "BTC/USDC", "60000")); err != nil {
		t.Fatal(err)
	}

	got, err := a.LoadRecentTrades("ETH/USDC", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("trades = %d, want 3", len(got))
	}
	for i, want := range []uint64{10, 9, 2} {
		if got[i].Seq != want {
			t.Errorf("trade %d seq = %d, want %d", i, got[i].Seq, want)
		}
	}
	if got[0].TakerSide != orderbook.Buy || !got[0].Price.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("round trip lost fields: %+v", got[0])
	}
}

func TestSaveOrderKeepsLatestState(t *testing.T) {
	a := openTestArchive(t)
	o := &orderbook.Order{
		ID: "o-1", Trader: "0xabc", Symbol: "ETH/USDC", Side: orderbook.Sell, Kind: orderbook.Limit,
		Amount: decimal.NewFromInt(2), Price: decimal.NewNullDecimal(decimal.NewFromInt(2000)), Seq: 5,
	}
	if err := a.SaveOrder(o); err != nil {
		t.Fatal(err)
	}
	o.Filled = decimal.NewFromInt(2)
	o.Status = orderbook.StatusFilled
	if err := a.SaveOrder(o); err != nil {
		t.Fatal(err)
	}
	other := &orderbook.Order{ID: "o-2", Trader: "0xabc", Symbol: "ETH/USDC", Side: orderbook.Buy, Kind: orderbook.Market, Amount: decimal.NewFromInt(1), Seq: 7}
	if err := a.SaveOrder(other); err != nil {
		t.Fatal(err)
	}

	orders, err := a.LoadOrders("0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 || orders[0].ID != "o-1" {
		t.Fatalf("orders = %d, want 2 oldest first", len(orders))
	}
	if orders[0].Status != orderbook.StatusFilled || orders[1].Price.Valid {
		t.Errorf("decoded = %s / price valid %v", orders[0].Status, orders[1].Price.Valid)
	}

	loaded, err := a.LoadOrder("o-1")
	if err != nil || loaded == nil || loaded.Status != orderbook.StatusFilled {
		t.Errorf("load by id = %+v, %v", loaded, err)
	}
	missing, err := a.LoadOrder("nope")
	if err != nil || missing != nil {
		t.Errorf("missing order = %+v, %v", missing, err)
	}
	if none, _ := a.LoadOrders("0xabd"); len(none) != 0 {
		t.Errorf("prefix leaked into neighbouring trader: %d", len(none))
	}
}

func TestSinkArchivesEvents(t *testing.T) {
	a := openTestArchive(t)
	sink := NewSink(a)
	ctx := context.Background()

	tr := trade(3, "ETH/USDC", "1999.5")
	o := &orderbook.Order{ID: "o-9", Trader: "0xdef", Symbol: "ETH/USDC", Side: orderbook.Buy, Kind: orderbook.Market, Amount: decimal.NewFromInt(1), Seq: 2}
	for _, ev := range []events.Event{
		events.NewTradeEvent(3, *tr),
		events.NewOrderEvent(4, o),
		events.NewBookEvent(5, "ETH/USDC", time.Now(), nil, nil),
	} {
		if err := sink.Handle(ctx, ev); err != nil {
			t.Fatalf("handle %s: %v", ev.Type, err)
		}
	}

	if trades, _ := a.LoadRecentTrades("ETH/USDC", 10); len(trades) != 1 {
		t.Errorf("archived trades = %d, want 1", len(trades))
	}
	if got, _ := a.LoadOrder("o-9"); got == nil {
		t.Error("order event not archived")
	}
}
