package marketview

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/ledger"
	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/util"
)

const sym = "ETH/USDC"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t *testing.T) *matching.Engine {
	t.Helper()
	l := ledger.New(nil)
	for _, tr := range []string{"maker", "taker"} {
		if err := l.Deposit(tr, "ETH", d("100")); err != nil {
			t.Fatal(err)
		}
		if err := l.Deposit(tr, "USDC", d("1000000")); err != nil {
			t.Fatal(err)
		}
	}
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	return matching.New(l, market.NewMarketRegistry(), matching.DefaultConfig(), matching.WithClock(clock))
}

func place(t *testing.T, e *matching.Engine, trader string, side orderbook.Side, amount, price string) {
	t.Helper()
	req := matching.PlaceRequest{Trader: trader, Symbol: sym, Side: side, Kind: orderbook.Market, Amount: d(amount)}
	if price != "" {
		req.Kind = orderbook.Limit
		req.Price = decimal.NewNullDecimal(d(price))
	}
	if _, err := e.PlaceOrder(req); err != nil {
		t.Fatalf("place: %v", err)
	}
}

func TestDepthSnapshot(t *testing.T) {
	e := newEngine(t)
	place(t, e, "maker", orderbook.Sell, "1", "2010")
	place(t, e, "maker", orderbook.Sell, "2", "2000")
	place(t, e, "maker", orderbook.Sell, "3", "2000")
	place(t, e, "maker", orderbook.Buy, "1", "1990")
	place(t, e, "maker", orderbook.Buy, "1", "1980")
	place(t, e, "maker", orderbook.Buy, "1", "1970")

	v := New(e)
	depth, err := v.DepthSnapshot(sym, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(depth.Asks) != 2 || len(depth.Bids) != 2 {
		t.Fatalf("levels = %d asks / %d bids, want 2/2", len(depth.Asks), len(depth.Bids))
	}
	top := depth.Asks[0]
	if !top.Price.Equal(d("2000")) || !top.Amount.Equal(d("5")) || !top.Notional.Equal(d("10000")) || top.Orders != 2 {
		t.Errorf("best ask level = %+v", top)
	}
	if !depth.Bids[0].Price.Equal(d("1990")) || !depth.Bids[1].Price.Equal(d("1980")) {
		t.Errorf("bids not best first: %s, %s", depth.Bids[0].Price, depth.Bids[1].Price)
	}

	full, _ := v.DepthSnapshot(sym, 0)
	if len(full.Bids) != 3 {
		t.Errorf("default depth bids = %d, want 3", len(full.Bids))
	}
}

func TestDepthSnapshotDoesNotMutate(t *testing.T) {
	e := newEngine(t)
	place(t, e, "maker", orderbook.Sell, "1", "2000")
	v := New(e)
	before := e.Stats()
	for i := 0; i < 3; i++ {
		if _, err := v.DepthSnapshot(sym, 5); err != nil {
			t.Fatal(err)
		}
		if _, err := v.MarketStats(sym); err != nil {
			t.Fatal(err)
		}
	}
	if after := e.Stats(); after != before {
		t.Errorf("stats changed after reads: %+v -> %+v", before, after)
	}
}

func TestRecentTradesNewestFirst(t *testing.T) {
	e := newEngine(t)
	for _, p := range []string{"2000", "2001", "2002", "2003"} {
		place(t, e, "maker", orderbook.Sell, "1", p)
	}
	for i := 0; i < 4; i++ {
		place(t, e, "taker", orderbook.Buy, "1", "")
	}

	v := New(e)
	trades, err := v.RecentTrades(sym, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("trades = %d, want 3", len(trades))
	}
	want := []string{"2003", "2002", "2001"}
	for i, tr := range trades {
		if !tr.Price.Equal(d(want[i])) {
			t.Errorf("trade %d price = %s, want %s", i, tr.Price, want[i])
		}
	}
	all, _ := v.RecentTrades(sym, 100)
	if len(all) != 4 {
		t.Errorf("all trades = %d, want 4", len(all))
	}
}

func TestMarketStats(t *testing.T) {
	e := newEngine(t)
	place(t, e, "maker", orderbook.Sell, "1", "2000")
	place(t, e, "maker", orderbook.Sell, "1", "2100")
	place(t, e, "maker", orderbook.Sell, "1", "1900")
	place(t, e, "taker", orderbook.Buy, "3", "")
	place(t, e, "maker", orderbook.Buy, "2", "1800")
	place(t, e, "maker", orderbook.Sell, "4", "1850")

	v := New(e, WithStatsWindow(2))
	s, err := v.MarketStats(sym)
	if err != nil {
		t.Fatal(err)
	}
	// trades executed at 1900, 2000, 2100; the window keeps the last two
	if s.TradeCount != 2 || !s.Volume.Equal(d("2")) {
		t.Errorf("count=%d volume=%s", s.TradeCount, s.Volume)
	}
	if !s.High.Decimal.Equal(d("2100")) || !s.Low.Decimal.Equal(d("2000")) || !s.LastPrice.Decimal.Equal(d("2100")) {
		t.Errorf("high=%s low=%s last=%s", s.High.Decimal, s.Low.Decimal, s.LastPrice.Decimal)
	}
	if !s.QuoteVolume.Equal(d("4100")) || !s.Change.Decimal.Equal(d("100")) {
		t.Errorf("quote volume=%s change=%s", s.QuoteVolume, s.Change.Decimal)
	}
	if !s.Spread.Valid || !s.Spread.Decimal.Equal(d("50")) || !s.MidPrice.Decimal.Equal(d("1825")) {
		t.Errorf("spread=%v mid=%v", s.Spread, s.MidPrice)
	}
	if s.BidOrders != 1 || s.AskOrders != 1 || !s.AskDepth.Equal(d("4")) {
		t.Errorf("book counts = %+v", s)
	}
}

func TestMarketStatsEmptyBook(t *testing.T) {
	e := newEngine(t)
	if err := e.Markets().RegisterMarket(mustMarket(t, sym)); err != nil {
		t.Fatal(err)
	}
	s, err := New(e).MarketStats(sym)
	if err != nil {
		t.Fatal(err)
	}
	if s.Spread.Valid || s.LastPrice.Valid || s.TradeCount != 0 {
		t.Errorf("empty market stats = %+v", s)
	}
}

func TestUnknownSymbol(t *testing.T) {
	v := New(newEngine(t))
	if _, err := v.DepthSnapshot("NOPE/USDC", 10); !errors.Is(err, market.ErrMarketNotFound) {
		t.Errorf("depth: got %v", err)
	}
	if _, err := v.RecentTrades("NOPE/USDC", 10); !errors.Is(err, market.ErrMarketNotFound) {
		t.Errorf("trades: got %v", err)
	}
	if _, err := v.MarketStats("NOPE/USDC"); !errors.Is(err, market.ErrMarketNotFound) {
		t.Errorf("stats: got %v", err)
	}
}

func TestAllStats(t *testing.T) {
	e := newEngine(t)
	place(t, e, "maker", orderbook.Sell, "1", "2000")
	sum, err := New(e).AllStats()
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Markets) != 1 || sum.Engine.Orders != 1 || sum.Engine.Traders != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

func mustMarket(t *testing.T, symbol string) *market.Market {
	t.Helper()
	m, err := market.NewMarketWithDefaults(symbol)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
