package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/ledger"
	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/marketview"
	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/events"
)

const (
	alice = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	bob   = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
)

func newTestServer(t *testing.T) (*Server, *matching.Engine) {
	t.Helper()
	reg := market.NewMarketRegistry()
	m, err := market.NewMarketWithDefaults("ETH/USDC")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterMarket(m); err != nil {
		t.Fatal(err)
	}
	cfg := matching.DefaultConfig()
	cfg.AutoCreateMarkets = false
	engine := matching.New(ledger.New(nil), reg, cfg)
	return NewServer(engine, marketview.New(engine), Options{}), engine
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func fund(t *testing.T, s *Server, trader, currency, amount string) {
	t.Helper()
	rec := do(t, s, "POST", "/api/v1/accounts/"+trader+"/deposit", map[string]string{"currency": currency, "amount": amount})
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitAndQueryOrders(t *testing.T) {
	s, _ := newTestServer(t)
	fund(t, s, alice, "ETH", "2")
	fund(t, s, bob, "USDC", "5000")

	rec := do(t, s, "POST", "/api/v1/orders", map[string]string{
		"trader": alice, "symbol": "ETH/USDC", "side": "sell", "type": "limit", "amount": "2", "price": "2000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sell: %d %s", rec.Code, rec.Body.String())
	}
	sell := decode[SubmitOrderResponse](t, rec)
	if sell.Order.Status != orderbook.StatusPending || len(sell.Trades) != 0 {
		t.Errorf("sell = %+v", sell)
	}

	// lower-case address is accepted and checksummed
	rec = do(t, s, "POST", "/api/v1/orders", map[string]string{
		"trader": strings.ToLower(bob), "symbol": "ETH-USDC", "side": "buy", "type": "market", "amount": "1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", rec.Code, rec.Body.String())
	}
	buy := decode[SubmitOrderResponse](t, rec)
	if buy.Order.Status != orderbook.StatusFilled || len(buy.Trades) != 1 || buy.Order.Trader != bob {
		t.Errorf("buy = %+v", buy)
	}

	rec = do(t, s, "GET", "/api/v1/orders/"+sell.Order.ID, nil)
	got := decode[OrderInfo](t, rec)
	if got.Status != orderbook.StatusPartial || !got.Remaining.Equal(decimal.NewFromInt(1)) {
		t.Errorf("sell status = %s remaining = %s", got.Status, got.Remaining)
	}

	rec = do(t, s, "GET", "/api/v1/accounts/"+alice+"/orders?symbol=ETH-USDC", nil)
	if orders := decode[[]OrderInfo](t, rec); len(orders) != 1 {
		t.Errorf("alice orders = %d, want 1", len(orders))
	}

	rec = do(t, s, "GET", "/api/v1/markets/ETH-USDC/trades?limit=5", nil)
	if trades := decode[[]orderbook.Trade](t, rec); len(trades) != 1 || !trades[0].Price.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("trades = %+v", trades)
	}

	rec = do(t, s, "GET", "/api/v1/markets/ETH-USDC/orderbook?depth=5", nil)
	depth := decode[marketview.Depth](t, rec)
	if len(depth.Asks) != 1 || len(depth.Bids) != 0 {
		t.Errorf("depth = %+v", depth)
	}

	rec = do(t, s, "GET", "/api/v1/accounts/"+bob+"/balances", nil)
	bal := decode[BalancesResponse](t, rec)
	if !bal.Balances["USDC"].Equal(decimal.NewFromInt(3000)) || !bal.Balances["ETH"].Equal(decimal.NewFromInt(1)) {
		t.Errorf("bob balances = %v", bal.Balances)
	}
}

func TestCancelOrder(t *testing.T) {
	s, _ := newTestServer(t)
	fund(t, s, alice, "ETH", "1")
	rec := do(t, s, "POST", "/api/v1/orders", map[string]string{
		"trader": alice, "symbol": "ETH/USDC", "side": "sell", "type": "limit", "amount": "1", "price": "2000",
	})
	id := decode[SubmitOrderResponse](t, rec).Order.ID

	tests := []struct {
		name   string
		body   CancelOrderRequest
		status int
	}{
		{"wrong owner", CancelOrderRequest{OrderID: id, Trader: bob}, http.StatusForbidden},
		{"unknown order", CancelOrderRequest{OrderID: "nope", Trader: alice}, http.StatusNotFound},
		{"bad address", CancelOrderRequest{OrderID: id, Trader: "alice"}, http.StatusBadRequest},
		{"owner", CancelOrderRequest{OrderID: id, Trader: alice}, http.StatusOK},
		{"already cancelled", CancelOrderRequest{OrderID: id, Trader: alice}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/v1/orders/cancel", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestSubmitOrderRejections(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"bad json", "not an object", http.StatusBadRequest},
		{"bad side", map[string]string{"trader": alice, "symbol": "ETH/USDC", "side": "hold", "type": "market", "amount": "1"}, http.StatusBadRequest},
		{"bad trader", map[string]string{"trader": "0x123", "symbol": "ETH/USDC", "side": "buy", "type": "market", "amount": "1"}, http.StatusBadRequest},
		{"zero amount", map[string]string{"trader": alice, "symbol": "ETH/USDC", "side": "buy", "type": "market", "amount": "0"}, http.StatusBadRequest},
		{"limit without price", map[string]string{"trader": alice, "symbol": "ETH/USDC", "side": "buy", "type": "limit", "amount": "1"}, http.StatusBadRequest},
		{"unknown market", map[string]string{"trader": alice, "symbol": "DOGE/USDC", "side": "buy", "type": "market", "amount": "1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, "POST", "/api/v1/orders", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestFundsAndMarkets(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, "POST", "/api/v1/accounts/"+alice+"/withdraw", map[string]string{"currency": "USDC", "amount": "1"}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdraw status = %d", rec.Code)
	}
	if rec := do(t, s, "POST", "/api/v1/accounts/"+alice+"/deposit", map[string]string{"currency": "USDC", "amount": "-1"}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative deposit status = %d", rec.Code)
	}

	rec := do(t, s, "GET", "/api/v1/markets", nil)
	if markets := decode[[]MarketInfo](t, rec); len(markets) != 1 || markets[0].BaseAsset != "ETH" {
		t.Errorf("markets = %+v", markets)
	}
	if rec := do(t, s, "GET", "/api/v1/markets/BTC-USDC", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown market status = %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/v1/markets/BTC-USDC/stats", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown market stats status = %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/v1/markets/ETH-USDC/trades/archive", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("archive without store status = %d", rec.Code)
	}
	if rec := do(t, s, "GET", "/api/v1/stats", nil); rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
	rec = do(t, s, "GET", "/health", nil)
	if h := decode[HealthResponse](t, rec); h.Status != "ok" || h.Engine.Markets != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestWebSocketReceivesSubscribedEvents(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"trades:ETH-USDC"}}); err != nil {
		t.Fatal(err)
	}

	ev := events.NewTradeEvent(42, orderbook.Trade{
		ID: "t1", Symbol: "ETH/USDC", Price: decimal.NewFromInt(2000), Amount: decimal.NewFromInt(1), Timestamp: time.Now(),
	})
	// subscription is processed asynchronously by the read pump
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 || !anySubscribed(s.hub, ev.Channel()) {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.hub.Handle(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// not subscribed: must not arrive
	_ = s.hub.Handle(ctx, events.NewBookEvent(43, "ETH/USDC", time.Now(), nil, nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Channel string          `json:"channel"`
		Type    string          `json:"type"`
		Seq     uint64          `json:"seq"`
		Data    orderbook.Trade `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Channel != "trades:ETH/USDC" || msg.Type != "trade" || msg.Seq != 42 || msg.Data.ID != "t1" {
		t.Errorf("message = %+v", msg)
	}
}

func anySubscribed(h *Hub, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.IsSubscribed(channel) {
			return true
		}
	}
	return false
}

func TestNormalizeChannel(t *testing.T) {
	tests := map[string]string{
		"trades:ETH-USDC":                  "trades:ETH/USDC",
		"orderbook:ETH/USDC":               "orderbook:ETH/USDC",
		"orders:" + strings.ToLower(alice): "orders:" + alice,
		"orders:not-an-address":            "orders:not-an-address",
		"heartbeat":                        "heartbeat",
	}
	for in, want := range tests {
		if got := normalizeChannel(in); got != want {
			t.Errorf("normalizeChannel(%q) = %q, want %q", in, got, want)
		}
	}
}
