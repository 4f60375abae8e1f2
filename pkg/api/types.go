package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

// API request/response types for REST endpoints and WebSocket messages.
// Amounts and prices travel as decimal strings.

// ==============================
// REST Request Types
// ==============================

// SubmitOrderRequest places a new order. Price is required for limit orders
// and must be absent for market orders. ExpireAt (unix ms) is used by GTD only.
type SubmitOrderRequest struct {
	Trader      string                `json:"trader"`
	Symbol      string                `json:"symbol"`
	Side        orderbook.Side        `json:"side"`        // "buy" | "sell"
	Type        orderbook.Kind        `json:"type"`        // "limit" | "market"
	TimeInForce orderbook.TimeInForce `json:"timeInForce"` // "GTC" (default) | "IOC" | "GTD"
	Amount      decimal.Decimal       `json:"amount"`
	Price       decimal.NullDecimal   `json:"price"`
	ExpireAt    int64                 `json:"expireAt,omitempty"`
}

// CancelOrderRequest cancels a resting order owned by Trader.
type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
	Trader  string `json:"trader"`
}

// FundsRequest is the body of deposit and withdraw calls.
type FundsRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's static configuration
type MarketInfo struct {
	Symbol     string          `json:"symbol"`     // e.g., "ETH/USDC"
	BaseAsset  string          `json:"baseAsset"`  // e.g., "ETH"
	QuoteAsset string          `json:"quoteAsset"` // e.g., "USDC"
	Status     string          `json:"status"`     // "Active", "Paused", "Closed"
	TickSize   decimal.Decimal `json:"tickSize"`   // zero means unrestricted
	LotSize    decimal.Decimal `json:"lotSize"`
	MinAmount  decimal.Decimal `json:"minAmount"`
}

func newMarketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Symbol:     m.Symbol,
		BaseAsset:  m.BaseAsset,
		QuoteAsset: m.QuoteAsset,
		Status:     m.Status.String(),
		TickSize:   m.TickSize,
		LotSize:    m.LotSize,
		MinAmount:  m.MinAmount,
	}
}

// OrderInfo is an order's status view.
type OrderInfo struct {
	*orderbook.Order
	Remaining decimal.Decimal `json:"remaining"`
}

func newOrderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{Order: o, Remaining: o.Remaining()}
}

func newOrderInfos(orders []*orderbook.Order) []OrderInfo {
	out := make([]OrderInfo, len(orders))
	for i, o := range orders {
		out[i] = newOrderInfo(o)
	}
	return out
}

// SubmitOrderResponse reports the order after matching and the trades it made.
// Halted is set when a failed settlement stopped matching early.
type SubmitOrderResponse struct {
	Order  OrderInfo         `json:"order"`
	Trades []orderbook.Trade `json:"trades"`
	Halted string            `json:"halted,omitempty"`
}

// BalancesResponse lists a trader's balances by currency.
type BalancesResponse struct {
	Trader   string                     `json:"trader"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string         `json:"status"`
	Engine matching.Stats `json:"engine"`
	Events EventStats     `json:"events"`
}

type EventStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Pending   int    `json:"pending"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a subscription request
// Channels: trades:{symbol}, orderbook:{symbol}, orders:{trader}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage is pushed to every client subscribed to Channel.
type WSMessage struct {
	Channel   string    `json:"channel"`
	Type      string    `json:"type"` // "trade" | "order" | "orderbook"
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}
