package feeder

import (
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
)

const recentOrders = 100

type placed struct {
	id     string
	trader string
}

// Generator creates random order flow around a mid price for load testing.
type Generator struct {
	traders []string // simulated trader addresses
	symbols []string
	mid     decimal.Decimal
	rng     *rand.Rand

	// recently rested orders, candidates for cancellation
	recent []placed
	next   int
}

// NewGenerator creates numTraders deterministic addresses trading symbols.
func NewGenerator(numTraders int, symbols []string, mid decimal.Decimal, seed int64) *Generator {
	traders := make([]string, numTraders)
	for i := range traders {
		traders[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i))).Hex()
	}
	return &Generator{
		traders: traders,
		symbols: symbols,
		mid:     mid,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (g *Generator) Traders() []string { return g.traders }

// NextOrder returns a random order: 80% limit (85% GTC, 15% IOC), 20% market.
// Limit prices fall within ±2% of mid on a 0.01 grid; amounts are 0.01 to 1.00.
func (g *Generator) NextOrder() matching.PlaceRequest {
	req := matching.PlaceRequest{
		Trader: g.traders[g.rng.Intn(len(g.traders))],
		Symbol: g.symbols[g.rng.Intn(len(g.symbols))],
		Side:   orderbook.Buy,
		Kind:   orderbook.Limit,
		Amount: decimal.New(int64(g.rng.Intn(100)+1), -2),
	}
	if g.rng.Intn(2) == 1 {
		req.Side = orderbook.Sell
	}
	if g.rng.Intn(100) < 20 {
		req.Kind = orderbook.Market
		return req
	}
	if g.rng.Intn(100) < 15 {
		req.TimeInForce = orderbook.IOC
	}

	// ±200 bps, buyers skewed below mid and sellers above so the book keeps a spread
	bps := int64(g.rng.Intn(200))
	if req.Side == orderbook.Buy {
		bps = -bps + 20
	} else {
		bps -= 20
	}
	price := g.mid.Add(g.mid.Mul(decimal.New(bps, -4))).Round(2)
	if !price.IsPositive() {
		price = decimal.New(1, -2)
	}
	req.Price = decimal.NewNullDecimal(price)
	return req
}

// Remember records a resting order as a later cancellation target.
func (g *Generator) Remember(id, trader string) {
	p := placed{id: id, trader: trader}
	if len(g.recent) < recentOrders {
		g.recent = append(g.recent, p)
		return
	}
	g.recent[g.next] = p
	g.next = (g.next + 1) % recentOrders
}

// NextCancel picks a remembered order. ok is false until one was remembered.
func (g *Generator) NextCancel() (id, trader string, ok bool) {
	if len(g.recent) == 0 {
		return "", "", false
	}
	p := g.recent[g.rng.Intn(len(g.recent))]
	return p.id, p.trader, true
}
