package orderbook

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

// BenchmarkInsertRemove measures resting-order churn against a 100-level book.
func BenchmarkInsertRemove(b *testing.B) {
	ob := NewOrderBook("ETH/USDC")
	for i := 0; i < 100; i++ {
		_ = ob.Insert(&Order{
			ID: fmt.Sprintf("ask-%d", i), Trader: "mm", Side: Sell, Kind: Limit,
			Amount: decimal.NewFromInt(10), Price: decimal.NewNullDecimal(decimal.NewFromInt(int64(2000 + i))),
		})
	}
	rng := rand.New(rand.NewSource(42))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("bench-%d", i)
		_ = ob.Insert(&Order{
			ID: id, Trader: "t", Side: Sell, Kind: Limit,
			Amount: decimal.NewFromInt(1), Price: decimal.NewNullDecimal(decimal.NewFromInt(int64(2000 + rng.Intn(100)))),
		})
		ob.BestAsk()
		ob.Remove(id)
	}
}
