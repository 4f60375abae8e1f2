package storage

import "fmt"

// Pebble key schema
//
//	trade:<symbol>:<seq>:<tradeID> -> Trade
//	ord:<trader>:<seq>:<orderID>   -> Order (latest state)
//	oid:<orderID>                  -> ord: key of that order
//
// Sequence numbers are zero-padded (20 digits) so lexicographic order is
// commit order.
const (
	prefixTrade   = "trade:"
	prefixOrder   = "ord:"
	prefixOrderID = "oid:"
)

// tradeKey returns the key for a trade
// Format: "trade:{symbol}:{seq}:{tradeID}"
func tradeKey(symbol string, seq uint64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, symbol, seq, tradeID))
}

// tradePrefix returns the prefix for all trades of a symbol
func tradePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, symbol))
}

// orderKey returns the key for an order
// Format: "ord:{trader}:{seq}:{orderID}"
func orderKey(trader string, seq uint64, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixOrder, trader, seq, orderID))
}

// orderPrefix returns the prefix for all orders of a trader
func orderPrefix(trader string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, trader))
}

func orderIDKey(orderID string) []byte {
	return []byte(prefixOrderID + orderID)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ord:0xabc:" -> upper bound "ord:0xabc;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
