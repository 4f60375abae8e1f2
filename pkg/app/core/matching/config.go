package matching

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what a placement does when a settlement fails mid-match.
type FailurePolicy int8

const (
	// HaltOnFailure stops matching at the first failed settlement. Trades
	// already committed for the placement stand.
	HaltOnFailure FailurePolicy = iota
	// SkipCounterparty leaves a maker that cannot settle on the book and tries
	// the next resting order. Failures on the taker's own balance still halt.
	SkipCounterparty
)

func (p FailurePolicy) String() string {
	switch p {
	case HaltOnFailure:
		return "halt"
	case SkipCounterparty:
		return "skip"
	default:
		return "unknown"
	}
}

func ParseFailurePolicy(v string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "halt":
		return HaltOnFailure, nil
	case "skip":
		return SkipCounterparty, nil
	default:
		return 0, fmt.Errorf("unknown settlement failure policy %q (want halt|skip)", v)
	}
}

type Config struct {
	// AutoCreateMarkets registers a well-formed unknown symbol on first use.
	AutoCreateMarkets bool
	// PrecheckBalances rejects orders the trader could not settle in full at
	// placement time. Settlement remains the authoritative check.
	PrecheckBalances bool
	FailurePolicy    FailurePolicy
	// CloseCrossingRemainder ends a limit remainder UNFILLED instead of resting
	// it when it still crosses the opposite best order, which can only happen
	// after a failed or skipped settlement. Off by default.
	CloseCrossingRemainder bool
	// RecentTradesCap bounds the in-memory trade history per symbol.
	RecentTradesCap int
	// BookEventDepth is the number of levels per side carried by BookChanged events.
	BookEventDepth int
}

func DefaultConfig() Config {
	return Config{
		AutoCreateMarkets: true,
		FailurePolicy:     HaltOnFailure,
		RecentTradesCap:   10_000,
		BookEventDepth:    20,
	}
}
