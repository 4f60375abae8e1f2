package orderbook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder covers every placement rejected before any state is touched.
var ErrInvalidOrder = errors.New("invalid order")

type Side int8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of s matches against.
func (s Side) Opposite() Side {
	switch s {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		panic(fmt.Sprintf("orderbook: opposite of invalid side %d", s))
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "buy", "bid":
		return Buy, nil
	case "sell", "ask":
		return Sell, nil
	default:
		return 0, fmt.Errorf("side %q: %w", v, ErrInvalidOrder)
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Kind is the execution style of an order.
type Kind int8

const (
	Limit Kind = iota + 1
	Market
)

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool { return k == Limit || k == Market }

func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(v) {
	case "limit":
		return Limit, nil
	case "market":
		return Market, nil
	default:
		return 0, fmt.Errorf("kind %q: %w", v, ErrInvalidOrder)
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// TimeInForce controls how long a limit order's remainder may rest.
type TimeInForce int8

const (
	GTC TimeInForce = iota // good till cancelled
	IOC                    // immediate or cancel: remainder never rests
	GTD                    // good till date: rests until ExpireAt
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case GTD:
		return "GTD"
	default:
		return "unknown"
	}
}

func ParseTimeInForce(v string) (TimeInForce, error) {
	switch strings.ToUpper(v) {
	case "", "GTC":
		return GTC, nil
	case "IOC":
		return IOC, nil
	case "GTD":
		return GTD, nil
	default:
		return 0, fmt.Errorf("time in force %q: %w", v, ErrInvalidOrder)
	}
}

func (t TimeInForce) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeInForce) UnmarshalText(b []byte) error {
	v, err := ParseTimeInForce(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Status is the lifecycle state of an order.
//
//	PENDING -> PARTIAL -> FILLED
//	PENDING/PARTIAL -> CANCELLED (owner) | UNFILLED (taker remainder discarded) | EXPIRED (GTD)
type Status int8

const (
	StatusPending Status = iota
	StatusPartial
	StatusFilled
	StatusCancelled
	StatusUnfilled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPartial:
		return "partial"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	case StatusUnfilled:
		return "unfilled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusUnfilled, StatusExpired:
		return true
	case StatusPending, StatusPartial:
		return false
	default:
		return true
	}
}

func ParseStatus(v string) (Status, error) {
	for st := StatusPending; st <= StatusExpired; st++ {
		if strings.EqualFold(v, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Order is a request to trade Amount of a symbol's base asset.
type Order struct {
	ID          string              `json:"id"`
	Trader      string              `json:"trader"`
	Symbol      string              `json:"symbol"`
	Side        Side                `json:"side"`
	Kind        Kind                `json:"kind"`
	TimeInForce TimeInForce         `json:"timeInForce"`
	Amount      decimal.Decimal     `json:"amount"`
	Price       decimal.NullDecimal `json:"price"` // valid iff Kind == Limit
	Filled      decimal.Decimal     `json:"filled"`
	Status      Status              `json:"status"`
	Seq         uint64              `json:"seq"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
	ExpireAt    time.Time           `json:"expireAt,omitempty"`
	TradeIDs    []string            `json:"tradeIds"`
}

// Remaining returns the unfilled amount.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// LimitPrice returns the limit price; ok is false for market orders.
func (o *Order) LimitPrice() (decimal.Decimal, bool) {
	return o.Price.Decimal, o.Price.Valid
}

// Validate checks the structural invariants of a freshly built order.
func (o *Order) Validate() error {
	if o.Trader == "" {
		return fmt.Errorf("missing trader: %w", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("side %d: %w", o.Side, ErrInvalidOrder)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", o.Amount, ErrInvalidOrder)
	}
	switch o.Kind {
	case Limit:
		if !o.Price.Valid {
			return fmt.Errorf("limit order requires a price: %w", ErrInvalidOrder)
		}
		if !o.Price.Decimal.IsPositive() {
			return fmt.Errorf("price %s must be positive: %w", o.Price.Decimal, ErrInvalidOrder)
		}
	case Market:
		if o.Price.Valid {
			return fmt.Errorf("market order must not carry a price: %w", ErrInvalidOrder)
		}
		if o.TimeInForce == GTD {
			return fmt.Errorf("market order cannot be GTD: %w", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("kind %d: %w", o.Kind, ErrInvalidOrder)
	}
	if o.TimeInForce == GTD && o.ExpireAt.IsZero() {
		return fmt.Errorf("GTD order requires expireAt: %w", ErrInvalidOrder)
	}
	return nil
}

// ApplyFill records a match of amount against this order and advances its status.
// filled never decreases and never exceeds Amount.
func (o *Order) ApplyFill(amount decimal.Decimal, tradeID string, now time.Time) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is %s", o.ID, o.Status)
	}
	if !amount.IsPositive() || amount.GreaterThan(o.Remaining()) {
		return fmt.Errorf("fill %s exceeds remaining %s of order %s", amount, o.Remaining(), o.ID)
	}
	o.Filled = o.Filled.Add(amount)
	o.TradeIDs = append(o.TradeIDs, tradeID)
	o.UpdatedAt = now
	if o.Filled.Equal(o.Amount) {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
	return nil
}

// Close moves a live order to a terminal status.
func (o *Order) Close(status Status, now time.Time) error {
	if !status.Terminal() || status == StatusFilled {
		return fmt.Errorf("cannot close order %s as %s", o.ID, status)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("order %s already %s", o.ID, o.Status)
	}
	o.Status = status
	o.UpdatedAt = now
	return nil
}

// Clone returns a copy safe to hand outside the owning lock.
func (o *Order) Clone() *Order {
	cp := *o
	cp.TradeIDs = append([]string(nil), o.TradeIDs...)
	return &cp
}

// Trade is an immutable record of one match.
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	TakerSide   Side            `json:"takerSide"`
	Seq         uint64          `json:"seq"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Notional returns Price × Amount.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Amount)
}
