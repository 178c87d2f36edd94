package domain

import "github.com/shopspring/decimal"

// priceScale is the number of decimal places carried by a PriceTick. Two
// matches the display precision of the instruments this engine targets.
const priceScale = 2

// PriceTick is a price expressed as an integer number of ticks. Price levels
// are keyed by tick internally so that map lookups never depend on
// floating-point equality.
type PriceTick int64

func TickFromDecimal(price decimal.Decimal) PriceTick {
	return PriceTick(price.Shift(priceScale).Round(0).IntPart())
}

func (t PriceTick) Decimal() decimal.Decimal {
	return decimal.New(int64(t), -priceScale)
}

func (t PriceTick) String() string {
	return t.Decimal().StringFixed(priceScale)
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is a single executed trade as delivered by the trade stream. The
// ingestion boundary guarantees a well-formed value: positive quantity, a
// parseable price and a millisecond timestamp.
type Trade struct {
	Symbol    string
	ID        int64
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp int64 // ms since epoch
	Side      Side
}

// Subscription is a live stream of decoded messages for a single topic.
type Subscription[T any] struct {
	Stream      <-chan T
	Topic       string
	Unsubscribe func()
}
