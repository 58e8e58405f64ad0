package schema

import "math"

// Epsilon is the tolerance used for every price comparison.
const Epsilon = 0.00000001

// PriceEqual reports whether two prices are equal within Epsilon.
func PriceEqual(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// Side describes order or book side.
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy"/"sell" in any case, and the short forms "b"/"s".
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "Buy", "BUY", "b", "B":
		return SideBuy, true
	case "sell", "Sell", "SELL", "s", "S":
		return SideSell, true
	default:
		return _side_beg, false
	}
}

// SubscriptionMask selects which market data streams an instrument delivers.
type SubscriptionMask uint32

const (
	SubscribeBook     SubscriptionMask = 1
	SubscribeTrade    SubscriptionMask = 2
	SubscribeQuote    SubscriptionMask = 4
	SubscribeCommon   SubscriptionMask = 8
	SubscribeSnapshot SubscriptionMask = 16
	SubscribeUpdates  SubscriptionMask = 32
)

func (m SubscriptionMask) Has(flag SubscriptionMask) bool {
	return m&flag == flag
}
