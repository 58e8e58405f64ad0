package quoter

import (
	"math"
	"strconv"
	"time"

	"github.com/yanun0323/errors"

	"quoter/internal/schema"
	"quoter/pkg/exception"
)

// Config holds the static quoting parameters.
type Config struct {
	Side        schema.Side
	Size        int64
	PriceOffset float64
	// Denominator is the grid step. A quote instrument price on the grid triggers a quote.
	Denominator float64
	Prefix      string
	Account     string
	BrokerCode  string
	ClientCode  string
	// OrderName prefixes the name of every order instance.
	OrderName        string
	CancelOnActivate bool
	// StaleAfter reports a request still pending after this long. Zero disables the check.
	StaleAfter time.Duration
}

// Validate rejects parameters the controller can not quote with.
func (c Config) Validate() error {
	if c.Denominator <= 0 || math.IsNaN(c.Denominator) || math.IsInf(c.Denominator, 0) {
		return errors.Wrap(exception.ErrQuoterInvalidDenominator, "validate").With("denominator", c.Denominator)
	}
	if !c.Side.IsAvailable() {
		return errors.Wrap(exception.ErrQuoterInvalidSide, "validate").With("side", uint8(c.Side))
	}
	if c.Size <= 0 {
		return errors.Wrap(exception.ErrQuoterInvalidSize, "validate").With("size", c.Size)
	}
	if math.IsNaN(c.PriceOffset) || math.IsInf(c.PriceOffset, 0) {
		return errors.Wrap(exception.ErrQuoterInvalidOffset, "validate").With("offset", c.PriceOffset)
	}
	return nil
}

func (c Config) orderName() string {
	if c.OrderName == "" {
		return "order"
	}
	return c.OrderName
}

// OnGrid reports whether price is a multiple of denominator within schema.Epsilon.
func OnGrid(price, denominator float64) bool {
	return math.Abs(math.Remainder(price, denominator)) <= schema.Epsilon
}

// Target returns the order price for a base price: below it when buying, above it when selling.
func Target(side schema.Side, base, offset float64) float64 {
	if side == schema.SideSell {
		return base + offset
	}
	return base - offset
}

// FormatExtRef renders "<prefix>_<price>X<qty>" with six price decimals, truncated to 64 bytes.
func FormatExtRef(prefix string, price float64, qty int64) schema.Str64 {
	buf := make([]byte, 0, 64)
	buf = append(buf, prefix...)
	buf = append(buf, '_')
	buf = strconv.AppendFloat(buf, price, 'f', 6, 64)
	buf = append(buf, 'X')
	buf = strconv.AppendInt(buf, qty, 10)
	return schema.Str64FromBytes(buf)
}
