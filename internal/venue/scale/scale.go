// Package scale converts between a venue's decimal wire units and the
// system's fixed-point internal units.
package scale

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Codec applies a per-venue integer scale factor. The factor is fixed at
// construction and never mutated afterwards.
type Codec struct {
	factor decimal.Decimal
}

// New creates a codec for the given positive scale factor.
func New(factor int64) (*Codec, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("scale: factor must be positive, got %d", factor)
	}
	return &Codec{factor: decimal.NewFromInt(factor)}, nil
}

// Factor returns the configured scale factor.
func (c *Codec) Factor() decimal.Decimal {
	return c.factor
}

// ToInternalPrice converts an exchange price into internal units.
func (c *Codec) ToInternalPrice(exchange decimal.Decimal) decimal.Decimal {
	return exchange.Div(c.factor)
}

// ToExchangePrice converts an internal price back to exchange units.
func (c *Codec) ToExchangePrice(internal decimal.Decimal) decimal.Decimal {
	return internal.Mul(c.factor)
}

// ToInternalQty converts an exchange quantity into internal units, rounded
// to the nearest whole unit. The sign is preserved.
func (c *Codec) ToInternalQty(exchange decimal.Decimal) decimal.Decimal {
	return exchange.Mul(c.factor).Round(0)
}

// ToExchangeQty converts an internal quantity back to exchange units.
func (c *Codec) ToExchangeQty(internal decimal.Decimal) decimal.Decimal {
	return internal.Div(c.factor)
}
