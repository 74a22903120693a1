package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is the latest market snapshot for one symbol, in internal units.
type Tick struct {
	Symbol  string
	Bid     decimal.Decimal
	BidSize decimal.Decimal
	Ask     decimal.Decimal
	AskSize decimal.Decimal
	Last    decimal.Decimal
	Volume  decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Time    time.Time
}

// Price returns the representative price of the snapshot: the last trade
// price when present, otherwise the bid/ask midpoint.
func (t Tick) Price() decimal.Decimal {
	if !t.Last.IsZero() {
		return t.Last
	}
	if t.Bid.IsZero() && t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Balance is a single-currency account balance with its conversion rate into
// the account base currency.
type Balance struct {
	Currency       string
	Amount         decimal.Decimal
	ConversionRate decimal.Decimal
}

// Holding is an open position reported by the venue.
type Holding struct {
	Symbol         string
	Quantity       decimal.Decimal
	AveragePrice   decimal.Decimal
	MarketPrice    decimal.Decimal
	CurrencySymbol string
	ConversionRate decimal.Decimal
}
