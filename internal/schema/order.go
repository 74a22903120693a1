// Package schema defines the domain types exchanged between the connectivity
// core and its collaborators.
package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"venuelink/errs"
)

// Side captures the direction of an order or fill.
type Side string

const (
	// SideBuy indicates buy side.
	SideBuy Side = "Buy"
	// SideSell indicates sell side.
	SideSell Side = "Sell"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	// OrderTypeMarket represents market orders.
	OrderTypeMarket OrderType = "Market"
	// OrderTypeLimit represents limit orders.
	OrderTypeLimit OrderType = "Limit"
	// OrderTypeStop represents stop orders.
	OrderTypeStop OrderType = "Stop"
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// StatusSubmitted indicates the venue acknowledged the order.
	StatusSubmitted OrderStatus = "Submitted"
	// StatusPartiallyFilled indicates a partial execution.
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	// StatusFilled indicates complete execution.
	StatusFilled OrderStatus = "Filled"
	// StatusCanceled indicates cancellation.
	StatusCanceled OrderStatus = "Canceled"
	// StatusInvalid indicates the venue rejected the submission.
	StatusInvalid OrderStatus = "Invalid"
)

// Terminal reports whether the status ends an order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusInvalid:
		return true
	default:
		return false
	}
}

// Order is a local order request supplied by the strategy layer. Quantity is
// signed: positive buys, negative sells.
type Order struct {
	LocalID    string
	Symbol     string
	Quantity   decimal.Decimal
	Type       OrderType
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
	Created    time.Time
}

// NewOrder validates the request and assigns a fresh local id.
func NewOrder(symbol string, quantity decimal.Decimal, typ OrderType) (Order, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Order{}, errs.New("", errs.CodeInvalid, errs.WithMessage("order symbol required"))
	}
	if quantity.IsZero() {
		return Order{}, errs.New("", errs.CodeInvalid, errs.WithMessage("order quantity must be non-zero"))
	}
	switch typ {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
	default:
		return Order{}, errs.New("", errs.CodeInvalid, errs.WithMessage("unsupported order type"))
	}
	return Order{
		LocalID:  uuid.NewString(),
		Symbol:   symbol,
		Quantity: quantity,
		Type:     typ,
		Created:  time.Now().UTC(),
	}, nil
}

// Side derives the order direction from the quantity sign.
func (o Order) Side() Side {
	if o.Quantity.Sign() < 0 {
		return SideSell
	}
	return SideBuy
}

// OrderEvent is the normalized order-status notification consumed by the
// strategy layer. FillQuantity is signed by direction and expressed in
// internal units.
type OrderEvent struct {
	LocalID      string
	Symbol       string
	Status       OrderStatus
	FillQuantity decimal.Decimal
	FillPrice    decimal.Decimal
	Fee          decimal.Decimal
	Message      string
	Timestamp    time.Time
}
