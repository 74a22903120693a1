package bitfinex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"venuelink/errs"
	"venuelink/internal/schema"
	"venuelink/internal/venue/scale"
	"venuelink/internal/venue/shared"
)

const (
	pathOrderNew           = "/v1/order/new"
	pathOrderCancel        = "/v1/order/cancel"
	pathOrderCancelReplace = "/v1/order/cancel/replace"
	pathOrders             = "/v1/orders"
	pathPositions          = "/v1/positions"
	pathBalances           = "/v1/balances"
	pathPubTicker          = "/v1/pubticker/"
)

// priceLookup resolves the latest internal-unit price for a symbol. The
// gateway uses it to price market orders and to derive conversion rates
// already cached from the stream before falling back to a REST fetch.
type priceLookup func(symbol string) (decimal.Decimal, bool)

// Gateway is the synchronous order and account path. It shares the order
// tracker with the stream reconciler so REST placements and push fills
// stay consistent, and emits the same normalized events.
type Gateway struct {
	venue        string
	transport    *shared.Transport
	codec        *scale.Codec
	tracker      *shared.Tracker
	baseCurrency string
	lookup       priceLookup
	emit         func(schema.OrderEvent)
}

// NewGateway assembles the REST order path.
func NewGateway(venue string, transport *shared.Transport, codec *scale.Codec,
	tracker *shared.Tracker, baseCurrency string, lookup priceLookup, emit func(schema.OrderEvent)) *Gateway {
	if lookup == nil {
		lookup = func(string) (decimal.Decimal, bool) { return decimal.Decimal{}, false }
	}
	if emit == nil {
		emit = func(schema.OrderEvent) {}
	}
	return &Gateway{
		venue:        venue,
		transport:    transport,
		codec:        codec,
		tracker:      tracker,
		baseCurrency: strings.ToUpper(baseCurrency),
		lookup:       lookup,
		emit:         emit,
	}
}

type orderResponse struct {
	ID                int64  `json:"id"`
	OrderID           int64  `json:"order_id"`
	Symbol            string `json:"symbol"`
	Price             string `json:"price"`
	AvgExecutionPrice string `json:"avg_execution_price"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	IsLive            bool   `json:"is_live"`
	IsCancelled       bool   `json:"is_cancelled"`
	OriginalAmount    string `json:"original_amount"`
	RemainingAmount   string `json:"remaining_amount"`
	ExecutedAmount    string `json:"executed_amount"`
}

func (r orderResponse) brokerID() string {
	if r.OrderID > 0 {
		return strconv.FormatInt(r.OrderID, 10)
	}
	if r.ID > 0 {
		return strconv.FormatInt(r.ID, 10)
	}
	return ""
}

type balanceEntry struct {
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type positionEntry struct {
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Base   string `json:"base"`
	Status string `json:"status"`
}

type pubTicker struct {
	Mid       string `json:"mid"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	LastPrice string `json:"last_price"`
}

// PlaceOrder submits the order. A response without a positive broker id
// emits one Invalid event and fails; success records the broker id and
// emits Submitted. A market order the venue filled in full before
// responding additionally emits Filled and evicts the order.
func (g *Gateway) PlaceOrder(ctx context.Context, order schema.Order) error {
	requested := order.Quantity.Abs()
	body := map[string]any{
		"symbol":   strings.ToLower(order.Symbol),
		"amount":   g.codec.ToExchangeQty(requested).String(),
		"price":    g.orderPrice(order).String(),
		"side":     strings.ToLower(string(order.Side())),
		"type":     wireOrderType(order.Type),
		"exchange": g.venue,
	}
	raw, err := g.transport.Private(ctx, pathOrderNew, body)
	if err != nil {
		g.emit(g.invalidEvent(order, err.Error()))
		return err
	}
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		g.emit(g.invalidEvent(order, "unreadable placement response"))
		return errs.New(g.venue, errs.CodeDecode, errs.WithCause(err), errs.WithRawPayload(raw))
	}
	brokerID := resp.brokerID()
	if brokerID == "" {
		g.emit(g.invalidEvent(order, "placement response lacked broker order id"))
		return errs.New(g.venue, errs.CodeExchange,
			errs.WithMessage("placement response lacked broker order id"),
			errs.WithRawPayload(raw))
	}
	g.tracker.Add(order, requested)
	g.tracker.AddBrokerID(order.LocalID, brokerID)
	g.emit(schema.OrderEvent{
		LocalID:   order.LocalID,
		Symbol:    order.Symbol,
		Status:    schema.StatusSubmitted,
		Timestamp: time.Now().UTC(),
	})

	executed := parseAmount(resp.ExecutedAmount)
	remaining := parseAmount(resp.RemainingAmount)
	if !executed.IsZero() && remaining.IsZero() {
		fill := g.codec.ToInternalQty(executed.Abs())
		if tracked, applied, ok := g.tracker.ApplyFill(brokerID, fill); ok {
			if order.Side() == schema.SideSell {
				applied = applied.Neg()
			}
			g.emit(schema.OrderEvent{
				LocalID:      tracked.LocalID,
				Symbol:       tracked.Order.Symbol,
				Status:       tracked.Status,
				FillQuantity: applied,
				FillPrice:    g.codec.ToInternalPrice(parseAmount(resp.AvgExecutionPrice)),
				Timestamp:    time.Now().UTC(),
			})
		}
	}
	return nil
}

// CancelOrder cancels every broker id associated with the local order; a
// cancel-replace may have left more than one. The overall cancel succeeds
// only if every venue call succeeds; each success emits a Canceled event.
func (g *Gateway) CancelOrder(ctx context.Context, localID string) error {
	tracked, ok := g.tracker.FindByLocalID(localID)
	if !ok {
		return errs.New(g.venue, errs.CodeInvalid, errs.WithMessage("order not tracked"))
	}
	var failed []error
	for _, brokerID := range tracked.BrokerIDs {
		id, err := strconv.ParseInt(brokerID, 10, 64)
		if err != nil {
			failed = append(failed, fmt.Errorf("broker id %q: %w", brokerID, err))
			continue
		}
		if _, err := g.transport.Private(ctx, pathOrderCancel, map[string]any{"order_id": id}); err != nil {
			failed = append(failed, err)
			continue
		}
		g.emit(schema.OrderEvent{
			LocalID:   tracked.LocalID,
			Symbol:    tracked.Order.Symbol,
			Status:    schema.StatusCanceled,
			Timestamp: time.Now().UTC(),
		})
	}
	if len(failed) > 0 {
		return errs.New(g.venue, errs.CodeExchange,
			errs.WithMessage("cancel incomplete"),
			errs.WithCause(errors.Join(failed...)))
	}
	g.tracker.Remove(localID)
	return nil
}

// UpdateOrder performs a cancel-replace for every broker id of the local
// order, appending each replacement id to the same tracked order. Any
// response lacking a positive id fails the update.
func (g *Gateway) UpdateOrder(ctx context.Context, localID string, quantity, limitPrice decimal.Decimal) error {
	tracked, ok := g.tracker.FindByLocalID(localID)
	if !ok {
		return errs.New(g.venue, errs.CodeInvalid, errs.WithMessage("order not tracked"))
	}
	if quantity.IsZero() {
		return errs.New(g.venue, errs.CodeInvalid, errs.WithMessage("replacement quantity must be non-zero"))
	}
	updated := tracked.Order
	updated.Quantity = quantity
	updated.LimitPrice = limitPrice

	for _, brokerID := range tracked.BrokerIDs {
		id, err := strconv.ParseInt(brokerID, 10, 64)
		if err != nil {
			return errs.New(g.venue, errs.CodeInvalid,
				errs.WithMessage("broker id is not numeric"), errs.WithCause(err))
		}
		body := map[string]any{
			"order_id": id,
			"symbol":   strings.ToLower(updated.Symbol),
			"amount":   g.codec.ToExchangeQty(quantity.Abs()).String(),
			"price":    g.orderPrice(updated).String(),
			"side":     strings.ToLower(string(updated.Side())),
			"type":     wireOrderType(updated.Type),
			"exchange": g.venue,
		}
		raw, err := g.transport.Private(ctx, pathOrderCancelReplace, body)
		if err != nil {
			return err
		}
		var resp orderResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return errs.New(g.venue, errs.CodeDecode, errs.WithCause(err), errs.WithRawPayload(raw))
		}
		newID := resp.brokerID()
		if newID == "" {
			return errs.New(g.venue, errs.CodeExchange,
				errs.WithMessage("replace response lacked broker order id"),
				errs.WithRawPayload(raw))
		}
		g.tracker.AddBrokerID(localID, newID)
		g.tracker.ReplaceFromVenue(newID, updated, quantity.Abs())
	}
	g.emit(schema.OrderEvent{
		LocalID:   localID,
		Symbol:    updated.Symbol,
		Status:    schema.StatusSubmitted,
		Message:   "replaced",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// OpenOrders lists live orders and reconciles them against the tracker so
// venue-confirmed copies overwrite stale local state.
func (g *Gateway) OpenOrders(ctx context.Context) ([]schema.Order, error) {
	raw, err := g.transport.Private(ctx, pathOrders, nil)
	if err != nil {
		return nil, err
	}
	var entries []orderResponse
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errs.New(g.venue, errs.CodeDecode, errs.WithCause(err), errs.WithRawPayload(raw))
	}
	orders := make([]schema.Order, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsLive {
			continue
		}
		quantity := g.codec.ToInternalQty(parseAmount(entry.OriginalAmount).Abs())
		if strings.EqualFold(entry.Side, "sell") {
			quantity = quantity.Neg()
		}
		order := schema.Order{
			Symbol:     strings.ToUpper(entry.Symbol),
			Quantity:   quantity,
			Type:       internalOrderType(entry.Type),
			LimitPrice: g.codec.ToInternalPrice(parseAmount(entry.Price)),
		}
		if brokerID := entry.brokerID(); brokerID != "" {
			g.tracker.ReplaceFromVenue(brokerID, order, quantity.Abs())
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Balances fetches the account balance set with conversion rates into the
// account base currency.
func (g *Gateway) Balances(ctx context.Context) ([]schema.Balance, error) {
	raw, err := g.transport.Private(ctx, pathBalances, nil)
	if err != nil {
		return nil, err
	}
	var entries []balanceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errs.New(g.venue, errs.CodeDecode, errs.WithCause(err), errs.WithRawPayload(raw))
	}
	totals := make(map[string]decimal.Decimal)
	order := make([]string, 0, len(entries))
	for _, entry := range entries {
		currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
		if currency == "" {
			continue
		}
		if _, seen := totals[currency]; !seen {
			order = append(order, currency)
		}
		totals[currency] = totals[currency].Add(parseAmount(entry.Amount))
	}
	balances := make([]schema.Balance, 0, len(order))
	for _, currency := range order {
		rate, err := g.conversionRate(ctx, currency)
		if err != nil {
			return nil, err
		}
		balances = append(balances, schema.Balance{
			Currency:       currency,
			Amount:         g.codec.ToInternalQty(totals[currency]),
			ConversionRate: rate,
		})
	}
	return balances, nil
}

// Holdings lists open positions with market prices and conversion rates.
func (g *Gateway) Holdings(ctx context.Context) ([]schema.Holding, error) {
	raw, err := g.transport.Private(ctx, pathPositions, nil)
	if err != nil {
		return nil, err
	}
	var entries []positionEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errs.New(g.venue, errs.CodeDecode, errs.WithCause(err), errs.WithRawPayload(raw))
	}
	holdings := make([]schema.Holding, 0, len(entries))
	for _, entry := range entries {
		amount := parseAmount(entry.Amount)
		if amount.IsZero() {
			continue
		}
		symbol := strings.ToUpper(entry.Symbol)
		market, err := g.symbolPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		quote := quoteCurrency(symbol)
		rate, err := g.conversionRate(ctx, quote)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, schema.Holding{
			Symbol:         symbol,
			Quantity:       g.codec.ToInternalQty(amount),
			AveragePrice:   g.codec.ToInternalPrice(parseAmount(entry.Base)),
			MarketPrice:    market,
			CurrencySymbol: quote,
			ConversionRate: rate,
		})
	}
	return holdings, nil
}

// symbolPrice resolves the latest internal-unit price for a pair, serving
// from the stream's tick cache before falling back to a public fetch.
func (g *Gateway) symbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := g.lookup(symbol); ok && !price.IsZero() {
		return price, nil
	}
	raw, err := g.transport.Public(ctx, pathPubTicker+strings.ToLower(symbol), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var ticker pubTicker
	if err := json.Unmarshal(raw, &ticker); err != nil {
		return decimal.Decimal{}, errs.New(g.venue, errs.CodeDecode, errs.WithCause(err), errs.WithRawPayload(raw))
	}
	price := parseAmount(ticker.LastPrice)
	if price.IsZero() {
		price = parseAmount(ticker.Mid)
	}
	return g.codec.ToInternalPrice(price), nil
}

// conversionRate prices one unit of currency in the account base currency.
// The direct pair is tried first, then the inverse pair inverted.
func (g *Gateway) conversionRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == g.baseCurrency {
		return decimal.NewFromInt(1), nil
	}
	direct, err := g.symbolPrice(ctx, currency+g.baseCurrency)
	if err == nil && !direct.IsZero() {
		return direct, nil
	}
	inverse, invErr := g.symbolPrice(ctx, g.baseCurrency+currency)
	if invErr == nil && !inverse.IsZero() {
		return decimal.NewFromInt(1).Div(inverse), nil
	}
	if err == nil {
		err = invErr
	}
	return decimal.Decimal{}, errs.New(g.venue, errs.CodeExchange,
		errs.WithMessage("no conversion rate for "+currency),
		errs.WithCause(err))
}

func (g *Gateway) orderPrice(order schema.Order) decimal.Decimal {
	switch order.Type {
	case schema.OrderTypeLimit:
		return g.codec.ToExchangePrice(order.LimitPrice)
	case schema.OrderTypeStop:
		return g.codec.ToExchangePrice(order.StopPrice)
	default:
		if price, ok := g.lookup(order.Symbol); ok && !price.IsZero() {
			return g.codec.ToExchangePrice(price)
		}
		return decimal.NewFromInt(1)
	}
}

func (g *Gateway) invalidEvent(order schema.Order, message string) schema.OrderEvent {
	return schema.OrderEvent{
		LocalID:   order.LocalID,
		Symbol:    order.Symbol,
		Status:    schema.StatusInvalid,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func wireOrderType(typ schema.OrderType) string {
	switch typ {
	case schema.OrderTypeMarket:
		return "exchange market"
	case schema.OrderTypeStop:
		return "exchange stop"
	default:
		return "exchange limit"
	}
}

func internalOrderType(wire string) schema.OrderType {
	switch {
	case strings.Contains(wire, "market"):
		return schema.OrderTypeMarket
	case strings.Contains(wire, "stop"):
		return schema.OrderTypeStop
	default:
		return schema.OrderTypeLimit
	}
}

func parseAmount(s string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return value
}
