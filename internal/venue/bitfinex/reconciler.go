package bitfinex

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"venuelink/internal/observability"
	"venuelink/internal/schema"
	"venuelink/internal/venue/scale"
	"venuelink/internal/venue/shared"
)

// Executions referencing orders this session never placed are kept for
// diagnostics, bounded so a foreign session's flow cannot grow the list
// without limit.
const unknownFillCap = 128

// Reconciler matches trade executions to tracked orders and emits the
// normalized order events the strategy layer consumes. Events are the sole
// fill-notification channel; nothing downstream polls order state.
type Reconciler struct {
	venue   string
	codec   *scale.Codec
	tracker *shared.Tracker

	mu      sync.Mutex
	unknown []string
}

// NewReconciler creates a reconciler over the shared order tracker.
func NewReconciler(venue string, codec *scale.Codec, tracker *shared.Tracker) *Reconciler {
	return &Reconciler{venue: venue, codec: codec, tracker: tracker}
}

// Process reconciles one execution. The returned event reflects the order
// state after the fill is applied; ok is false when the broker id matched
// no tracked order, in which case the id is recorded and no event emitted.
func (r *Reconciler) Process(msg TradeExecution) (schema.OrderEvent, bool) {
	qty := r.codec.ToInternalQty(msg.AmountExecuted.Abs())
	order, applied, ok := r.tracker.ApplyFill(msg.BrokerOrderID, qty)
	if !ok {
		r.recordUnknown(msg.BrokerOrderID)
		return schema.OrderEvent{}, false
	}
	if applied.LessThan(qty) {
		observability.Log().Info("fill clamped to remaining quantity",
			observability.Field{Key: "venue", Value: r.venue},
			observability.Field{Key: "broker_id", Value: msg.BrokerOrderID},
			observability.Field{Key: "reported", Value: qty.String()},
			observability.Field{Key: "applied", Value: applied.String()})
	}
	if msg.AmountExecuted.Sign() < 0 {
		applied = applied.Neg()
	}
	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return schema.OrderEvent{
		LocalID:      order.LocalID,
		Symbol:       order.Order.Symbol,
		Status:       order.Status,
		FillQuantity: applied,
		FillPrice:    r.codec.ToInternalPrice(msg.PriceExecuted),
		Fee:          r.normalizeFee(msg),
		Timestamp:    timestamp,
	}, true
}

// normalizeFee converts the reported fee into quote-currency internal
// units. A fee charged in a currency other than the pair's quote currency
// is converted through the execution price before scaling.
func (r *Reconciler) normalizeFee(msg TradeExecution) decimal.Decimal {
	fee := msg.Fee.Abs()
	if fee.IsZero() {
		return decimal.Zero
	}
	quote := quoteCurrency(msg.Pair)
	if msg.FeeCurrency != "" && quote != "" && !strings.EqualFold(msg.FeeCurrency, quote) {
		fee = fee.Mul(msg.PriceExecuted)
	}
	return r.codec.ToInternalPrice(fee)
}

func (r *Reconciler) recordUnknown(brokerID string) {
	r.mu.Lock()
	if len(r.unknown) < unknownFillCap {
		r.unknown = append(r.unknown, brokerID)
	}
	r.mu.Unlock()
	observability.Telemetry().IncCounter(observability.MetricUnknownFills, 1,
		map[string]string{"venue": r.venue})
	observability.Log().Info("execution for unknown broker id",
		observability.Field{Key: "venue", Value: r.venue},
		observability.Field{Key: "broker_id", Value: brokerID})
}

// UnknownFills returns the broker ids of executions that matched no
// tracked order.
func (r *Reconciler) UnknownFills() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unknown...)
}

// quoteCurrency extracts the quote leg of a six-letter pair like BTCUSD.
func quoteCurrency(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if len(pair) < 6 {
		return ""
	}
	return pair[len(pair)-3:]
}
