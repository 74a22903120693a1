// Package shared provides venue-agnostic utilities composed into venue
// clients: order tracking, tick buffering, and signed REST transport.
package shared

import (
	"sync"

	"github.com/shopspring/decimal"

	"venuelink/internal/schema"
)

// TrackedOrder is a locally known order with its venue-assigned ids.
// RequestedQty and FilledQty are absolute values in internal units.
type TrackedOrder struct {
	LocalID      string
	BrokerIDs    []string
	Order        schema.Order
	Status       schema.OrderStatus
	RequestedQty decimal.Decimal
	FilledQty    decimal.Decimal
}

func (o TrackedOrder) clone() TrackedOrder {
	out := o
	out.BrokerIDs = append([]string(nil), o.BrokerIDs...)
	return out
}

// Tracker is a concurrent cache of active orders keyed by local id, with a
// broker-id lookup index. It is the only mutable structure shared between
// the inbound-message path and the REST path; every mutating operation is
// atomic with respect to the others.
type Tracker struct {
	mu       sync.RWMutex
	orders   map[string]*TrackedOrder
	byBroker map[string]string
}

// NewTracker creates an empty order tracker.
func NewTracker() *Tracker {
	return &Tracker{
		orders:   make(map[string]*TrackedOrder),
		byBroker: make(map[string]string),
	}
}

// Add caches a newly placed order. requestedQty is the absolute requested
// quantity in internal units.
func (t *Tracker) Add(order schema.Order, requestedQty decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[order.LocalID] = &TrackedOrder{
		LocalID:      order.LocalID,
		Order:        order,
		Status:       schema.StatusSubmitted,
		RequestedQty: requestedQty.Abs(),
	}
}

// AddBrokerID associates a venue-assigned id with a tracked order. A
// cancel-replace grows the set; the same id is never added twice.
func (t *Tracker) AddBrokerID(localID, brokerID string) bool {
	if brokerID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.orders[localID]
	if !ok {
		return false
	}
	for _, existing := range order.BrokerIDs {
		if existing == brokerID {
			return true
		}
	}
	order.BrokerIDs = append(order.BrokerIDs, brokerID)
	t.byBroker[brokerID] = localID
	return true
}

// FindByBrokerID returns a snapshot of the order owning the broker id.
func (t *Tracker) FindByBrokerID(brokerID string) (TrackedOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	localID, ok := t.byBroker[brokerID]
	if !ok {
		return TrackedOrder{}, false
	}
	order, ok := t.orders[localID]
	if !ok {
		return TrackedOrder{}, false
	}
	return order.clone(), true
}

// FindByLocalID returns a snapshot of the order with the given local id.
func (t *Tracker) FindByLocalID(localID string) (TrackedOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	order, ok := t.orders[localID]
	if !ok {
		return TrackedOrder{}, false
	}
	return order.clone(), true
}

// Remove evicts the order and all of its broker ids from the active index.
func (t *Tracker) Remove(localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(localID)
}

func (t *Tracker) removeLocked(localID string) {
	order, ok := t.orders[localID]
	if !ok {
		return
	}
	for _, brokerID := range order.BrokerIDs {
		delete(t.byBroker, brokerID)
	}
	delete(t.orders, localID)
}

// All returns a snapshot of every tracked order.
func (t *Tracker) All() []TrackedOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedOrder, 0, len(t.orders))
	for _, order := range t.orders {
		out = append(out, order.clone())
	}
	return out
}

// ReplaceFromVenue overwrites the cached request of the order owning
// brokerID with the externally confirmed copy. Used by open-order
// reconciliation so venue state wins over stale local state.
func (t *Tracker) ReplaceFromVenue(brokerID string, order schema.Order, requestedQty decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	localID, ok := t.byBroker[brokerID]
	if !ok {
		return false
	}
	tracked, ok := t.orders[localID]
	if !ok {
		return false
	}
	order.LocalID = tracked.LocalID
	tracked.Order = order
	tracked.RequestedQty = requestedQty.Abs()
	return true
}

// ApplyFill accumulates an execution against the order owning brokerID.
// qty is the absolute executed quantity in internal units; it is clamped so
// the cumulative fill never exceeds the requested quantity. The returned
// snapshot reflects the state after application; when the order completes it
// is evicted from the active cache before returning.
func (t *Tracker) ApplyFill(brokerID string, qty decimal.Decimal) (TrackedOrder, decimal.Decimal, bool) {
	qty = qty.Abs()
	t.mu.Lock()
	defer t.mu.Unlock()
	localID, ok := t.byBroker[brokerID]
	if !ok {
		return TrackedOrder{}, decimal.Zero, false
	}
	order, ok := t.orders[localID]
	if !ok {
		return TrackedOrder{}, decimal.Zero, false
	}
	remaining := order.RequestedQty.Sub(order.FilledQty)
	applied := qty
	if applied.GreaterThan(remaining) {
		applied = remaining
	}
	order.FilledQty = order.FilledQty.Add(applied)
	if order.FilledQty.GreaterThanOrEqual(order.RequestedQty) {
		order.Status = schema.StatusFilled
		snapshot := order.clone()
		t.removeLocked(localID)
		return snapshot, applied, true
	}
	order.Status = schema.StatusPartiallyFilled
	return order.clone(), applied, true
}
