package shared

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"venuelink/internal/schema"
)

func newTestOrder(t *testing.T, qty int64) schema.Order {
	t.Helper()
	order, err := schema.NewOrder("BTCUSD", decimal.NewFromInt(qty), schema.OrderTypeLimit)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	return order
}

func TestAddAndFindByBrokerID(t *testing.T) {
	tracker := NewTracker()
	order := newTestOrder(t, 3)
	tracker.Add(order, decimal.NewFromInt(300))
	if !tracker.AddBrokerID(order.LocalID, "42") {
		t.Fatalf("AddBrokerID failed")
	}

	got, ok := tracker.FindByBrokerID("42")
	if !ok {
		t.Fatalf("order not found by broker id")
	}
	if got.LocalID != order.LocalID || got.Status != schema.StatusSubmitted {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if _, ok := tracker.FindByBrokerID("99"); ok {
		t.Fatalf("unknown broker id should not resolve")
	}
}

func TestAddBrokerIDGrowsSetWithoutDuplicates(t *testing.T) {
	tracker := NewTracker()
	order := newTestOrder(t, 1)
	tracker.Add(order, decimal.NewFromInt(100))
	tracker.AddBrokerID(order.LocalID, "1")
	tracker.AddBrokerID(order.LocalID, "2")
	tracker.AddBrokerID(order.LocalID, "2")

	got, _ := tracker.FindByLocalID(order.LocalID)
	if len(got.BrokerIDs) != 2 {
		t.Fatalf("broker ids = %v, want [1 2]", got.BrokerIDs)
	}
	if _, ok := tracker.FindByBrokerID("1"); !ok {
		t.Fatalf("old broker id must stay resolvable after replace")
	}
}

func TestApplyFillPartialThenComplete(t *testing.T) {
	tracker := NewTracker()
	order := newTestOrder(t, 4)
	tracker.Add(order, decimal.NewFromInt(400))
	tracker.AddBrokerID(order.LocalID, "7")

	snapshot, applied, ok := tracker.ApplyFill("7", decimal.NewFromInt(200))
	if !ok {
		t.Fatalf("fill should match")
	}
	if snapshot.Status != schema.StatusPartiallyFilled || !applied.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("partial fill snapshot = %+v applied = %s", snapshot, applied)
	}

	snapshot, applied, ok = tracker.ApplyFill("7", decimal.NewFromInt(200))
	if !ok || snapshot.Status != schema.StatusFilled {
		t.Fatalf("complete fill snapshot = %+v", snapshot)
	}
	if !applied.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("applied = %s, want 200", applied)
	}
	if _, ok := tracker.FindByBrokerID("7"); ok {
		t.Fatalf("terminal order must be evicted from the broker index")
	}
}

func TestApplyFillClampsOverfill(t *testing.T) {
	tracker := NewTracker()
	order := newTestOrder(t, 3)
	tracker.Add(order, decimal.NewFromInt(300))
	tracker.AddBrokerID(order.LocalID, "8")

	snapshot, applied, ok := tracker.ApplyFill("8", decimal.NewFromInt(500))
	if !ok {
		t.Fatalf("fill should match")
	}
	if !applied.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("applied = %s, want clamp to 300", applied)
	}
	if snapshot.Status != schema.StatusFilled {
		t.Fatalf("status = %s, want Filled", snapshot.Status)
	}
	if snapshot.FilledQty.GreaterThan(snapshot.RequestedQty) {
		t.Fatalf("cumulative fill %s exceeds requested %s", snapshot.FilledQty, snapshot.RequestedQty)
	}
}

func TestReplaceFromVenueOverwritesStaleCopy(t *testing.T) {
	tracker := NewTracker()
	order := newTestOrder(t, 2)
	order.LimitPrice = decimal.NewFromInt(123)
	tracker.Add(order, decimal.NewFromInt(200))
	tracker.AddBrokerID(order.LocalID, "5")

	confirmed := order
	confirmed.LimitPrice = decimal.RequireFromString("4.56")
	if !tracker.ReplaceFromVenue("5", confirmed, decimal.NewFromInt(200)) {
		t.Fatalf("replace should resolve broker id")
	}
	got, _ := tracker.FindByLocalID(order.LocalID)
	if !got.Order.LimitPrice.Equal(decimal.RequireFromString("4.56")) {
		t.Fatalf("limit price not overwritten: %s", got.Order.LimitPrice)
	}
	if got.LocalID != order.LocalID {
		t.Fatalf("local id must survive venue overwrite")
	}
}

func TestConcurrentFillsAndCancelReplace(t *testing.T) {
	tracker := NewTracker()
	order := newTestOrder(t, 1000)
	tracker.Add(order, decimal.NewFromInt(100000))
	tracker.AddBrokerID(order.LocalID, "base")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			tracker.AddBrokerID(order.LocalID, fmt.Sprintf("replace-%d", i))
		}(i)
		go func() {
			defer wg.Done()
			tracker.ApplyFill("base", decimal.NewFromInt(10))
		}()
	}
	wg.Wait()

	got, ok := tracker.FindByLocalID(order.LocalID)
	if !ok {
		t.Fatalf("order evicted prematurely")
	}
	if !got.FilledQty.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("filled = %s, want 80 (no lost updates)", got.FilledQty)
	}
	if len(got.BrokerIDs) != 9 {
		t.Fatalf("broker ids = %d, want 9", len(got.BrokerIDs))
	}
}
