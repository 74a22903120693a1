package bitfinex

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"venuelink/internal/schema"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{Symbols: []string{"BTCUSD"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func dec(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return &v
}

func TestRouteTradeEmitsOrderEvent(t *testing.T) {
	c := newTestClient(t)
	order, err := schema.NewOrder("BTCUSD", decimal.NewFromInt(300), schema.OrderTypeLimit)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	c.tracker.Add(order, order.Quantity.Abs())
	c.tracker.AddBrokerID(order.LocalID, "2")

	c.route(TradeExecution{
		Pair:           "BTCUSD",
		BrokerOrderID:  "2",
		AmountExecuted: decimal.NewFromInt(3),
		PriceExecuted:  decimal.NewFromInt(4),
		Fee:            decimal.NewFromInt(6),
		FeeCurrency:    "USD",
	})

	select {
	case event := <-c.Events():
		if event.Status != schema.StatusFilled {
			t.Fatalf("status = %s", event.Status)
		}
		if !event.FillQuantity.Equal(decimal.NewFromInt(300)) {
			t.Fatalf("fill quantity = %s", event.FillQuantity)
		}
		if !event.FillPrice.Equal(decimal.RequireFromString("0.04")) {
			t.Fatalf("fill price = %s", event.FillPrice)
		}
		if !event.Fee.Equal(decimal.RequireFromString("0.06")) {
			t.Fatalf("fee = %s", event.Fee)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestRouteUnknownTradeEmitsNothing(t *testing.T) {
	c := newTestClient(t)
	c.route(TradeExecution{
		Pair:           "BTCUSD",
		BrokerOrderID:  "404",
		AmountExecuted: decimal.NewFromInt(1),
		PriceExecuted:  decimal.NewFromInt(4),
	})
	select {
	case event := <-c.Events():
		t.Fatalf("unexpected event %+v", event)
	default:
	}
	if unknown := c.UnknownFills(); len(unknown) != 1 || unknown[0] != "404" {
		t.Fatalf("unknown fills = %v", unknown)
	}
}

func TestRouteTickerMergesPartialUpdates(t *testing.T) {
	c := newTestClient(t)
	c.route(TickerUpdate{
		Symbol: "BTCUSD",
		Bid:    dec(t, "432.51"),
		Ask:    dec(t, "432.74"),
		Last:   dec(t, "432.72"),
	})
	tick, ok := c.LatestTick("BTCUSD")
	if !ok {
		t.Fatal("no tick cached")
	}
	if !tick.Last.Equal(decimal.RequireFromString("4.3272")) {
		t.Fatalf("last = %s", tick.Last)
	}
	if !tick.Price().Equal(decimal.RequireFromString("4.3272")) {
		t.Fatalf("price = %s", tick.Price())
	}

	// a later frame with only a bid keeps the prior ask and last
	c.route(TickerUpdate{Symbol: "BTCUSD", Bid: dec(t, "433")})
	tick, _ = c.LatestTick("BTCUSD")
	if !tick.Bid.Equal(decimal.RequireFromString("4.33")) {
		t.Fatalf("bid = %s", tick.Bid)
	}
	if !tick.Ask.Equal(decimal.RequireFromString("4.3274")) {
		t.Fatalf("ask not retained: %s", tick.Ask)
	}
	if !tick.Last.Equal(decimal.RequireFromString("4.3272")) {
		t.Fatalf("last not retained: %s", tick.Last)
	}
}

func TestRouteTickerRetainsFieldsAcrossDrain(t *testing.T) {
	c := newTestClient(t)
	c.route(TickerUpdate{
		Symbol: "BTCUSD",
		Bid:    dec(t, "432.51"),
		Ask:    dec(t, "432.74"),
		Last:   dec(t, "432.72"),
	})
	if ticks := c.Ticks(); len(ticks) != 1 {
		t.Fatalf("ticks = %d", len(ticks))
	}

	// a partial frame right after a drain must still see the prior siblings
	c.route(TickerUpdate{Symbol: "BTCUSD", Bid: dec(t, "433")})
	ticks := c.Ticks()
	if len(ticks) != 1 {
		t.Fatalf("ticks = %d", len(ticks))
	}
	if !ticks[0].Bid.Equal(decimal.RequireFromString("4.33")) {
		t.Fatalf("bid = %s", ticks[0].Bid)
	}
	if !ticks[0].Ask.Equal(decimal.RequireFromString("4.3274")) {
		t.Fatalf("ask zeroed across drain: %s", ticks[0].Ask)
	}
	if !ticks[0].Last.Equal(decimal.RequireFromString("4.3272")) {
		t.Fatalf("last zeroed across drain: %s", ticks[0].Last)
	}
}

func TestTicksDrainCoalesced(t *testing.T) {
	c := newTestClient(t)
	c.route(TickerUpdate{Symbol: "BTCUSD", Last: dec(t, "432.72")})
	c.route(TickerUpdate{Symbol: "BTCUSD", Last: dec(t, "433.00")})

	ticks := c.Ticks()
	if len(ticks) != 1 {
		t.Fatalf("ticks = %d, want coalesced single snapshot", len(ticks))
	}
	if !ticks[0].Last.Equal(decimal.RequireFromString("4.33")) {
		t.Fatalf("last = %s", ticks[0].Last)
	}
	if again := c.Ticks(); len(again) != 0 {
		t.Fatalf("drain did not clear, got %d", len(again))
	}
}

func TestRouteWalletReplacesBalances(t *testing.T) {
	c := newTestClient(t)
	c.route(WalletSnapshot{Entries: []WalletEntry{
		{WalletType: "exchange", Currency: "USD", Balance: decimal.RequireFromString("100.12")},
		{WalletType: "exchange", Currency: "BTC", Balance: decimal.NewFromInt(5)},
	}})
	balances := c.CachedBalances()
	if len(balances) != 2 {
		t.Fatalf("balances = %d", len(balances))
	}
	if balances[0].Currency != "USD" || !balances[0].Amount.Equal(decimal.NewFromInt(10012)) {
		t.Fatalf("usd balance = %+v", balances[0])
	}
	if !balances[0].ConversionRate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("usd rate = %s", balances[0].ConversionRate)
	}

	// the next snapshot replaces, never merges
	c.route(WalletSnapshot{Entries: []WalletEntry{
		{WalletType: "exchange", Currency: "ETH", Balance: decimal.NewFromInt(2)},
	}})
	balances = c.CachedBalances()
	if len(balances) != 1 || balances[0].Currency != "ETH" {
		t.Fatalf("balances after replace = %+v", balances)
	}
}
