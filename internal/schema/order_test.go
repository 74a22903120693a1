package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewOrderAssignsLocalID(t *testing.T) {
	first, err := NewOrder("btcusd", decimal.NewFromInt(300), OrderTypeMarket)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	if first.LocalID == "" {
		t.Fatalf("local id not assigned")
	}
	if first.Symbol != "BTCUSD" {
		t.Fatalf("symbol not normalized: %q", first.Symbol)
	}
	second, err := NewOrder("BTCUSD", decimal.NewFromInt(300), OrderTypeMarket)
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	if first.LocalID == second.LocalID {
		t.Fatalf("local ids must be unique")
	}
}

func TestNewOrderRejectsInvalidInput(t *testing.T) {
	if _, err := NewOrder("", decimal.NewFromInt(1), OrderTypeLimit); err == nil {
		t.Fatalf("expected error for empty symbol")
	}
	if _, err := NewOrder("BTCUSD", decimal.Zero, OrderTypeLimit); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
	if _, err := NewOrder("BTCUSD", decimal.NewFromInt(1), OrderType("Iceberg")); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestOrderSideFromQuantitySign(t *testing.T) {
	buy, _ := NewOrder("BTCUSD", decimal.NewFromInt(5), OrderTypeLimit)
	if buy.Side() != SideBuy {
		t.Fatalf("positive quantity should be a buy")
	}
	sell, _ := NewOrder("BTCUSD", decimal.NewFromInt(-5), OrderTypeLimit)
	if sell.Side() != SideSell {
		t.Fatalf("negative quantity should be a sell")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range []OrderStatus{StatusFilled, StatusCanceled, StatusInvalid} {
		if !status.Terminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
	for _, status := range []OrderStatus{StatusSubmitted, StatusPartiallyFilled} {
		if status.Terminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
}

func TestTickPrice(t *testing.T) {
	withLast := Tick{Last: decimal.RequireFromString("4.3272")}
	if !withLast.Price().Equal(decimal.RequireFromString("4.3272")) {
		t.Fatalf("price should prefer last: %s", withLast.Price())
	}
	quoted := Tick{Bid: decimal.NewFromInt(4), Ask: decimal.NewFromInt(6)}
	if !quoted.Price().Equal(decimal.NewFromInt(5)) {
		t.Fatalf("midpoint price = %s, want 5", quoted.Price())
	}
}
