package shared

import (
	"testing"

	"github.com/shopspring/decimal"

	"venuelink/internal/schema"
)

func TestPutOverwritesLatest(t *testing.T) {
	buffer := NewTickBuffer()
	buffer.Put(schema.Tick{Symbol: "BTCUSD", Last: decimal.NewFromInt(1)})
	buffer.Put(schema.Tick{Symbol: "BTCUSD", Last: decimal.NewFromInt(2)})
	buffer.Put(schema.Tick{Symbol: "ETHUSD", Last: decimal.NewFromInt(9)})

	ticks := buffer.Drain()
	if len(ticks) != 2 {
		t.Fatalf("drained %d ticks, want 2 (coalesced)", len(ticks))
	}
	for _, tick := range ticks {
		if tick.Symbol == "BTCUSD" && !tick.Last.Equal(decimal.NewFromInt(2)) {
			t.Fatalf("stale BTCUSD tick survived: %s", tick.Last)
		}
	}
	if again := buffer.Drain(); again != nil {
		t.Fatalf("second drain should be empty, got %v", again)
	}
}

func TestGateDiscardsSnapshots(t *testing.T) {
	buffer := NewTickBuffer()
	buffer.Gate()
	if buffer.Put(schema.Tick{Symbol: "BTCUSD"}) {
		t.Fatalf("gated buffer must reject snapshots")
	}
	buffer.Open()
	if !buffer.Put(schema.Tick{Symbol: "BTCUSD"}) {
		t.Fatalf("reopened buffer must accept snapshots")
	}
	if _, ok := buffer.Latest("BTCUSD"); !ok {
		t.Fatalf("snapshot missing after reopen")
	}
}
