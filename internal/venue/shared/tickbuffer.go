package shared

import (
	"sync"

	"venuelink/internal/schema"
)

// TickBuffer holds the latest tick per symbol. Producers overwrite; a slow
// consumer sees coalesced, not delayed, ticks. The buffer is gated closed
// during a hard reset until the subscription registry has been rebuilt.
type TickBuffer struct {
	mu    sync.Mutex
	ticks map[string]schema.Tick
	gated bool
}

// NewTickBuffer creates an open, empty buffer.
func NewTickBuffer() *TickBuffer {
	return &TickBuffer{ticks: make(map[string]schema.Tick)}
}

// Put stores the snapshot for its symbol, overwriting any previous one.
// Snapshots arriving while the buffer is gated are discarded.
func (b *TickBuffer) Put(tick schema.Tick) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gated {
		return false
	}
	b.ticks[tick.Symbol] = tick
	return true
}

// Latest returns the current snapshot for the symbol, if any.
func (b *TickBuffer) Latest(symbol string) (schema.Tick, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tick, ok := b.ticks[symbol]
	return tick, ok
}

// Drain returns all current snapshots and clears the buffer.
func (b *TickBuffer) Drain() []schema.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ticks) == 0 {
		return nil
	}
	out := make([]schema.Tick, 0, len(b.ticks))
	for _, tick := range b.ticks {
		out = append(out, tick)
	}
	b.ticks = make(map[string]schema.Tick)
	return out
}

// Gate closes the buffer to new snapshots.
func (b *TickBuffer) Gate() {
	b.mu.Lock()
	b.gated = true
	b.mu.Unlock()
}

// Open reopens the buffer after a registry rebuild.
func (b *TickBuffer) Open() {
	b.mu.Lock()
	b.gated = false
	b.mu.Unlock()
}
