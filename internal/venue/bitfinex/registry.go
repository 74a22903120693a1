package bitfinex

import (
	"sort"
	"strings"
	"sync"
)

// ChannelKind classifies a subscribed channel.
type ChannelKind string

const (
	// KindTicker is a public ticker channel.
	KindTicker ChannelKind = "ticker"
	// KindTrade is the authenticated trade channel.
	KindTrade ChannelKind = "trade"
	// KindWallet is the authenticated wallet channel.
	KindWallet ChannelKind = "wallet"
)

// Channel maps a venue-assigned channel id to a kind and symbol.
type Channel struct {
	ID     int64
	Kind   ChannelKind
	Symbol string
}

// Registry tracks the channel-id to (kind, symbol) mapping for the current
// connection. Channel ids are ephemeral per socket; symbols are the durable
// identity across reconnects. Written by the single inbound reader, read
// concurrently by snapshot consumers.
type Registry struct {
	mu   sync.RWMutex
	byID map[int64]Channel
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int64]Channel)}
}

// Register records a channel assignment. Re-registering a symbol under a
// new id supersedes any previous id for that (kind, symbol): a stale id
// left pointing at the symbol would misroute ticker frames after a reset.
func (r *Registry) Register(id int64, kind ChannelKind, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.Lock()
	defer r.mu.Unlock()
	for existing, ch := range r.byID {
		if existing != id && ch.Kind == kind && ch.Symbol == symbol {
			delete(r.byID, existing)
		}
	}
	r.byID[id] = Channel{ID: id, Kind: kind, Symbol: symbol}
}

// Lookup resolves a channel id.
func (r *Registry) Lookup(id int64) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[id]
	return ch, ok
}

// SymbolsOf returns the sorted symbol set subscribed under the given kind.
func (r *Registry) SymbolsOf(kind ChannelKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, ch := range r.byID {
		if ch.Kind == kind {
			seen[ch.Symbol] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Clear drops every channel entry. Called on hard reset after the symbol
// set has been captured for replay.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[int64]Channel)
}

// Snapshot returns a copy of every current channel entry.
func (r *Registry) Snapshot() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
