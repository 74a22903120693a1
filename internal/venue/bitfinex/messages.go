// Package bitfinex implements the Bitfinex venue client: push-protocol
// decoding, subscription bookkeeping, fill reconciliation, and the signed
// REST order path.
package bitfinex

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is one decoded inbound frame. The decoder emits exactly one
// Message per frame; downstream code switches on the concrete type and
// never touches raw payloads.
type Message interface {
	message()
}

// Heartbeat is a channel keep-alive. It only refreshes liveness.
type Heartbeat struct {
	ChannelID int64
}

// TradeExecution reports an execution against one of the account's orders.
// Amounts and prices are in exchange units; AmountExecuted is signed by
// direction.
type TradeExecution struct {
	Sequence       string
	TradeID        string
	Pair           string
	Timestamp      time.Time
	BrokerOrderID  string
	AmountExecuted decimal.Decimal
	PriceExecuted  decimal.Decimal
	OrderKind      string
	Fee            decimal.Decimal
	FeeCurrency    string
}

// WalletEntry is one currency balance inside a wallet snapshot.
type WalletEntry struct {
	WalletType string
	Currency   string
	Balance    decimal.Decimal
}

// WalletSnapshot carries the full balance set; it replaces any previously
// known balances, it is never a delta.
type WalletSnapshot struct {
	Entries []WalletEntry
}

// TickerUpdate is a positional ticker frame resolved to its symbol via the
// subscription registry. Field pointers are nil when the wire value failed
// numeric parse; nil means unchanged, not zero.
type TickerUpdate struct {
	ChannelID int64
	Symbol    string
	Bid       *decimal.Decimal
	BidSize   *decimal.Decimal
	Ask       *decimal.Decimal
	AskSize   *decimal.Decimal
	Last      *decimal.Decimal
	Volume    *decimal.Decimal
	High      *decimal.Decimal
	Low       *decimal.Decimal
}

// SubscribeAck confirms a ticker subscription and assigns its channel id.
// Pair may be empty on venues that omit it; the connection manager then
// matches the ack to the oldest in-flight subscribe request.
type SubscribeAck struct {
	ChannelID int64
	Channel   string
	Pair      string
}

// AuthAck reports the outcome of an auth request on channel 0.
type AuthAck struct {
	OK      bool
	Message string
}

// ResetKind distinguishes the venue's reconnect signals.
type ResetKind int

const (
	// ResetHard requires a full reconnect and resubscription.
	ResetHard ResetKind = iota + 1
	// ResetSoft requires re-authentication and resubscription on the
	// live socket.
	ResetSoft
)

// InfoSignal is a venue control message instructing a reset.
type InfoSignal struct {
	Kind ResetKind
	Code int64
}

// UnknownMessage wraps a frame whose shape was decodable JSON but matched
// no known variant. Logged and discarded by the caller.
type UnknownMessage struct {
	Raw []byte
}

func (Heartbeat) message()      {}
func (TradeExecution) message() {}
func (WalletSnapshot) message() {}
func (TickerUpdate) message()   {}
func (SubscribeAck) message()   {}
func (AuthAck) message()        {}
func (InfoSignal) message()     {}
func (UnknownMessage) message() {}
