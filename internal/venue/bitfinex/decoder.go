package bitfinex

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"venuelink/errs"
)

// Info codes the venue uses to request a reset.
const (
	infoCodeHardReset = 20051
	infoCodeSoftReset = 20061
)

// Trade payload layouts by observed arity. The long layout carries trade
// id, fee, and fee currency; the legacy short layout omits them.
const (
	tradeFieldsFull   = 11
	tradeFieldsLegacy = 8
)

// Decoder turns raw frames into the closed Message set. Ticker frames are
// positional arrays keyed only by channel id, so the decoder consults the
// subscription registry to resolve the symbol.
type Decoder struct {
	venue    string
	registry *Registry
}

// NewDecoder creates a decoder bound to the given registry.
func NewDecoder(venue string, registry *Registry) *Decoder {
	return &Decoder{venue: venue, registry: registry}
}

// Decode parses one raw frame into exactly one Message. A frame whose
// outer shape cannot be parsed fails with an error that carries the raw
// payload; a parseable frame matching no known variant decodes to
// UnknownMessage. A failed numeric sub-field never aborts the containing
// message.
func (d *Decoder) Decode(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, d.decodeError(frame, "empty frame", nil)
	}
	switch trimmed[0] {
	case '[':
		return d.decodeArray(trimmed)
	case '{':
		return d.decodeObject(trimmed)
	default:
		return nil, d.decodeError(frame, "frame is neither array nor object", nil)
	}
}

func (d *Decoder) decodeArray(frame []byte) (Message, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(frame, &elems); err != nil {
		return nil, d.decodeError(frame, "unparseable array frame", err)
	}
	if len(elems) < 2 {
		return UnknownMessage{Raw: frame}, nil
	}
	channelID, ok := parseInt(elems[0])
	if !ok {
		return nil, d.decodeError(frame, "array frame without leading channel id", nil)
	}
	if tag, ok := parseString(elems[1]); ok {
		switch tag {
		case "hb":
			return Heartbeat{ChannelID: channelID}, nil
		case "tu", "te":
			if len(elems) < 3 {
				return nil, d.decodeError(frame, "trade frame without payload", nil)
			}
			return d.decodeTrade(frame, elems[2])
		case "ws":
			if len(elems) < 3 {
				return nil, d.decodeError(frame, "wallet frame without payload", nil)
			}
			return d.decodeWallet(frame, elems[2])
		}
	}
	if ch, found := d.registry.Lookup(channelID); found && ch.Kind == KindTicker {
		return d.decodeTicker(channelID, ch.Symbol, elems[1:]), nil
	}
	return UnknownMessage{Raw: frame}, nil
}

func (d *Decoder) decodeTrade(frame, payload []byte) (Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, d.decodeError(frame, "unparseable trade payload", err)
	}
	var msg TradeExecution
	switch {
	case len(fields) >= tradeFieldsFull:
		msg.Sequence, _ = parseString(fields[0])
		msg.TradeID, _ = parseString(fields[1])
		msg.Pair, _ = parseString(fields[2])
		msg.Timestamp = parseTimestamp(fields[3])
		msg.BrokerOrderID, _ = parseString(fields[4])
		msg.AmountExecuted = parseDecimalOrZero(fields[5])
		msg.PriceExecuted = parseDecimalOrZero(fields[6])
		msg.OrderKind, _ = parseString(fields[7])
		msg.Fee = parseDecimalOrZero(fields[9])
		msg.FeeCurrency, _ = parseString(fields[10])
	case len(fields) >= tradeFieldsLegacy:
		msg.Sequence, _ = parseString(fields[0])
		msg.Pair, _ = parseString(fields[1])
		msg.Timestamp = parseTimestamp(fields[2])
		msg.BrokerOrderID, _ = parseString(fields[3])
		msg.AmountExecuted = parseDecimalOrZero(fields[4])
		msg.PriceExecuted = parseDecimalOrZero(fields[5])
		msg.OrderKind, _ = parseString(fields[6])
	default:
		return nil, d.decodeError(frame, "trade payload with unsupported field count", nil)
	}
	msg.Pair = strings.ToUpper(strings.TrimSpace(msg.Pair))
	msg.FeeCurrency = strings.ToUpper(strings.TrimSpace(msg.FeeCurrency))
	if msg.BrokerOrderID == "" {
		return nil, d.decodeError(frame, "trade payload without broker order id", nil)
	}
	return msg, nil
}

func (d *Decoder) decodeWallet(frame, payload []byte) (Message, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, d.decodeError(frame, "unparseable wallet payload", err)
	}
	snapshot := WalletSnapshot{Entries: make([]WalletEntry, 0, len(rows))}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		walletType, _ := parseString(row[0])
		currency, _ := parseString(row[1])
		balance, ok := parseDecimal(row[2])
		if currency == "" || !ok {
			continue
		}
		snapshot.Entries = append(snapshot.Entries, WalletEntry{
			WalletType: walletType,
			Currency:   strings.ToUpper(strings.TrimSpace(currency)),
			Balance:    balance,
		})
	}
	return snapshot, nil
}

// Ticker positional layout: bid, bid size, ask, ask size, daily change,
// daily change percent, last, volume, high, low. A field that fails
// numeric parse stays nil, meaning unchanged.
func (d *Decoder) decodeTicker(channelID int64, symbol string, fields []json.RawMessage) TickerUpdate {
	update := TickerUpdate{ChannelID: channelID, Symbol: symbol}
	assign := func(idx int, target **decimal.Decimal) {
		if idx >= len(fields) {
			return
		}
		if value, ok := parseDecimal(fields[idx]); ok {
			*target = &value
		}
	}
	assign(0, &update.Bid)
	assign(1, &update.BidSize)
	assign(2, &update.Ask)
	assign(3, &update.AskSize)
	assign(6, &update.Last)
	assign(7, &update.Volume)
	assign(8, &update.High)
	assign(9, &update.Low)
	return update
}

func (d *Decoder) decodeObject(frame []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, d.decodeError(frame, "unparseable object frame", err)
	}
	event, _ := parseString(fields["event"])
	channel, _ := parseString(fields["channel"])
	chanID, hasChanID := parseInt(fields["chanId"])

	if event == "subscribed" && channel == "ticker" {
		pair, _ := parseString(fields["pair"])
		return SubscribeAck{
			ChannelID: chanID,
			Channel:   channel,
			Pair:      strings.ToUpper(strings.TrimSpace(pair)),
		}, nil
	}
	if event == "info" {
		if code, ok := parseInt(fields["code"]); ok {
			switch code {
			case infoCodeHardReset:
				return InfoSignal{Kind: ResetHard, Code: code}, nil
			case infoCodeSoftReset:
				return InfoSignal{Kind: ResetSoft, Code: code}, nil
			}
		}
		return UnknownMessage{Raw: frame}, nil
	}
	if event == "auth" || (hasChanID && chanID == 0) {
		status, _ := parseString(fields["status"])
		if strings.EqualFold(status, "FAIL") {
			code, _ := parseString(fields["code"])
			msg, _ := parseString(fields["msg"])
			if msg == "" {
				msg = code
			}
			return AuthAck{OK: false, Message: msg}, nil
		}
		return AuthAck{OK: true}, nil
	}
	return UnknownMessage{Raw: frame}, nil
}

func (d *Decoder) decodeError(frame []byte, message string, cause error) error {
	opts := []errs.Option{errs.WithMessage(message), errs.WithRawPayload(frame)}
	if cause != nil {
		opts = append(opts, errs.WithCause(cause))
	}
	return errs.New(d.venue, errs.CodeDecode, opts...)
}

// parseString reads a raw JSON value as a string, tolerating unquoted
// scalars.
func parseString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	return trimmed, true
}

// parseInt reads a raw JSON value as an integer, tolerating quoted numbers
// and float renderings.
func parseInt(raw json.RawMessage) (int64, bool) {
	s, ok := parseString(raw)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// parseDecimal reads a numeric field, normalizing exponential notation to
// fixed point. Fee magnitudes are small fractions that commonly serialize
// exponentially, so every numeric field goes through this path.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, bool) {
	s, ok := parseString(raw)
	if !ok {
		return decimal.Decimal{}, false
	}
	value, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

func parseDecimalOrZero(raw json.RawMessage) decimal.Decimal {
	value, ok := parseDecimal(raw)
	if !ok {
		return decimal.Zero
	}
	return value
}

// parseTimestamp reads a unix-seconds field that may carry a fractional
// part or stray whitespace.
func parseTimestamp(raw json.RawMessage) time.Time {
	value, ok := parseDecimal(raw)
	if !ok {
		return time.Time{}
	}
	seconds := value.IntPart()
	nanos := value.Sub(decimal.NewFromInt(seconds)).Mul(decimal.NewFromInt(int64(time.Second))).IntPart()
	return time.Unix(seconds, nanos).UTC()
}
