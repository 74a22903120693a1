package bitfinex

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"venuelink/internal/observability"
	"venuelink/internal/schema"
	"venuelink/internal/venue/scale"
	"venuelink/internal/venue/shared"
)

// Client is the assembled Bitfinex connectivity layer: streaming decode
// and reconciliation on one side, the signed REST order path on the other,
// sharing a single order tracker so the two paths stay consistent.
type Client struct {
	opts Options

	codec      *scale.Codec
	tracker    *shared.Tracker
	buffer     *shared.TickBuffer
	registry   *Registry
	reconciler *Reconciler
	gateway    *Gateway
	conn       *connManager

	events chan schema.OrderEvent

	balancesMu sync.RWMutex
	balances   []schema.Balance

	tickMu    sync.Mutex
	lastTicks map[string]schema.Tick
}

// New builds a client from options. Credentials may be empty for
// market-data-only use; authenticated calls will then fail at the venue.
func New(opts Options) (*Client, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	codec, err := scale.New(opts.ScaleFactor)
	if err != nil {
		return nil, err
	}
	nonce := new(shared.NonceSource)
	transport, err := shared.NewTransport(shared.TransportConfig{
		Venue:        defaultVenue,
		BaseURL:      opts.RESTBaseURL,
		APIKey:       opts.APIKey,
		APISecret:    opts.APISecret,
		HeaderPrefix: restHeaderPrefix,
		HTTPClient:   opts.HTTPClient,
		PublicRPS:    opts.PublicRatePerSec,
		PrivateRPS:   opts.PrivateRatePerSec,
		Nonce:        nonce,
	})
	if err != nil {
		return nil, err
	}

	client := &Client{
		opts:      opts,
		codec:     codec,
		tracker:   shared.NewTracker(),
		buffer:    shared.NewTickBuffer(),
		events:    make(chan schema.OrderEvent, defaultEventBuffer),
		lastTicks: make(map[string]schema.Tick),
	}
	client.registry = NewRegistry()
	client.reconciler = NewReconciler(defaultVenue, codec, client.tracker)
	client.gateway = NewGateway(defaultVenue, transport, codec, client.tracker,
		opts.BaseCurrency, client.lastTickPrice, client.emit)
	client.conn = newConnManager(&client.opts, transport.Signer(), nonce,
		client.registry, NewDecoder(defaultVenue, client.registry), client.buffer, client.route)
	return client, nil
}

// Connect opens the streaming connection and blocks until it is live or
// authentication fails.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect tears down the streaming connection. Idempotent.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// ConnectionState reports the streaming connection lifecycle position.
func (c *Client) ConnectionState() State {
	return c.conn.State()
}

// Events returns the order event stream. This is the sole channel by which
// callers learn about fills, cancels, and rejections.
func (c *Client) Events() <-chan schema.OrderEvent {
	return c.events
}

// Ticks drains and returns the latest tick per symbol. A slow caller sees
// coalesced snapshots, never a backlog.
func (c *Client) Ticks() []schema.Tick {
	return c.buffer.Drain()
}

// LatestTick returns the most recent snapshot for one symbol without
// draining it.
func (c *Client) LatestTick(symbol string) (schema.Tick, bool) {
	return c.buffer.Latest(symbol)
}

// CachedBalances returns the balance set from the most recent wallet
// snapshot on the stream.
func (c *Client) CachedBalances() []schema.Balance {
	c.balancesMu.RLock()
	defer c.balancesMu.RUnlock()
	return append([]schema.Balance(nil), c.balances...)
}

// UnknownFills exposes broker ids of executions that matched no local
// order, for diagnostics.
func (c *Client) UnknownFills() []string {
	return c.reconciler.UnknownFills()
}

// PlaceOrder submits an order over REST.
func (c *Client) PlaceOrder(ctx context.Context, order schema.Order) error {
	return c.gateway.PlaceOrder(ctx, order)
}

// CancelOrder cancels every broker id of the local order.
func (c *Client) CancelOrder(ctx context.Context, localID string) error {
	return c.gateway.CancelOrder(ctx, localID)
}

// UpdateOrder cancel-replaces the local order with a new quantity and
// limit price.
func (c *Client) UpdateOrder(ctx context.Context, localID string, quantity, limitPrice decimal.Decimal) error {
	return c.gateway.UpdateOrder(ctx, localID, quantity, limitPrice)
}

// OpenOrders lists live venue orders, reconciling them into the tracker.
func (c *Client) OpenOrders(ctx context.Context) ([]schema.Order, error) {
	return c.gateway.OpenOrders(ctx)
}

// Balances fetches account balances with base-currency conversion rates.
func (c *Client) Balances(ctx context.Context) ([]schema.Balance, error) {
	return c.gateway.Balances(ctx)
}

// Holdings lists open positions.
func (c *Client) Holdings(ctx context.Context) ([]schema.Holding, error) {
	return c.gateway.Holdings(ctx)
}

// route receives every decoded non-control message from the single inbound
// reader, in arrival order.
func (c *Client) route(msg Message) {
	switch m := msg.(type) {
	case TradeExecution:
		if event, ok := c.reconciler.Process(m); ok {
			c.emit(event)
		}
	case WalletSnapshot:
		c.applyWallet(m)
	case TickerUpdate:
		c.applyTicker(m)
	}
}

func (c *Client) emit(event schema.OrderEvent) {
	select {
	case c.events <- event:
	default:
		observability.Telemetry().IncCounter(observability.MetricFramesDropped, 1,
			map[string]string{"venue": defaultVenue, "kind": "order_event"})
		observability.Log().Error("order event dropped, consumer too slow",
			observability.Field{Key: "venue", Value: defaultVenue},
			observability.Field{Key: "local_id", Value: event.LocalID},
			observability.Field{Key: "status", Value: string(event.Status)})
	}
}

// applyWallet replaces the cached balance set with the snapshot.
// Conversion rates are filled opportunistically from the tick cache; the
// REST Balances path resolves them authoritatively.
func (c *Client) applyWallet(snapshot WalletSnapshot) {
	balances := make([]schema.Balance, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		rate := decimal.Decimal{}
		if entry.Currency == c.opts.BaseCurrency {
			rate = decimal.NewFromInt(1)
		} else if price, ok := c.lastTickPrice(entry.Currency + c.opts.BaseCurrency); ok {
			rate = price
		}
		balances = append(balances, schema.Balance{
			Currency:       entry.Currency,
			Amount:         c.codec.ToInternalQty(entry.Balance),
			ConversionRate: rate,
		})
	}
	c.balancesMu.Lock()
	c.balances = balances
	c.balancesMu.Unlock()
}

// applyTicker overlays the update on the last observed snapshot for the
// symbol; a field the decoder could not parse keeps its previous value.
// The overlay base is kept outside the drainable buffer so a partial frame
// arriving right after Drain still sees the prior sibling fields.
func (c *Client) applyTicker(update TickerUpdate) {
	c.tickMu.Lock()
	tick := c.lastTicks[update.Symbol]
	c.tickMu.Unlock()
	tick.Symbol = update.Symbol
	tick.Time = time.Now().UTC()
	if update.Bid != nil {
		tick.Bid = c.codec.ToInternalPrice(*update.Bid)
	}
	if update.BidSize != nil {
		tick.BidSize = c.codec.ToInternalQty(*update.BidSize)
	}
	if update.Ask != nil {
		tick.Ask = c.codec.ToInternalPrice(*update.Ask)
	}
	if update.AskSize != nil {
		tick.AskSize = c.codec.ToInternalQty(*update.AskSize)
	}
	if update.Last != nil {
		tick.Last = c.codec.ToInternalPrice(*update.Last)
	}
	if update.Volume != nil {
		tick.Volume = c.codec.ToInternalQty(*update.Volume)
	}
	if update.High != nil {
		tick.High = c.codec.ToInternalPrice(*update.High)
	}
	if update.Low != nil {
		tick.Low = c.codec.ToInternalPrice(*update.Low)
	}
	c.tickMu.Lock()
	c.lastTicks[update.Symbol] = tick
	c.tickMu.Unlock()
	if !c.buffer.Put(tick) {
		observability.Log().Debug("tick rejected while buffer gated",
			observability.Field{Key: "venue", Value: defaultVenue},
			observability.Field{Key: "symbol", Value: update.Symbol})
	}
}

func (c *Client) lastTickPrice(symbol string) (decimal.Decimal, bool) {
	c.tickMu.Lock()
	tick, ok := c.lastTicks[symbol]
	c.tickMu.Unlock()
	if !ok {
		return decimal.Decimal{}, false
	}
	return tick.Price(), true
}
