package bitfinex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"venuelink/errs"
	"venuelink/internal/observability"
	"venuelink/internal/venue/shared"
)

// State is the connection lifecycle position.
type State int32

const (
	// StateDisconnected is the idle state before connect and after
	// disconnect or fatal failure.
	StateDisconnected State = iota
	// StateConnecting covers socket dialing.
	StateConnecting
	// StateAuthenticating covers the signed auth exchange.
	StateAuthenticating
	// StateSubscribing covers resubscription of the symbol set.
	StateSubscribing
	// StateLive is the steady state.
	StateLive
	// StateReconnecting covers the backoff window between sessions.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

const connWriteTimeout = 5 * time.Second

// errHardReset forces the session loop to drop the socket and re-handshake.
var errHardReset = errors.New("venue requested hard reset")

// wsConn is the minimal socket surface the manager needs; tests substitute
// an in-memory implementation.
type wsConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wsConn, error)

type websocketConn struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &websocketConn{conn: conn}, nil
}

func (w *websocketConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *websocketConn) Write(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

func (w *websocketConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "disconnect")
}

type authRequest struct {
	Event       string `json:"event"`
	APIKey      string `json:"apiKey"`
	AuthSig     string `json:"authSig"`
	AuthPayload string `json:"authPayload"`
	AuthNonce   string `json:"authNonce"`
}

type unauthRequest struct {
	Event string `json:"event"`
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Pair    string `json:"pair"`
}

// connManager owns the socket lifecycle: dial, signed auth, subscription
// replay, heartbeat liveness, and the reset protocol. A single goroutine
// reads, decodes, and routes inbound frames in arrival order; that is what
// guarantees subscription acks are observed before ticker frames carrying
// the new channel ids. Reconnects are serialized by construction, a reset
// arriving while no reader is running folds into the in-flight attempt.
type connManager struct {
	opts     *Options
	signer   shared.Signer
	nonce    *shared.NonceSource
	registry *Registry
	decoder  *Decoder
	buffer   *shared.TickBuffer
	route    func(Message)

	state    atomic.Int32
	lastSeen atomic.Int64
	bo       *backoff.ExponentialBackOff

	mu      sync.Mutex
	conn    wsConn
	cancel  context.CancelFunc
	done    chan struct{}
	pending []string
}

func newConnManager(opts *Options, signer shared.Signer, nonce *shared.NonceSource,
	registry *Registry, decoder *Decoder, buffer *shared.TickBuffer, route func(Message)) *connManager {
	return &connManager{
		opts:     opts,
		signer:   signer,
		nonce:    nonce,
		registry: registry,
		decoder:  decoder,
		buffer:   buffer,
		route:    route,
		bo:       backoff.NewExponentialBackOff(),
	}
}

// Connect starts the session loop and blocks until the connection reaches
// Live or fails fatally. After a successful return the loop keeps the
// connection alive in the background, reconnecting on non-fatal failures.
func (c *connManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.run(runCtx, done, ready)

	select {
	case err := <-ready:
		if err != nil {
			c.Disconnect()
		}
		return err
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	}
}

// Disconnect tears the connection down. Safe to call from any state and
// repeatedly; disconnecting an already-closed connection is a no-op.
func (c *connManager) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.cancel = nil
	c.conn = nil
	c.done = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	c.setState(StateDisconnected)
}

// State reports the current lifecycle position.
func (c *connManager) State() State {
	return State(c.state.Load())
}

func (c *connManager) setState(s State) {
	c.state.Store(int32(s))
	observability.Telemetry().SetGauge(observability.MetricConnectionState, float64(s),
		map[string]string{"venue": defaultVenue})
}

func (c *connManager) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *connManager) run(ctx context.Context, done chan struct{}, ready chan<- error) {
	defer close(done)
	// Release the lifecycle slot so a later Connect performs a full
	// handshake instead of hitting the already-running guard. Disconnect
	// may have cleared the slot first; only reset our own registration,
	// and flip to Disconnected only once the slot is free so a caller
	// observing the state can immediately reconnect.
	defer func() {
		c.mu.Lock()
		owner := c.done == done
		if owner {
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
		if owner {
			c.setState(StateDisconnected)
		}
	}()
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			ready <- err
		}
	}
	for {
		err := c.session(ctx, report)
		if ctx.Err() != nil {
			report(ctx.Err())
			return
		}
		if errs.IsCode(err, errs.CodeAuth) {
			observability.Log().Error("authentication rejected, not retrying",
				observability.Field{Key: "venue", Value: defaultVenue},
				observability.Field{Key: "error", Value: err.Error()})
			report(err)
			return
		}
		if err != nil && !errors.Is(err, errHardReset) {
			observability.Log().Error("session ended",
				observability.Field{Key: "venue", Value: defaultVenue},
				observability.Field{Key: "error", Value: err.Error()})
		}
		c.setState(StateReconnecting)
		observability.Telemetry().IncCounter(observability.MetricReconnects, 1,
			map[string]string{"venue": defaultVenue})
		select {
		case <-ctx.Done():
			report(ctx.Err())
			return
		case <-time.After(c.bo.NextBackOff()):
		}
	}
}

// session runs one socket lifetime: dial, auth, subscribe, read until the
// socket fails, a hard reset arrives, or the context ends.
func (c *connManager) session(ctx context.Context, report func(error)) error {
	c.setState(StateConnecting)
	conn, err := c.opts.dial(ctx, c.opts.WebsocketURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.touch()
	go c.watchdog(sessCtx, conn)

	c.setState(StateAuthenticating)
	if err := c.sendAuth(sessCtx, conn); err != nil {
		return err
	}

	for {
		frame, err := conn.Read(sessCtx)
		if err != nil {
			return err
		}
		c.touch()
		msg, err := c.decoder.Decode(frame)
		if err != nil {
			observability.Telemetry().IncCounter(observability.MetricFramesDropped, 1,
				map[string]string{"venue": defaultVenue})
			observability.Log().Error("undecodable frame",
				observability.Field{Key: "venue", Value: defaultVenue},
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		observability.Telemetry().IncCounter(observability.MetricFramesDecoded, 1,
			map[string]string{"venue": defaultVenue})

		switch m := msg.(type) {
		case Heartbeat:
			// liveness already refreshed
		case AuthAck:
			if !m.OK {
				return errs.New(defaultVenue, errs.CodeAuth,
					errs.WithMessage("venue rejected authentication"),
					errs.WithRawCode(m.Message))
			}
			if err := c.beginSubscribing(sessCtx, conn, report); err != nil {
				return err
			}
		case SubscribeAck:
			c.handleSubscribeAck(m, report)
		case InfoSignal:
			if m.Kind == ResetHard {
				c.buffer.Gate()
				observability.Log().Info("hard reset requested",
					observability.Field{Key: "venue", Value: defaultVenue},
					observability.Field{Key: "code", Value: m.Code})
				return errHardReset
			}
			observability.Log().Info("soft reset requested",
				observability.Field{Key: "venue", Value: defaultVenue},
				observability.Field{Key: "code", Value: m.Code})
			c.buffer.Gate()
			c.setState(StateAuthenticating)
			if err := c.write(sessCtx, conn, unauthRequest{Event: "unauth"}); err != nil {
				return err
			}
			if err := c.sendAuth(sessCtx, conn); err != nil {
				return err
			}
		case UnknownMessage:
			observability.Telemetry().IncCounter(observability.MetricFramesDropped, 1,
				map[string]string{"venue": defaultVenue})
			observability.Log().Debug("unrecognized frame discarded",
				observability.Field{Key: "venue", Value: defaultVenue},
				observability.Field{Key: "payload", Value: string(m.Raw)})
		default:
			c.route(msg)
		}
	}
}

// watchdog closes a socket that has gone silent past the heartbeat timeout,
// which surfaces as a read error and triggers a reconnect.
func (c *connManager) watchdog(ctx context.Context, conn wsConn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastSeen.Load())
			if time.Since(last) > c.opts.HeartbeatTimeout {
				observability.Log().Error("heartbeat timeout, closing socket",
					observability.Field{Key: "venue", Value: defaultVenue},
					observability.Field{Key: "last_seen", Value: last.UTC().String()})
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *connManager) sendAuth(ctx context.Context, conn wsConn) error {
	nonce := c.nonce.Next()
	payload := "AUTH" + nonce
	req := authRequest{
		Event:       "auth",
		APIKey:      c.opts.APIKey,
		AuthSig:     c.signer.Sign(payload),
		AuthPayload: payload,
		AuthNonce:   nonce,
	}
	return c.write(ctx, conn, req)
}

// beginSubscribing captures the symbol universe (configured symbols plus
// whatever the registry held before the reset), rebuilds the registry from
// scratch, and replays one subscribe request per symbol. The tick buffer
// stays gated until every ack has arrived.
func (c *connManager) beginSubscribing(ctx context.Context, conn wsConn, report func(error)) error {
	symbols := c.symbolUniverse()
	c.buffer.Gate()
	c.registry.Clear()

	c.mu.Lock()
	c.pending = append([]string(nil), symbols...)
	c.mu.Unlock()

	if len(symbols) == 0 {
		c.goLive(report)
		return nil
	}
	c.setState(StateSubscribing)
	for _, symbol := range symbols {
		req := subscribeRequest{Event: "subscribe", Channel: "ticker", Pair: symbol}
		if err := c.write(ctx, conn, req); err != nil {
			return err
		}
	}
	return nil
}

func (c *connManager) symbolUniverse() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(c.opts.Symbols))
	for _, symbol := range c.opts.Symbols {
		if _, dup := seen[symbol]; !dup {
			seen[symbol] = struct{}{}
			out = append(out, symbol)
		}
	}
	for _, symbol := range c.registry.SymbolsOf(KindTicker) {
		if _, dup := seen[symbol]; !dup {
			seen[symbol] = struct{}{}
			out = append(out, symbol)
		}
	}
	return out
}

// handleSubscribeAck registers the assigned channel id. Acks lacking a
// pair are matched to the oldest in-flight subscribe request.
func (c *connManager) handleSubscribeAck(ack SubscribeAck, report func(error)) {
	c.mu.Lock()
	pair := ack.Pair
	if pair == "" && len(c.pending) > 0 {
		pair = c.pending[0]
	}
	remaining := c.pending[:0]
	for _, p := range c.pending {
		if p != pair {
			remaining = append(remaining, p)
		}
	}
	c.pending = remaining
	complete := len(c.pending) == 0
	c.mu.Unlock()

	if pair == "" {
		observability.Log().Info("subscribe ack with no matching request",
			observability.Field{Key: "venue", Value: defaultVenue},
			observability.Field{Key: "channel_id", Value: ack.ChannelID})
		return
	}
	c.registry.Register(ack.ChannelID, KindTicker, pair)
	if complete {
		c.goLive(report)
	}
}

func (c *connManager) goLive(report func(error)) {
	c.buffer.Open()
	c.setState(StateLive)
	c.bo.Reset()
	observability.Log().Info("connection live",
		observability.Field{Key: "venue", Value: defaultVenue},
		observability.Field{Key: "symbols", Value: c.registry.SymbolsOf(KindTicker)})
	report(nil)
}

func (c *connManager) write(ctx context.Context, conn wsConn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.New(defaultVenue, errs.CodeInvalid, errs.WithCause(err))
	}
	writeCtx, cancel := context.WithTimeout(ctx, connWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, data)
}
