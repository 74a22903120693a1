package shared

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"venuelink/errs"
	"venuelink/internal/observability"
)

// NonceSource produces monotonically increasing nonces derived from the
// wall clock. Shared between the websocket auth path and the REST path so
// the venue never observes a nonce regression.
type NonceSource struct {
	mu   sync.Mutex
	last int64
}

// Next returns the next nonce as a decimal string.
func (n *NonceSource) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now().UnixMicro()
	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return strconv.FormatInt(now, 10)
}

// Signer computes request signatures with the account secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given API secret.
func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Sign returns the hex HMAC-SHA256 digest of payload.
func (s Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Scope selects which rate limiter guards a request.
type Scope int

const (
	// ScopePublic covers unauthenticated endpoints.
	ScopePublic Scope = iota
	// ScopePrivate covers signed endpoints.
	ScopePrivate
)

func (s Scope) String() string {
	if s == ScopePrivate {
		return "private"
	}
	return "public"
}

// TransportConfig configures a signed REST transport.
type TransportConfig struct {
	Venue        string
	BaseURL      string
	APIKey       string
	APISecret    string
	HeaderPrefix string
	HTTPClient   *http.Client
	PublicRPS    float64
	PrivateRPS   float64
	Nonce        *NonceSource
}

// Transport is the synchronous request path shared by venue REST gateways.
// Every call blocks on its scope's rate limiter until a token is available,
// then signs (for private scope) and executes the request.
type Transport struct {
	venue        string
	baseURL      string
	apiKey       string
	headerPrefix string
	signer       Signer
	nonce        *NonceSource
	client       *http.Client
	public       *rate.Limiter
	private      *rate.Limiter
}

// NewTransport builds a transport from the given configuration.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errs.New(cfg.Venue, errs.CodeInvalid, errs.WithMessage("rest base url required"))
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	nonce := cfg.Nonce
	if nonce == nil {
		nonce = new(NonceSource)
	}
	prefix := strings.TrimSpace(cfg.HeaderPrefix)
	if prefix == "" {
		prefix = "X-" + strings.ToUpper(cfg.Venue)
	}
	publicRPS := cfg.PublicRPS
	if publicRPS <= 0 {
		publicRPS = 5
	}
	privateRPS := cfg.PrivateRPS
	if privateRPS <= 0 {
		privateRPS = 2
	}
	return &Transport{
		venue:        cfg.Venue,
		baseURL:      base,
		apiKey:       cfg.APIKey,
		headerPrefix: prefix,
		signer:       NewSigner(cfg.APISecret),
		nonce:        nonce,
		client:       client,
		public:       rate.NewLimiter(rate.Limit(publicRPS), 1),
		private:      rate.NewLimiter(rate.Limit(privateRPS), 1),
	}, nil
}

// Signer exposes the transport's signer for websocket authentication.
func (t *Transport) Signer() Signer {
	return t.signer
}

// Nonce exposes the transport's nonce source.
func (t *Transport) Nonce() *NonceSource {
	return t.nonce
}

// Public executes an unauthenticated GET and returns the response body.
func (t *Transport) Public(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := t.public.Wait(ctx); err != nil {
		return nil, errs.New(t.venue, errs.CodeRateLimited, errs.WithCause(err))
	}
	endpoint := t.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.New(t.venue, errs.CodeInvalid, errs.WithCause(err))
	}
	return t.execute(req, ScopePublic)
}

// Private executes a signed POST. The body is extended with the request
// path and a fresh nonce, base64 encoded, and signed per request.
func (t *Transport) Private(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	if err := t.private.Wait(ctx); err != nil {
		return nil, errs.New(t.venue, errs.CodeRateLimited, errs.WithCause(err))
	}
	if body == nil {
		body = make(map[string]any, 2)
	}
	body["request"] = path
	body["nonce"] = t.nonce.Next()
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errs.New(t.venue, errs.CodeInvalid, errs.WithCause(err))
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, errs.New(t.venue, errs.CodeInvalid, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(t.headerPrefix+"-APIKEY", t.apiKey)
	req.Header.Set(t.headerPrefix+"-PAYLOAD", payload)
	req.Header.Set(t.headerPrefix+"-SIGNATURE", t.signer.Sign(payload))
	return t.execute(req, ScopePrivate)
}

func (t *Transport) execute(req *http.Request, scope Scope) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		observability.Telemetry().IncCounter(observability.MetricRESTRequests, 1,
			map[string]string{"venue": t.venue, "scope": scope.String(), "status": "error"})
		return nil, errs.New(t.venue, errs.CodeNetwork, errs.WithCause(err),
			errs.WithMessage(fmt.Sprintf("%s %s", req.Method, req.URL.Path)))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.New(t.venue, errs.CodeNetwork, errs.WithCause(err))
	}
	observability.Telemetry().IncCounter(observability.MetricRESTRequests, 1,
		map[string]string{"venue": t.venue, "scope": scope.String(), "status": strconv.Itoa(resp.StatusCode)})
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.New(t.venue, errs.CodeExchange,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawPayload(body),
			errs.WithMessage(fmt.Sprintf("%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)))
	}
	return body, nil
}
