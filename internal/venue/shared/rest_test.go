package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	json "github.com/goccy/go-json"

	"venuelink/errs"
)

func TestNonceSourceMonotonic(t *testing.T) {
	src := new(NonceSource)
	prev := ""
	for i := 0; i < 1000; i++ {
		n := src.Next()
		if prev != "" && n <= prev && len(n) <= len(prev) {
			t.Fatalf("nonce regressed: %s after %s", n, prev)
		}
		prev = n
	}
}

func TestSignerKnownVector(t *testing.T) {
	s := NewSigner("secret")
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("payload"))
	want := hex.EncodeToString(mac.Sum(nil))
	if got := s.Sign("payload"); got != want {
		t.Fatalf("Sign() = %s, want %s", got, want)
	}
}

func TestPrivateSignsRequest(t *testing.T) {
	var gotKey, gotPayload, gotSig string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-BFX-APIKEY")
		gotPayload = r.Header.Get("X-BFX-PAYLOAD")
		gotSig = r.Header.Get("X-BFX-SIGNATURE")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr, err := NewTransport(TransportConfig{
		Venue:        "bitfinex",
		BaseURL:      srv.URL,
		APIKey:       "key",
		APISecret:    "secret",
		HeaderPrefix: "X-BFX",
		PublicRPS:    100,
		PrivateRPS:   100,
	})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	if _, err := tr.Private(context.Background(), "/v1/order/new", map[string]any{"symbol": "btcusd"}); err != nil {
		t.Fatalf("Private: %v", err)
	}
	if gotKey != "key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotBody["request"] != "/v1/order/new" {
		t.Fatalf("request field = %v", gotBody["request"])
	}
	if gotBody["nonce"] == nil || gotBody["nonce"] == "" {
		t.Fatal("nonce missing from body")
	}
	raw, err := base64.StdEncoding.DecodeString(gotPayload)
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if decoded["symbol"] != "btcusd" {
		t.Fatalf("payload symbol = %v", decoded["symbol"])
	}
	if want := NewSigner("secret").Sign(gotPayload); gotSig != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, want)
	}
}

func TestPublicQueryAndErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/pubticker/btcusd" {
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("missing query param, got %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"last_price":"432.72"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Unknown symbol"}`))
	}))
	defer srv.Close()

	tr, err := NewTransport(TransportConfig{
		Venue:      "bitfinex",
		BaseURL:    srv.URL,
		PublicRPS:  100,
		PrivateRPS: 100,
	})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	body, err := tr.Public(context.Background(), "/v1/pubticker/btcusd", url.Values{"limit": {"5"}})
	if err != nil {
		t.Fatalf("Public: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("empty body")
	}

	_, err = tr.Public(context.Background(), "/v1/pubticker/nope", nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	e, ok := err.(*errs.E)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if e.HTTP != http.StatusBadRequest {
		t.Fatalf("HTTP = %d", e.HTTP)
	}
	if e.Code != errs.CodeExchange {
		t.Fatalf("Code = %s", e.Code)
	}
	if e.RawPayload == "" {
		t.Fatal("raw payload not captured")
	}
}

func TestPrivateContextCancelWhileRateLimited(t *testing.T) {
	tr, err := NewTransport(TransportConfig{
		Venue:      "bitfinex",
		BaseURL:    "http://127.0.0.1:0",
		PrivateRPS: 0.001,
	})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	// Burn the single burst token, then cancel while waiting for the next.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tr.private.Allow()
	_, err = tr.Private(ctx, "/v1/orders", nil)
	if !errs.IsCode(err, errs.CodeRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}
