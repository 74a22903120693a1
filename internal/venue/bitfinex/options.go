package bitfinex

import (
	"net/http"
	"strings"
	"time"

	"venuelink/config"
	"venuelink/errs"
)

const (
	defaultVenue             = "bitfinex"
	defaultWebsocketURL      = "wss://api.bitfinex.com/ws"
	defaultRESTBaseURL       = "https://api.bitfinex.com"
	defaultScaleFactor       = 100
	defaultBaseCurrency      = "USD"
	defaultHeartbeatInterval = 15 * time.Second
	defaultHeartbeatTimeout  = 45 * time.Second
	defaultHTTPTimeout       = 10 * time.Second
	defaultPublicRPS         = 5
	defaultPrivateRPS        = 2
	defaultEventBuffer       = 256

	restHeaderPrefix = "X-BFX"
)

// Options configure the Bitfinex client.
type Options struct {
	WebsocketURL      string
	RESTBaseURL       string
	APIKey            string
	APISecret         string
	Symbols           []string
	ScaleFactor       int64
	BaseCurrency      string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HTTPTimeout       time.Duration
	PublicRatePerSec  float64
	PrivateRatePerSec float64
	HTTPClient        *http.Client

	// dial overrides the websocket dialer; tests inject fake sockets here.
	dial dialFunc
}

// OptionsFromConfig translates the config tree into client options.
func OptionsFromConfig(settings config.VenueSettings) Options {
	return Options{
		WebsocketURL:      settings.Websocket.URL,
		RESTBaseURL:       settings.REST.BaseURL,
		APIKey:            settings.Credentials.APIKey,
		APISecret:         settings.Credentials.APISecret,
		Symbols:           append([]string(nil), settings.Symbols...),
		ScaleFactor:       settings.ScaleFactor,
		BaseCurrency:      settings.BaseCurrency,
		HeartbeatInterval: settings.Websocket.HeartbeatInterval,
		HeartbeatTimeout:  settings.Websocket.HeartbeatTimeout,
		HTTPTimeout:       settings.REST.HTTPTimeout,
		PublicRatePerSec:  settings.REST.PublicRatePerSec,
		PrivateRatePerSec: settings.REST.PrivateRatePerSec,
	}
}

func (o *Options) normalize() error {
	if o.WebsocketURL == "" {
		o.WebsocketURL = defaultWebsocketURL
	}
	if o.RESTBaseURL == "" {
		o.RESTBaseURL = defaultRESTBaseURL
	}
	if o.ScaleFactor <= 0 {
		o.ScaleFactor = defaultScaleFactor
	}
	if o.BaseCurrency == "" {
		o.BaseCurrency = defaultBaseCurrency
	}
	o.BaseCurrency = strings.ToUpper(strings.TrimSpace(o.BaseCurrency))
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if o.HeartbeatInterval > o.HeartbeatTimeout {
		return errs.New(defaultVenue, errs.CodeInvalid,
			errs.WithMessage("heartbeat interval exceeds timeout"))
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = defaultHTTPTimeout
	}
	if o.PublicRatePerSec <= 0 {
		o.PublicRatePerSec = defaultPublicRPS
	}
	if o.PrivateRatePerSec <= 0 {
		o.PrivateRatePerSec = defaultPrivateRPS
	}
	normalized := make([]string, 0, len(o.Symbols))
	for _, symbol := range o.Symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol != "" {
			normalized = append(normalized, symbol)
		}
	}
	o.Symbols = normalized
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.HTTPTimeout}
	}
	if o.dial == nil {
		o.dial = dialWebsocket
	}
	return nil
}
