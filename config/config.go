// Package config centralises runtime configuration for venuelink services.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Venue names a supported exchange integration.
type Venue string

const (
	// VenueBitfinex represents the Bitfinex integration key.
	VenueBitfinex Venue = "bitfinex"
)

// Credentials captures API credentials used for authenticated requests.
type Credentials struct {
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// WebsocketSettings configures the streaming endpoint for a venue.
type WebsocketSettings struct {
	URL               string        `yaml:"url"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout"`
}

// RESTSettings configures the synchronous request path for a venue.
type RESTSettings struct {
	BaseURL            string        `yaml:"baseUrl"`
	HTTPTimeout        time.Duration `yaml:"httpTimeout"`
	PublicRatePerSec   float64       `yaml:"publicRatePerSec"`
	PrivateRatePerSec  float64       `yaml:"privateRatePerSec"`
}

// VenueSettings aggregates transport, credential, and scaling configuration.
type VenueSettings struct {
	Websocket    WebsocketSettings `yaml:"websocket"`
	REST         RESTSettings      `yaml:"rest"`
	Credentials  Credentials       `yaml:"credentials"`
	Symbols      []string          `yaml:"symbols"`
	ScaleFactor  int64             `yaml:"scaleFactor"`
	BaseCurrency string            `yaml:"baseCurrency"`
}

// TelemetryConfig configures the OTLP metrics exporter.
type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// Settings contains the venuelink configuration tree.
type Settings struct {
	Venues    map[Venue]VenueSettings `yaml:"venues"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
}

// Default returns the default venuelink configuration.
func Default() Settings {
	return Settings{
		Venues: map[Venue]VenueSettings{
			VenueBitfinex: {
				Websocket: WebsocketSettings{
					URL:               "wss://api.bitfinex.com/ws",
					HeartbeatInterval: 15 * time.Second,
					HeartbeatTimeout:  45 * time.Second,
				},
				REST: RESTSettings{
					BaseURL:           "https://api.bitfinex.com",
					HTTPTimeout:       10 * time.Second,
					PublicRatePerSec:  5,
					PrivateRatePerSec: 2,
				},
				Symbols:      []string{"BTCUSD"},
				ScaleFactor:  100,
				BaseCurrency: "USD",
			},
		},
		Telemetry: TelemetryConfig{ServiceName: "venuelink"},
	}
}

// Load reads a yaml overlay from path and merges it over the defaults.
func Load(path string) (Settings, error) {
	settings := Default()
	if path == "" {
		return settings, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var overlay Settings
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	settings.merge(overlay)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) merge(overlay Settings) {
	if overlay.Telemetry.ServiceName != "" {
		s.Telemetry.ServiceName = overlay.Telemetry.ServiceName
	}
	if overlay.Telemetry.OTLPEndpoint != "" {
		s.Telemetry.OTLPEndpoint = overlay.Telemetry.OTLPEndpoint
	}
	for venue, incoming := range overlay.Venues {
		current, ok := s.Venues[venue]
		if !ok {
			s.Venues[venue] = incoming
			continue
		}
		if incoming.Websocket.URL != "" {
			current.Websocket.URL = incoming.Websocket.URL
		}
		if incoming.Websocket.HeartbeatInterval > 0 {
			current.Websocket.HeartbeatInterval = incoming.Websocket.HeartbeatInterval
		}
		if incoming.Websocket.HeartbeatTimeout > 0 {
			current.Websocket.HeartbeatTimeout = incoming.Websocket.HeartbeatTimeout
		}
		if incoming.REST.BaseURL != "" {
			current.REST.BaseURL = incoming.REST.BaseURL
		}
		if incoming.REST.HTTPTimeout > 0 {
			current.REST.HTTPTimeout = incoming.REST.HTTPTimeout
		}
		if incoming.REST.PublicRatePerSec > 0 {
			current.REST.PublicRatePerSec = incoming.REST.PublicRatePerSec
		}
		if incoming.REST.PrivateRatePerSec > 0 {
			current.REST.PrivateRatePerSec = incoming.REST.PrivateRatePerSec
		}
		if incoming.Credentials.APIKey != "" {
			current.Credentials.APIKey = incoming.Credentials.APIKey
		}
		if incoming.Credentials.APISecret != "" {
			current.Credentials.APISecret = incoming.Credentials.APISecret
		}
		if len(incoming.Symbols) > 0 {
			current.Symbols = incoming.Symbols
		}
		if incoming.ScaleFactor > 0 {
			current.ScaleFactor = incoming.ScaleFactor
		}
		if incoming.BaseCurrency != "" {
			current.BaseCurrency = incoming.BaseCurrency
		}
		s.Venues[venue] = current
	}
}

// Validate checks the merged configuration for structural problems.
func (s Settings) Validate() error {
	for venue, settings := range s.Venues {
		if settings.Websocket.URL == "" {
			return fmt.Errorf("config: venue %s missing websocket url", venue)
		}
		if settings.REST.BaseURL == "" {
			return fmt.Errorf("config: venue %s missing rest base url", venue)
		}
		if settings.ScaleFactor <= 0 {
			return fmt.Errorf("config: venue %s scale factor must be positive", venue)
		}
		if settings.Websocket.HeartbeatTimeout > 0 && settings.Websocket.HeartbeatInterval > settings.Websocket.HeartbeatTimeout {
			return fmt.Errorf("config: venue %s heartbeat interval exceeds timeout", venue)
		}
	}
	return nil
}
