package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	settings := Default()
	bfx, ok := settings.Venues[VenueBitfinex]
	if !ok {
		t.Fatalf("defaults missing bitfinex venue")
	}
	if bfx.ScaleFactor != 100 {
		t.Fatalf("default scale factor = %d, want 100", bfx.ScaleFactor)
	}
	if bfx.Websocket.HeartbeatInterval != 15*time.Second {
		t.Fatalf("default heartbeat interval = %v", bfx.Websocket.HeartbeatInterval)
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadMergesOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "venuelink.yaml")
	overlay := `
venues:
  bitfinex:
    credentials:
      apiKey: key-123
      apiSecret: secret-456
    symbols: [BTCUSD, ETHUSD]
    scaleFactor: 1000
telemetry:
  serviceName: venuelink-test
`
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	bfx := settings.Venues[VenueBitfinex]
	if bfx.Credentials.APIKey != "key-123" || bfx.Credentials.APISecret != "secret-456" {
		t.Fatalf("credentials not merged: %+v", bfx.Credentials)
	}
	if len(bfx.Symbols) != 2 || bfx.Symbols[1] != "ETHUSD" {
		t.Fatalf("symbols not merged: %v", bfx.Symbols)
	}
	if bfx.ScaleFactor != 1000 {
		t.Fatalf("scale factor not merged: %d", bfx.ScaleFactor)
	}
	// Untouched defaults survive the merge.
	if bfx.REST.BaseURL == "" || bfx.Websocket.URL == "" {
		t.Fatalf("defaults lost in merge: %+v", bfx)
	}
	if settings.Telemetry.ServiceName != "venuelink-test" {
		t.Fatalf("telemetry service name = %q", settings.Telemetry.ServiceName)
	}
}

func TestValidateRejectsBadHeartbeat(t *testing.T) {
	settings := Default()
	bfx := settings.Venues[VenueBitfinex]
	bfx.Websocket.HeartbeatInterval = time.Minute
	bfx.Websocket.HeartbeatTimeout = time.Second
	settings.Venues[VenueBitfinex] = bfx
	if err := settings.Validate(); err == nil {
		t.Fatalf("expected validation failure for heartbeat interval > timeout")
	}
}
