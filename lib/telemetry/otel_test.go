package telemetry

import (
	"context"
	"testing"

	"venuelink/config"
)

func TestInitWithoutEndpointInstallsNoop(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), config.TelemetryConfig{ServiceName: "venuelink-test"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if provider == nil {
		t.Fatalf("expected a meter provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		insecure bool
		wantErr  bool
	}{
		{in: "collector:4318", host: "collector:4318"},
		{in: "http://collector:4318", host: "collector:4318", insecure: true},
		{in: "https://collector:4318", host: "collector:4318"},
		{in: "ftp://collector", wantErr: true},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseEndpoint(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseEndpoint(%q): %v", tc.in, err)
		}
		if host != tc.host || insecure != tc.insecure {
			t.Fatalf("parseEndpoint(%q) = (%q, %v)", tc.in, host, insecure)
		}
	}
}

func TestMetricsAdapterRecordsWithoutPanic(t *testing.T) {
	metrics := NewMetrics(nil)
	metrics.IncCounter("venuelink_frames_decoded_total", 1, map[string]string{"venue": "bitfinex"})
	metrics.SetGauge("venuelink_connection_state", 4, nil)
}
