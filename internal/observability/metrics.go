package observability

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Counter and gauge names emitted by the connectivity core.
const (
	MetricFramesDecoded   = "venuelink_frames_decoded_total"
	MetricFramesDropped   = "venuelink_frames_dropped_total"
	MetricReconnects      = "venuelink_reconnects_total"
	MetricUnknownFills    = "venuelink_unknown_fills_total"
	MetricRESTRequests    = "venuelink_rest_requests_total"
	MetricConnectionState = "venuelink_connection_state"
)

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}
