// Package metrics holds the Prometheus collectors for the call bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame directions.
const (
	ToProvider = "to_provider"
	ToCarrier  = "to_carrier"
)

// Metrics tracks bridged calls. A nil *Metrics records nothing.
type Metrics struct {
	// ActiveCalls is the number of calls currently bridged by this process.
	ActiveCalls prometheus.Gauge

	// CallsTotal counts finished calls.
	// Labels: reason (carrier_stop|carrier_closed|provider_closed|provider_failed|shutdown)
	CallsTotal *prometheus.CounterVec

	// CallDuration measures bridged call lifetime in seconds.
	CallDuration prometheus.Histogram

	// FramesTotal counts audio frames relayed.
	// Labels: direction (to_provider|to_carrier)
	FramesTotal *prometheus.CounterVec

	// FramesDropped counts audio frames discarded before the provider was ready.
	FramesDropped prometheus.Counter

	// ToolCallsTotal counts completed function calls.
	// Labels: tool, outcome (success|failure|unknown_tool)
	ToolCallsTotal *prometheus.CounterVec

	// ProviderErrors counts error events reported by the speech provider.
	// Labels: kind
	ProviderErrors *prometheus.CounterVec

	// UtterancesTotal counts finished transcribed turns.
	// Labels: speaker (caller|agent)
	UtterancesTotal *prometheus.CounterVec
}

// New registers the bridge collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_bridge_active_calls",
			Help: "Calls currently bridged to the speech provider",
		}),
		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_calls_total",
			Help: "Finished bridged calls by end reason",
		}, []string{"reason"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_bridge_call_duration_seconds",
			Help:    "Bridged call duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_audio_frames_total",
			Help: "Audio frames relayed by direction",
		}, []string{"direction"}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_bridge_audio_frames_dropped_total",
			Help: "Carrier audio frames dropped while the provider connection was pending",
		}),
		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_tool_calls_total",
			Help: "Completed function calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_provider_errors_total",
			Help: "Error events reported by the speech provider",
		}, []string{"kind"}),
		UtterancesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_bridge_utterances_total",
			Help: "Transcribed turns by speaker",
		}, []string{"speaker"}),
	}
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallEnded(reason string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallsTotal.WithLabelValues(reason).Inc()
	m.CallDuration.Observe(seconds)
}

func (m *Metrics) Frame(direction string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ProviderError(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.ProviderErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Utterance(speaker string) {
	if m == nil {
		return
	}
	m.UtterancesTotal.WithLabelValues(speaker).Inc()
}
