// Package metrics exposes Prometheus instrumentation for token grants, refresh
// scheduling, session state and playback control.
//
// All methods are safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"net/http"

	"github.com/desertthunder/deemusic/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deemusic"

// Metrics groups the collectors registered by [New].
type Metrics struct {
	gatherer prometheus.Gatherer

	TokenGrants      *prometheus.CounterVec
	RefreshScheduled prometheus.Counter
	SessionState     prometheus.Gauge
	PlaybackCalls    *prometheus.CounterVec
	DeviceEvents     *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		TokenGrants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_grants_total",
			Help:      "Token endpoint calls by grant type and outcome.",
		}, []string{"grant", "outcome"}),
		RefreshScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_scheduled_total",
			Help:      "Refresh timers armed.",
		}),
		SessionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0 booting, 1 anonymous, 2 authenticated, 3 refreshing, 4 expired).",
		}),
		PlaybackCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_calls_total",
			Help:      "Playback control calls by action and outcome.",
		}, []string{"action", "outcome"}),
		DeviceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Playback device events by kind.",
		}, []string{"kind"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Grant counts one token endpoint call.
func (m *Metrics) Grant(grant string, err error) {
	if m == nil {
		return
	}
	m.TokenGrants.WithLabelValues(grant, outcome(err)).Inc()
}

// Scheduled counts one armed refresh timer.
func (m *Metrics) Scheduled() {
	if m == nil {
		return
	}
	m.RefreshScheduled.Inc()
}

// State records the current session kind.
func (m *Metrics) State(kind models.SessionKind) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(kind))
}

// Playback counts one playback control call.
func (m *Metrics) Playback(action string, err error) {
	if m == nil {
		return
	}
	m.PlaybackCalls.WithLabelValues(action, outcome(err)).Inc()
}

// DeviceEvent counts one device event.
func (m *Metrics) DeviceEvent(kind string) {
	if m == nil {
		return
	}
	m.DeviceEvents.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
