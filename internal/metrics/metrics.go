// Package metrics exports voice server counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice"

type Metrics struct {
	reg *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	rejectionsTotal  *prometheus.CounterVec
	joinsTotal       prometheus.Counter
	leavesTotal      prometheus.Counter
	membersActive    prometheus.Gauge
	endpointsActive  prometheus.Gauge
	deviceErrors     prometheus.Counter
	broadcastsTotal  *prometheus.CounterVec
	deliveredTotal   *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec
	tokenRefreshes   prometheus.Counter
	stateTransitions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Number of open voice websocket sessions",
		}),
		sessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Total number of accepted voice sessions",
		}),
		rejectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total",
			Help: "Handshakes rejected by reason",
		}, []string{"reason"}),
		joinsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "joins_total",
			Help: "Total number of channel joins",
		}),
		leavesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "leaves_total",
			Help: "Total number of channel leaves",
		}),
		membersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "channel_members",
			Help: "Users currently present in any voice channel",
		}),
		endpointsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audio_endpoints",
			Help: "Open audio endpoint pairs",
		}),
		deviceErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_device_errors_total",
			Help: "Audio endpoint allocations that failed",
		}),
		broadcastsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Fan-out operations by message kind",
		}, []string{"kind"}),
		deliveredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_delivered_total",
			Help: "Frames queued to recipients by message kind",
		}, []string{"kind"}),
		droppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Frames not delivered to a recipient by message kind",
		}, []string{"kind"}),
		tokenRefreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_refreshes_total",
			Help: "Credentials reissued to connected clients",
		}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_transitions_total",
			Help: "Session state machine transitions",
		}, []string{"from", "to"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.joinsTotal.Inc()
	m.membersActive.Inc()
}

func (m *Metrics) Left() {
	if m == nil {
		return
	}
	m.leavesTotal.Inc()
	m.membersActive.Dec()
}

// Endpoints sets the number of open audio endpoint pairs.
func (m *Metrics) Endpoints(n int) {
	if m == nil {
		return
	}
	m.endpointsActive.Set(float64(n))
}

func (m *Metrics) DeviceError() {
	if m == nil {
		return
	}
	m.deviceErrors.Inc()
}

func (m *Metrics) TokenRefreshed() {
	if m == nil {
		return
	}
	m.tokenRefreshes.Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveBroadcast implements core.PublishObserver.
func (m *Metrics) ObserveBroadcast(kind string, res core.PublishResult) {
	if m == nil {
		return
	}
	m.broadcastsTotal.WithLabelValues(kind).Inc()
	m.deliveredTotal.WithLabelValues(kind).Add(float64(len(res.Delivered)))
	m.droppedTotal.WithLabelValues(kind).Add(float64(len(res.Dropped)))
}

var _ core.PublishObserver = (*Metrics)(nil)
