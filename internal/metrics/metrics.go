package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcc"

// Registry holds the live pipeline counters. A nil *Registry is a valid no-op.
type Registry struct {
	registry         *prometheus.Registry
	rawEvents        *prometheus.CounterVec
	signalsEmitted   prometheus.Counter
	bridgeOverflows  prometheus.Counter
	broadcasts       *prometheus.CounterVec
	sends            prometheus.Counter
	prunes           *prometheus.CounterVec
	viewers          prometheus.Gauge
	sessionsStarted  prometheus.Counter
	sessionsFailed   *prometheus.CounterVec
	sessionsDegraded prometheus.Counter
}

// NewRegistry creates a registry with every collector registered.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	r := &Registry{
		registry: registry,
		rawEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_raw_events_total",
			Help:      "Raw filesystem events observed by the watcher",
		}, []string{"kind"}),
		signalsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_change_signals_total",
			Help:      "Coalesced change signals emitted",
		}),
		bridgeOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_overflows_total",
			Help:      "Pending change signals overwritten before the hub drained them",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_broadcasts_total",
			Help:      "Messages broadcast to viewer channels",
		}, []string{"type"}),
		sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_sends_total",
			Help:      "Messages written to a viewer channel",
		}),
		prunes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_channels_pruned_total",
			Help:      "Viewer channels removed after a failed send",
		}, []string{"reason"}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_viewers",
			Help:      "Currently connected viewer channels",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions that reached RUNNING",
		}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Session creations aborted before RUNNING",
		}, []string{"stage"}),
		sessionsDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_degraded_total",
			Help:      "Sessions running without live reload",
		}),
	}
	registry.MustRegister(
		r.rawEvents,
		r.signalsEmitted,
		r.bridgeOverflows,
		r.broadcasts,
		r.sends,
		r.prunes,
		r.viewers,
		r.sessionsStarted,
		r.sessionsFailed,
		r.sessionsDegraded,
	)
	return r
}

func (r *Registry) IncRawEvent(kind string) {
	if r == nil {
		return
	}
	r.rawEvents.WithLabelValues(kind).Inc()
}

func (r *Registry) IncSignal() {
	if r == nil {
		return
	}
	r.signalsEmitted.Inc()
}

func (r *Registry) IncBridgeOverflow() {
	if r == nil {
		return
	}
	r.bridgeOverflows.Inc()
}

func (r *Registry) IncBroadcast(messageType string) {
	if r == nil {
		return
	}
	r.broadcasts.WithLabelValues(messageType).Inc()
}

func (r *Registry) IncSend() {
	if r == nil {
		return
	}
	r.sends.Inc()
}

func (r *Registry) IncPrune(reason string) {
	if r == nil {
		return
	}
	r.prunes.WithLabelValues(reason).Inc()
}

func (r *Registry) SetViewers(count int) {
	if r == nil {
		return
	}
	r.viewers.Set(float64(count))
}

func (r *Registry) IncSessionStarted() {
	if r == nil {
		return
	}
	r.sessionsStarted.Inc()
}

func (r *Registry) IncSessionFailed(stage string) {
	if r == nil {
		return
	}
	r.sessionsFailed.WithLabelValues(stage).Inc()
}

func (r *Registry) IncSessionDegraded() {
	if r == nil {
		return
	}
	r.sessionsDegraded.Inc()
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// Handler serves the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
