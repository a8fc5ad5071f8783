package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful backend starts.",
		}, []string{"name"},
	)
	startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "start_failures_total",
			Help:      "Number of failed backend starts by stage.",
		}, []string{"name", "stage"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of termination requests sent.",
		}, []string{"name"},
	)
	terminationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "termination_failures_total",
			Help:      "Number of termination requests the OS rejected.",
		}, []string{"name"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "events_total",
			Help:      "Events observed from the backend by kind.",
		}, []string{"name", "kind"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "running",
			Help:      "1 while the backend process is running.",
		}, []string{"name"},
	)
	rssBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sidecar",
			Subsystem: "process",
			Name:      "resident_memory_bytes",
			Help:      "Resident set size of the backend at the last sample.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{starts, startFailures, stops, terminationFailures, events, running, rssBytes}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		starts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name, stage string) {
	if regOK.Load() {
		startFailures.WithLabelValues(name, stage).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		stops.WithLabelValues(name).Inc()
	}
}

func IncTerminationFailure(name string) {
	if regOK.Load() {
		terminationFailures.WithLabelValues(name).Inc()
	}
}

func IncEvent(name, kind string) {
	if regOK.Load() {
		events.WithLabelValues(name, kind).Inc()
	}
}

func SetRunning(name string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		running.WithLabelValues(name).Set(v)
	}
}

func setRSS(name string, b uint64) {
	if regOK.Load() {
		rssBytes.WithLabelValues(name).Set(float64(b))
	}
}
