// Package metrics holds the Prometheus collectors a reactor reports into.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reactor"

type Reactor struct {
	ticks      *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	timeouts   *prometheus.CounterVec
	teardowns  *prometheus.CounterVec
	wait       prometheus.Histogram
	handles    *prometheus.GaugeVec
	timers     prometheus.Gauge
}

// New registers the reactor collectors on reg. The reactor id becomes a
// constant label so several reactors can share one registry.
func New(reg prometheus.Registerer, reactorID string, backend string) *Reactor {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"reactor": reactorID, "backend": backend}

	return &Reactor{
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ticks_total",
			Help:        "Reactor ticks by resulting status.",
			ConstLabels: labels,
		}, []string{"status"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "dispatches_total",
			Help:        "Ready callbacks invoked, by source.",
			ConstLabels: labels,
		}, []string{"source"}),
		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "timeouts_total",
			Help:        "Inactivity timeouts delivered to descriptor handles.",
			ConstLabels: labels,
		}, []string{"direction"}),
		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "teardowns_total",
			Help:        "Teardown callbacks invoked, by source.",
			ConstLabels: labels,
		}, []string{"source"}),
		wait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "wait_seconds",
			Help:        "Time spent blocked in the backend wait.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		handles: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "handles",
			Help:        "Live descriptor handles per direction.",
			ConstLabels: labels,
		}, []string{"direction"}),
		timers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "timers",
			Help:        "Armed timers.",
			ConstLabels: labels,
		}),
	}
}

func (m *Reactor) Tick(status string) {
	m.ticks.WithLabelValues(status).Inc()
}

func (m *Reactor) Dispatch(source string, n int) {
	if n > 0 {
		m.dispatches.WithLabelValues(source).Add(float64(n))
	}
}

func (m *Reactor) Timeout(direction string, n int) {
	if n > 0 {
		m.timeouts.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *Reactor) Teardown(source string) {
	m.teardowns.WithLabelValues(source).Inc()
}

func (m *Reactor) Waited(d time.Duration) {
	m.wait.Observe(d.Seconds())
}

func (m *Reactor) Handles(direction string, n int) {
	m.handles.WithLabelValues(direction).Set(float64(n))
}

func (m *Reactor) Timers(n int) {
	m.timers.Set(float64(n))
}
