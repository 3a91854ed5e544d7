// Package metrics exposes Prometheus counters for fact changes and annual
// summary computations.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/rental-engine/generic"
)

// Summary outcomes.
const (
	ResultComputed = "computed"
	ResultCached   = "cached"
	ResultFailed   = "failed"
)

// Metrics holds the engine's collectors, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Events          *prometheus.CounterVec
	Summaries       *prometheus.CounterVec
	SummaryDuration prometheus.Histogram
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := &Metrics{
		registry: reg,
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental_engine",
			Name:      "events_total",
			Help:      "Committed fact changes by kind.",
		}, []string{"kind"}),
		Summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental_engine",
			Name:      "summaries_total",
			Help:      "Annual summary requests by result.",
		}, []string{"result"}),
		SummaryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rental_engine",
			Name:      "summary_duration_seconds",
			Help:      "Time spent computing an annual summary.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Events, m.Summaries, m.SummaryDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Notify implements generic.Observer.
func (m *Metrics) Notify(_ context.Context, e generic.Event) error {
	m.Events.WithLabelValues(string(e.Kind)).Inc()
	return nil
}

// ObserveSummary records one summary request. Duration is only observed for
// computed summaries.
func (m *Metrics) ObserveSummary(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(result).Inc()
	if result == ResultComputed {
		m.SummaryDuration.Observe(d.Seconds())
	}
}

var _ generic.Observer = (*Metrics)(nil)
