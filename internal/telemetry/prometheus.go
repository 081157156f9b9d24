package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusPublisher counts events by component and name, and tracks a few
// gauges the status page also reports.
type PrometheusPublisher struct {
	events        *prometheus.CounterVec
	eventsInBatch prometheus.Histogram
	lastUpdate    prometheus.Gauge
}

// NewPrometheusPublisher registers its collectors with reg.
func NewPrometheusPublisher(reg prometheus.Registerer) (*PrometheusPublisher, error) {
	p := &PrometheusPublisher{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flagsync",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Lifecycle events emitted by the sync and delivery engines",
			},
			[]string{"component", "name"},
		),
		eventsInBatch: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "flagsync",
				Subsystem: "engine",
				Name:      "batch_size",
				Help:      "Number of events per dispatched sub-batch",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 3000},
			},
		),
		lastUpdate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flagsync",
				Subsystem: "datafile",
				Name:      "last_update_timestamp_seconds",
				Help:      "Unix time of the last datafile change",
			},
		),
	}
	for _, c := range []prometheus.Collector{p.events, p.eventsInBatch, p.lastUpdate} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusPublisher) Publish(e Event) {
	p.events.WithLabelValues(e.Component, e.Name).Inc()
	switch e.Name {
	case BatchDispatched, BatchFailed:
		if n, ok := e.Fields["events"].(int); ok {
			p.eventsInBatch.Observe(float64(n))
		}
	case DatafileUpdated:
		p.lastUpdate.SetToCurrentTime()
	}
}
