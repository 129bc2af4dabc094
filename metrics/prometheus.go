package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promObserver adapts a Prometheus collector to Observer.
type promObserver struct {
	prometheus.Collector
	observe func(val float64, labels []string)
}

func (m *promObserver) Observe(val float64, labels ...string) {
	m.observe(val, labels)
}

// Counter creates a counter. If labels are given, observations must supply
// a value for each.
func Counter(name, help string, labels ...string) Observer {
	opts := prometheus.CounterOpts{Name: name, Help: help}
	if len(labels) == 0 {
		c := prometheus.NewCounter(opts)
		return &promObserver{Collector: c, observe: func(val float64, _ []string) { c.Add(val) }}
	}
	c := prometheus.NewCounterVec(opts, labels)
	return &promObserver{Collector: c, observe: func(val float64, l []string) { c.WithLabelValues(l...).Add(val) }}
}

// Gauge creates a gauge. Observations are added to it, so they may be
// negative.
func Gauge(name, help string) Observer {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	return &promObserver{Collector: g, observe: func(val float64, _ []string) { g.Add(val) }}
}

// Histogram creates a histogram. Nil buckets use the Prometheus defaults.
func Histogram(name, help string, buckets []float64, labels ...string) Observer {
	opts := prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}
	if len(labels) == 0 {
		h := prometheus.NewHistogram(opts)
		return &promObserver{Collector: h, observe: func(val float64, _ []string) { h.Observe(val) }}
	}
	h := prometheus.NewHistogramVec(opts, labels)
	return &promObserver{Collector: h, observe: func(val float64, l []string) { h.WithLabelValues(l...).Observe(val) }}
}
