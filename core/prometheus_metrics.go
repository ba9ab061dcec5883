package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricSink adapts MetricSink to client_golang, lazily creating a
// CounterVec/GaugeVec per metric name the first time it is used and caching
// it for subsequent calls so label sets stay consistent per name.
type PrometheusMetricSink struct {
	registerer prometheus.Registerer

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPrometheusMetricSink builds a sink that registers its vectors against
// reg (pass prometheus.DefaultRegisterer for the global registry).
func NewPrometheusMetricSink(reg prometheus.Registerer) *PrometheusMetricSink {
	return &PrometheusMetricSink{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (s *PrometheusMetricSink) IncrCounter(name string, labels map[string]string) {
	s.mu.Lock()
	vec, ok := s.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(
			prometheus.CounterOpts{Subsystem: "fleetreg", Name: name, Help: "fleetreg counter " + name},
			labelNames(labels),
		)
		s.registerer.MustRegister(vec)
		s.counters[name] = vec
	}
	s.mu.Unlock()

	vec.With(labels).Inc()
}

func (s *PrometheusMetricSink) SetGauge(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	vec, ok := s.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Subsystem: "fleetreg", Name: name, Help: "fleetreg gauge " + name},
			labelNames(labels),
		)
		s.registerer.MustRegister(vec)
		s.gauges[name] = vec
	}
	s.mu.Unlock()

	vec.With(labels).Set(value)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}
