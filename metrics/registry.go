package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registryOnce   sync.Once
	customRegistry *prometheus.Registry
)

// GetRegistry returns the process-wide registry for validator metrics.
// It is isolated from the global default registry so the packages can be
// embedded in other binaries without duplicate registration panics.
func GetRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		customRegistry = prometheus.NewRegistry()
		customRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return customRegistry
}

// ComponentRegistry manages metrics for a specific component.
type ComponentRegistry struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
}

// NewComponentRegistry creates a registry for a component backed by GetRegistry.
func NewComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{
		namespace: namespace,
		subsystem: subsystem,
		registry:  GetRegistry(),
	}
}

// NewIsolatedComponentRegistry creates a component registry backed by a fresh
// prometheus registry. Components built more than once per process (tests,
// ad-hoc CLI runs) use it.
func NewIsolatedComponentRegistry(namespace, subsystem string) *ComponentRegistry {
	return &ComponentRegistry{
		namespace: namespace,
		subsystem: subsystem,
		registry:  prometheus.NewRegistry(),
	}
}

// Registry exposes the underlying prometheus registry.
func (r *ComponentRegistry) Registry() *prometheus.Registry {
	return r.registry
}

// NewCounterVec creates a new counter with proper naming.
func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewCounterVec(opts, labelNames)
}

// NewCounter creates a new counter with proper naming.
func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewCounter(opts)
}

// NewGauge creates a new gauge with proper naming.
func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewGauge(opts)
}

// NewGaugeVec creates a new gauge vector with proper naming.
func (r *ComponentRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewGaugeVec(opts, labelNames)
}

// NewHistogramVec creates a new histogram vector with proper naming.
func (r *ComponentRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string,
) *prometheus.HistogramVec {
	opts.Namespace = r.namespace
	opts.Subsystem = r.subsystem
	return promauto.With(r.registry).NewHistogramVec(opts, labelNames)
}
