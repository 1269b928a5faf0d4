package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokenx-labs/fdc-validator/metrics"
)

// Metrics holds the orchestrator collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	StageRetries     *prometheus.CounterVec
	InFlight         prometheus.Gauge
	TicksTotal       *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	TickRequests     *prometheus.HistogramVec
	LastTickUnixTime prometheus.Gauge
}

// NewMetrics registers the orchestrator collectors on reg.
func NewMetrics(reg *metrics.ComponentRegistry) *Metrics {
	return &Metrics{
		RequestsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Processed requests by outcome",
		}, []string{"kind", "outcome"}),
		StageDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: metrics.StageBuckets,
		}, []string{"stage", "status"}),
		StageRetries: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "stage_retries_total",
			Help: "Transient failures retried within a stage",
		}, []string{"stage"}),
		InFlight: reg.NewGauge(prometheus.GaugeOpts{
			Name: "requests_in_flight",
			Help: "Requests currently being processed",
		}),
		TicksTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "ticks_total",
			Help: "Scheduler passes by result",
		}, []string{"result"}),
		TickDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tick_duration_seconds",
			Help:    "Duration of a scheduler pass",
			Buckets: metrics.StageBuckets,
		}, []string{"result"}),
		TickRequests: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tick_requests",
			Help:    "Pending requests listed per pass",
			Buckets: metrics.CountBuckets,
		}, []string{}),
		LastTickUnixTime: reg.NewGauge(prometheus.GaugeOpts{
			Name: "last_tick_timestamp_seconds",
			Help: "Unix time of the last completed pass",
		}),
	}
}
