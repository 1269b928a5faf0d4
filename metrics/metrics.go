package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the validator.
const Namespace = "fdc_validator"

var (
	// DurationBuckets covers RPC and HTTP round trips.
	DurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

	// StageBuckets covers pipeline stages that wait on round finalization.
	StageBuckets = []float64{1, 5, 15, 30, 60, 90, 120, 180, 300, 600, 900}

	// CountBuckets covers per-tick request counts.
	CountBuckets = []float64{0, 1, 2, 5, 10, 25, 50, 100}
)

// Uptime is a gauge registered in the validator registry.
var Uptime = func() prometheus.Gauge {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "core",
		Name:      "uptime_seconds",
		Help:      "Uptime in seconds",
	})
	GetRegistry().MustRegister(gauge)
	return gauge
}()

// TrackUptime sets Uptime relative to startedAt.
func TrackUptime(startedAt time.Time) {
	Uptime.Set(time.Since(startedAt).Seconds())
}
