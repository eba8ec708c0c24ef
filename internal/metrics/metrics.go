// Package metrics records per-stage timings and outcomes of a run and exports
// them in the Prometheus text format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TextfileName is the metrics file written into the run root.
const TextfileName = "metrics.prom"

// PrometheusRecorder keeps run metrics in a private registry so that several
// runs in one process do not collide.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	duration *prometheus.GaugeVec
	success  *prometheus.GaugeVec
	items    *prometheus.GaugeVec
	status   prometheus.Gauge
}

// NewPrometheusRecorder creates a recorder whose series carry the run ID as a constant label.
func NewPrometheusRecorder(runID string) *PrometheusRecorder {
	constLabels := prometheus.Labels{"run_id": runID}
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "hitmap",
			Name:        "stage_duration_seconds",
			Help:        "Wall-clock duration of a pipeline stage.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "hitmap",
			Name:        "stage_success",
			Help:        "1 if the stage completed, 0 if it failed.",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "hitmap",
			Name:        "stage_items",
			Help:        "Files produced by a stage per channel.",
			ConstLabels: constLabels,
		}, []string{"stage", "channel"}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hitmap",
			Name:        "run_status",
			Help:        "Exit status recorded in the finish record.",
			ConstLabels: constLabels,
		}),
	}
	r.registry.MustRegister(r.duration, r.success, r.items, r.status)
	return r
}

// Observe records one stage outcome.
func (r *PrometheusRecorder) Observe(stage string, success bool, duration time.Duration) {
	r.duration.WithLabelValues(stage).Set(duration.Seconds())
	v := 0.0
	if success {
		v = 1
	}
	r.success.WithLabelValues(stage).Set(v)
}

// SetItems records how many files a stage left in a channel directory.
func (r *PrometheusRecorder) SetItems(stage, channel string, count int) {
	r.items.WithLabelValues(stage, channel).Set(float64(count))
}

// SetRunStatus records the final status of the run.
func (r *PrometheusRecorder) SetRunStatus(status int) {
	r.status.Set(float64(status))
}

// Registry exposes the underlying registry, for tests and embedding.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all series to path in the text exposition format.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
