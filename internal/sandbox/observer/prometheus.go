package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "judgecore"

// PrometheusRecorder keeps judge metrics in its own registry.
type PrometheusRecorder struct {
	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	wallTime   *prometheus.HistogramVec
	compiles   *prometheus.CounterVec
	verdicts   *prometheus.CounterVec
	runTime    *prometheus.HistogramVec
	runMemory  *prometheus.HistogramVec
	output     *prometheus.HistogramVec
}

// NewPrometheusRecorder creates and registers every collector.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Sandboxed executions by backend and terminal status.",
		}, []string{"backend", "status"}),
		wallTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "wall_time_ms",
			Help:      "Wall-clock time of sandboxed executions in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"backend"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "compiles_total",
			Help:      "Compile steps by language and outcome.",
		}, []string{"language", "ok"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "verdicts_total",
			Help:      "Judged test cases by language and verdict.",
		}, []string{"language", "verdict"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "run_time_ms",
			Help:      "Runtime of judged test cases in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"language"}),
		runMemory: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "run_memory_bytes",
			Help:      "Peak memory of judged test cases.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 12),
		}, []string{"language"}),
		output: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "judge",
			Name:      "output_bytes",
			Help:      "Captured stdout size of judged test cases.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"language"}),
	}
	r.registry.MustRegister(r.executions, r.wallTime, r.compiles, r.verdicts, r.runTime, r.runMemory, r.output)
	return r
}

// Registry exposes the underlying registry for export.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile dumps the current metrics in node-exporter textfile format.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *PrometheusRecorder) ObserveExecution(ctx context.Context, backend string, status string, wallTimeMs int64) {
	r.executions.WithLabelValues(backend, status).Inc()
	r.wallTime.WithLabelValues(backend).Observe(float64(wallTimeMs))
}

func (r *PrometheusRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64) {
	r.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
}

func (r *PrometheusRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryBytes int64, outputBytes int64) {
	r.verdicts.WithLabelValues(languageID, verdict).Inc()
	r.runTime.WithLabelValues(languageID).Observe(float64(timeMs))
	r.runMemory.WithLabelValues(languageID).Observe(float64(memoryBytes))
	r.output.WithLabelValues(languageID).Observe(float64(outputBytes))
}
