// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox and judge metrics.
type MetricsRecorder interface {
	ObserveExecution(ctx context.Context, backend string, status string, wallTimeMs int64)
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64)
	ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryBytes int64, outputBytes int64)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveExecution(ctx context.Context, backend string, status string, wallTimeMs int64) {
}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryBytes int64) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, timeMs int64, memoryBytes int64, outputBytes int64) {
}
