package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics contains Prometheus metrics for object store operations.
// It implements Recorder.
type StorageMetrics struct {
	backend string

	operationsTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
}

// NewStorageMetrics creates and registers storage metrics for a backend.
func NewStorageMetrics(registry prometheus.Registerer, backend string) (*StorageMetrics, error) {
	m := &StorageMetrics{backend: backend}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StorageMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdbird_storage_operations_total",
			Help: "Total number of object store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdbird_storage_errors_total",
			Help: "Total number of object store errors by category",
		},
		[]string{"backend", "operation", "error_type"},
	)

	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdbird_storage_operation_duration_seconds",
			Help:    "Time taken by object store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"backend", "operation"},
	)
}

// Describe implements the Collector interface
func (m *StorageMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.durationSeconds.Describe(ch)
}

// Collect implements the Collector interface
func (m *StorageMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.durationSeconds.Collect(ch)
}

// RecordOperation implements Recorder
func (m *StorageMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(m.backend, operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *StorageMetrics) RecordDuration(operation string, seconds float64) {
	m.durationSeconds.WithLabelValues(m.backend, operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *StorageMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(m.backend, operation, errorType).Inc()
}
