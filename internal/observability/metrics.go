// Package observability collects the Prometheus metrics of a batch run and
// writes them as a node-exporter textfile.
package observability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/observability/metrics"
)

// Metrics holds all the metric collectors for a run.
type Metrics struct {
	registry *prometheus.Registry
	Pipeline *metrics.PipelineMetrics
	Publish  *metrics.PublishMetrics
	Storage  *metrics.StorageMetrics
}

// NewMetrics creates a registry with every collector registered. backend
// labels the storage metrics.
func NewMetrics(backend string) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	publishMetrics, err := metrics.NewPublishMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish metrics: %w", err)
	}

	storageMetrics, err := metrics.NewStorageMetrics(registry, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Pipeline: pipelineMetrics,
		Publish:  publishMetrics,
		Storage:  storageMetrics,
	}, nil
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically so a collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create_metrics_dir").
			Context("path", path).
			Build()
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "write_metrics_textfile").
			Context("path", path).
			Build()
	}
	GetLogger().Debug("Metrics textfile written", logger.String("path", path))
	return nil
}
