package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PublishMetrics contains Prometheus metrics for batch publication.
type PublishMetrics struct {
	assetsTotal        *prometheus.CounterVec
	uploadBytes        prometheus.Histogram
	indexUpdatesTotal  *prometheus.CounterVec
	indexVersion       prometheus.Gauge
	retainedBatches    prometheus.Gauge
	retentionCandidate prometheus.Gauge
	batchesDeleted     prometheus.Counter
}

// NewPublishMetrics creates and registers publish metrics
func NewPublishMetrics(registry prometheus.Registerer) (*PublishMetrics, error) {
	m := &PublishMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PublishMetrics) initMetrics() {
	m.assetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdbird_publish_assets_total",
			Help: "Batch assets by outcome",
		},
		[]string{"asset", "status"}, // status: success, skipped, error
	)

	m.uploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "birdbird_publish_upload_bytes",
		Help:    "Size of uploaded assets",
		Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount10), // 1KB to ~256GB
	})

	m.indexUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdbird_index_updates_total",
			Help: "Index commits by outcome",
		},
		[]string{"status"}, // success, unchanged, conflict, error
	)

	m.indexVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "birdbird_index_version",
		Help: "Version of the index after the last commit",
	})
	m.retainedBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "birdbird_retained_batches",
		Help: "Batches listed in the index",
	})
	m.retentionCandidate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "birdbird_retention_candidates",
		Help: "Batches beyond the retention ceiling awaiting confirmation",
	})
	m.batchesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdbird_batches_deleted_total",
		Help: "Batches deleted by confirmed retention",
	})
}

func (m *PublishMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.assetsTotal, m.uploadBytes, m.indexUpdatesTotal, m.indexVersion,
		m.retainedBatches, m.retentionCandidate, m.batchesDeleted,
	}
}

// Describe implements the Collector interface
func (m *PublishMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PublishMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordAsset records one asset outcome; size is observed for real uploads only.
func (m *PublishMetrics) RecordAsset(asset, status string, size int64) {
	m.assetsTotal.WithLabelValues(asset, status).Inc()
	if status == StatusSuccess {
		m.uploadBytes.Observe(float64(size))
	}
}

// RecordIndexUpdate records an index commit outcome and the resulting state.
func (m *PublishMetrics) RecordIndexUpdate(status string, version int64, batches int) {
	m.indexUpdatesTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess || status == StatusUnchanged {
		m.indexVersion.Set(float64(version))
		m.retainedBatches.Set(float64(batches))
	}
}

// SetRetentionCandidates records the size of the pending deletion set.
func (m *PublishMetrics) SetRetentionCandidates(n int) {
	m.retentionCandidate.Set(float64(n))
}

// AddDeleted counts batches removed by retention.
func (m *PublishMetrics) AddDeleted(n int) {
	m.batchesDeleted.Add(float64(n))
}
