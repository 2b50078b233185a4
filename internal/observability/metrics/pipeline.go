package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics describes the most recent batch run.
type PipelineMetrics struct {
	stageDurationSeconds *prometheus.HistogramVec
	stageRunsTotal       *prometheus.CounterVec

	clips              prometheus.Gauge
	activeClips        prometheus.Gauge
	segments           prometheus.Gauge
	excludedClips      prometheus.Gauge
	originalSeconds    prometheus.Gauge
	highlightsSeconds  prometheus.Gauge
	speciesWindows     prometheus.Gauge
	malformedEvents    *prometheus.GaugeVec
	lastSuccessSeconds prometheus.Gauge
}

// NewPipelineMetrics creates and registers pipeline metrics
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdbird_stage_duration_seconds",
			Help:    "Time taken by each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount15), // 100ms to ~27min
		},
		[]string{"stage"},
	)

	m.stageRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdbird_stage_runs_total",
			Help: "Pipeline stage executions by outcome",
		},
		[]string{"stage", "status"},
	)

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	m.clips = gauge("birdbird_batch_clips", "Clips in the batch")
	m.activeClips = gauge("birdbird_batch_active_clips", "Clips with at least one active segment")
	m.segments = gauge("birdbird_batch_segments", "Active segments in the batch")
	m.excludedClips = gauge("birdbird_batch_excluded_clips", "Clips excluded after extraction failure")
	m.originalSeconds = gauge("birdbird_batch_original_duration_seconds", "Total duration of the source footage")
	m.highlightsSeconds = gauge("birdbird_batch_highlights_duration_seconds", "Duration of the highlights reel")
	m.speciesWindows = gauge("birdbird_batch_species_windows", "Species with a best viewing window")
	m.lastSuccessSeconds = gauge("birdbird_last_success_timestamp_seconds", "Unix time of the last successful run")

	m.malformedEvents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "birdbird_batch_malformed_events",
			Help: "Detector records dropped as malformed",
		},
		[]string{"reason"},
	)
}

func (m *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.stageDurationSeconds, m.stageRunsTotal,
		m.clips, m.activeClips, m.segments, m.excludedClips,
		m.originalSeconds, m.highlightsSeconds, m.speciesWindows,
		m.malformedEvents, m.lastSuccessSeconds,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ObserveStage records a stage duration and its outcome.
func (m *PipelineMetrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	m.stageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.stageRunsTotal.WithLabelValues(stage, status).Inc()
}

// BatchSummary is the set of batch figures exported as gauges.
type BatchSummary struct {
	Clips             int
	ActiveClips       int
	Segments          int
	ExcludedClips     int
	OriginalSeconds   float64
	HighlightsSeconds float64
	SpeciesWindows    int
	Malformed         map[string]int // by reason
}

// SetBatch exports the figures of a finished batch.
func (m *PipelineMetrics) SetBatch(s BatchSummary) {
	m.clips.Set(float64(s.Clips))
	m.activeClips.Set(float64(s.ActiveClips))
	m.segments.Set(float64(s.Segments))
	m.excludedClips.Set(float64(s.ExcludedClips))
	m.originalSeconds.Set(s.OriginalSeconds)
	m.highlightsSeconds.Set(s.HighlightsSeconds)
	m.speciesWindows.Set(float64(s.SpeciesWindows))
	m.malformedEvents.Reset()
	for reason, n := range s.Malformed {
		m.malformedEvents.WithLabelValues(reason).Set(float64(n))
	}
}

// MarkSuccess stamps the time of a successful run.
func (m *PipelineMetrics) MarkSuccess(t time.Time) {
	m.lastSuccessSeconds.Set(float64(t.Unix()))
}
