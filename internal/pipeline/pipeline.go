// Package pipeline runs one batch through the detection store, segment
// resolver, highlight assembler, window selector and publisher.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/detection"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/highlights"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/notification"
	"github.com/rssrn/birdbird/internal/observability"
	"github.com/rssrn/birdbird/internal/observability/metrics"
	"github.com/rssrn/birdbird/internal/segments"
	"github.com/rssrn/birdbird/internal/storage"
	"github.com/rssrn/birdbird/internal/windows"
)

// Transcoder cuts, joins and probes media files.
type Transcoder interface {
	highlights.Transcoder
	detection.DurationProber
}

// Deps are the collaborators of a Runner. Only Process needs a Transcoder
// and only publishing needs a Store; Notifier and Metrics are optional.
type Deps struct {
	Fs         afero.Fs
	Transcoder Transcoder
	Store      storage.ObjectStore
	Notifier   *notification.Notifier
	Metrics    *observability.Metrics
}

// Runner executes pipeline stages for batch directories.
type Runner struct {
	settings *conf.Settings
	deps     Deps
	selector *windows.Selector
}

// New validates the window options and returns a runner.
func New(settings *conf.Settings, deps Deps) (*Runner, error) {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	selector, err := windows.NewSelector(windows.OptionsFromSettings(&settings.Windows))
	if err != nil {
		return nil, err
	}
	return &Runner{settings: settings, deps: deps, selector: selector}, nil
}

// WithTrace returns ctx carrying a fresh trace ID for one command run.
func WithTrace(ctx context.Context) context.Context {
	if logger.TraceIDFromContext(ctx) != "" {
		return ctx
	}
	return logger.WithTraceID(ctx, uuid.NewString())
}

// stage runs fn and records its duration and outcome.
func (r *Runner) stage(ctx context.Context, name string, fn func() error) error {
	log := GetLogger().WithContext(ctx)
	start := time.Now()
	log.Debug("Stage started", logger.String("stage", name))

	err := fn()
	elapsed := time.Since(start)
	if r.deps.Metrics != nil {
		r.deps.Metrics.Pipeline.ObserveStage(name, elapsed, err)
	}
	if err != nil {
		log.Error("Stage failed",
			logger.String("stage", name),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return err
	}
	log.Info("Stage complete", logger.String("stage", name), logger.Duration("elapsed", elapsed))
	return nil
}

// Process turns a batch directory into a reel, a windows document and a
// summary, and saves them beside the reel for a later publish.
func (r *Runner) Process(ctx context.Context, dir string) (*Batch, error) {
	if r.deps.Transcoder == nil {
		return nil, errors.Newf("processing requires a transcoder").
			Category(errors.CategoryConfiguration).
			Build()
	}
	ctx = WithTrace(ctx)
	s := r.settings
	workDir := filepath.Join(dir, s.Detection.WorkDir)

	var (
		inv   *detection.Inventory
		store *detection.Store
	)
	err := r.stage(ctx, metrics.StageLoad, func() error {
		var err error
		inv, err = detection.ScanClips(ctx, r.deps.Fs, dir,
			detection.InventoryOptions{Pattern: s.Detection.ClipPattern},
			r.deps.Transcoder)
		if err != nil {
			return err
		}
		store = detection.NewStore(inv)
		return detection.LoadDetectorOutput(r.deps.Fs, workDir, detection.DetectorFiles{
			Presence: s.Detection.PresenceFile,
			Species:  s.Detection.SpeciesFile,
			Songs:    s.Detection.SongsFile,
		}, s.Detection.BirdConfidence, store)
	})
	if err != nil {
		return nil, err
	}

	var segs []segments.Segment
	_ = r.stage(ctx, metrics.StageResolve, func() error {
		segs = segments.NewResolver(segments.OptionsFromSettings(&s.Segments)).
			ResolveBatch(inv, store.Presence())
		return nil
	})

	var reel *highlights.Result
	err = r.stage(ctx, metrics.StageAssemble, func() error {
		opts := highlights.OptionsFromSettings(&s.Highlights)
		opts.Output = r.reelPath(dir)
		var err error
		reel, err = highlights.NewAssembler(r.deps.Transcoder, opts).Assemble(ctx, inv, segs)
		return err
	})
	if err != nil {
		return nil, err
	}

	var doc *windows.Document
	_ = r.stage(ctx, metrics.StageWindows, func() error {
		doc = r.selector.Select(reel.Timeline, store.SpeciesEvents())
		return nil
	})

	batch, err := newBatch(dir, inv, store, reel, doc)
	if err != nil {
		return nil, err
	}
	if err := batch.Save(r.deps.Fs); err != nil {
		return nil, err
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.Pipeline.SetBatch(metrics.BatchSummary{
			Clips:             batch.Summary.ClipCount,
			ActiveClips:       batch.Summary.ActiveClipCount,
			Segments:          batch.Summary.SegmentCount,
			ExcludedClips:     len(batch.Summary.Excluded),
			OriginalSeconds:   batch.Summary.OriginalDuration,
			HighlightsSeconds: batch.Summary.HighlightsDuration,
			SpeciesWindows:    len(doc.Species),
			Malformed:         batch.Summary.Malformed,
		})
	}

	GetLogger().WithContext(ctx).Info("Batch processed",
		logger.String("dir", dir),
		logger.String("date_range", inv.Range.String()),
		logger.Int("clips", batch.Summary.ClipCount),
		logger.Int("segments", batch.Summary.SegmentCount),
		logger.Int("species_windows", len(doc.Species)),
		logger.Float64("highlights_seconds", batch.Summary.HighlightsDuration))
	return batch, nil
}

// reelPath resolves the configured reel location against the batch directory.
func (r *Runner) reelPath(dir string) string {
	out := r.settings.Highlights.Output
	if out == "" {
		out = filepath.Join("birdbird", "assets", conf.DefaultHighlightsName)
	}
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(dir, out)
}

// Flush writes the metrics textfile when metrics are enabled.
func (r *Runner) Flush() error {
	if r.deps.Metrics == nil || !r.settings.Metrics.Enabled || r.settings.Metrics.TextfilePath == "" {
		return nil
	}
	return r.deps.Metrics.WriteTextfile(r.settings.Metrics.TextfilePath)
}
