package pipeline

import (
	"context"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
	"github.com/rssrn/birdbird/internal/notification"
	"github.com/rssrn/birdbird/internal/observability/metrics"
	"github.com/rssrn/birdbird/internal/publish"
	"github.com/rssrn/birdbird/internal/storage"
)

// PublishReport is the outcome of publishing a batch.
type PublishReport struct {
	Result    *publish.Result
	Retention *publish.RetentionPlan
}

// ConfirmFunc decides whether a retention plan may be executed.
type ConfirmFunc func(plan *publish.RetentionPlan) (bool, error)

func (r *Runner) publisher(mode publish.Mode) (*publish.Publisher, error) {
	if r.deps.Store == nil {
		return nil, errors.Newf("no object store configured").
			Category(errors.CategoryConfiguration).
			Build()
	}
	opts := publish.OptionsFromSettings(&r.settings.Publish)
	opts.Mode = mode

	store := r.deps.Store
	if r.deps.Metrics != nil {
		store = storage.WithMetrics(store, r.deps.Metrics.Storage)
	}
	p := publish.NewPublisher(store, r.deps.Fs, opts)
	if r.deps.Metrics != nil {
		p.SetObserver(r.deps.Metrics.Publish)
	}
	return p, nil
}

// LoadBatch reads the batch that Process saved for dir.
func (r *Runner) LoadBatch(dir string) (*Batch, error) {
	return LoadBatch(r.deps.Fs, dir, r.reelPath(dir))
}

// Publish uploads b, updates the index and reports any retention
// candidates. Candidates are never deleted here.
func (r *Runner) Publish(ctx context.Context, b *Batch, mode publish.Mode) (*PublishReport, error) {
	ctx = WithTrace(ctx)
	log := GetLogger().WithContext(ctx)

	p, err := r.publisher(mode)
	if err != nil {
		return nil, err
	}

	report := &PublishReport{}
	err = r.stage(ctx, metrics.StagePublish, func() error {
		var err error
		report.Result, err = p.Publish(ctx, &publish.Input{
			ReelPath: b.ReelPath,
			Windows:  b.Windows,
			Summary:  b.Summary,
			Date:     b.Date,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	plan, err := p.PlanRetention(ctx, r.settings.Publish.Retention)
	if err != nil {
		// the batch is already published; a failed listing only loses the report
		log.Warn("Retention check failed", logger.Error(err))
	} else {
		report.Retention = plan
		if r.deps.Metrics != nil {
			r.deps.Metrics.Publish.SetRetentionCandidates(len(plan.Delete))
		}
		if len(plan.Delete) > 0 {
			log.Warn("Batches beyond retention ceiling, run cleanup to delete them",
				logger.Int("ceiling", plan.Ceiling),
				logger.Any("candidates", batchIDs(plan.Delete)))
		}
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.Pipeline.MarkSuccess(report.Result.Metadata.Uploaded)
	}
	r.notify(ctx, b, report)
	return report, nil
}

func (r *Runner) notify(ctx context.Context, b *Batch, report *PublishReport) {
	if !r.deps.Notifier.Enabled() {
		return
	}
	notice := &notification.Notice{
		BatchID:            report.Result.BatchID,
		StartDate:          b.Summary.StartDate,
		EndDate:            b.Summary.EndDate,
		ClipCount:          b.Summary.ClipCount,
		HighlightsDuration: b.Summary.HighlightsDuration,
		TopSpecies:         notification.TopSpecies(b.Summary.SpeciesCounts),
		Reused:             report.Result.Reused,
		ExcludedClips:      len(b.Summary.Excluded),
	}
	if report.Retention != nil {
		notice.RetentionCandidates = batchIDs(report.Retention.Delete)
	}
	if err := r.deps.Notifier.Notify(ctx, notice); err != nil {
		GetLogger().WithContext(ctx).Warn("Notification failed", logger.Error(err))
	}
}

// Cleanup plans retention against the configured ceiling and deletes the
// candidates only when confirm approves.
func (r *Runner) Cleanup(ctx context.Context, confirm ConfirmFunc) (*publish.RetentionPlan, bool, error) {
	ctx = WithTrace(ctx)

	p, err := r.publisher(publish.ModeAuto)
	if err != nil {
		return nil, false, err
	}
	plan, err := p.PlanRetention(ctx, r.settings.Publish.Retention)
	if err != nil {
		return nil, false, err
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.Publish.SetRetentionCandidates(len(plan.Delete))
	}
	if len(plan.Delete) == 0 {
		return plan, false, nil
	}

	ok, err := confirm(plan)
	if err != nil {
		return plan, false, err
	}
	if !ok {
		GetLogger().WithContext(ctx).Info("Cleanup not confirmed, nothing deleted",
			logger.Int("candidates", len(plan.Delete)))
		return plan, false, nil
	}

	if _, err := p.Prune(ctx, plan, true); err != nil {
		return plan, false, err
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.Publish.AddDeleted(len(plan.Delete))
		r.deps.Metrics.Publish.SetRetentionCandidates(0)
	}
	return plan, true, nil
}

// Reindex repeats only the index step for an uploaded batch.
func (r *Runner) Reindex(ctx context.Context, batchID string) (*publish.Index, bool, error) {
	ctx = WithTrace(ctx)
	p, err := r.publisher(publish.ModeAuto)
	if err != nil {
		return nil, false, err
	}
	return p.Reindex(ctx, batchID)
}

func batchIDs(ids []publish.BatchID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
