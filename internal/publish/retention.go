package publish

import (
	"context"
	"slices"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// ErrNotConfirmed is returned by Prune when the caller has not confirmed the deletion.
var ErrNotConfirmed = errors.NewStd("retention deletion not confirmed")

// RetentionPlan lists which batches are kept and which are candidates for
// deletion under a retention ceiling. All lists are newest first.
type RetentionPlan struct {
	Ceiling int
	Keep    []BatchID
	Delete  []BatchID
	// Incomplete directories have no metadata.json. They do not count
	// towards the ceiling and are never deleted by Prune.
	Incomplete []BatchID
}

// PlanRetention computes deletion candidates from the batches present in
// storage. It never deletes anything.
func (p *Publisher) PlanRetention(ctx context.Context, ceiling int) (*RetentionPlan, error) {
	if ceiling < 1 {
		return nil, errors.Newf("retention ceiling must be at least 1, got %d", ceiling).
			Category(errors.CategoryValidation).
			Build()
	}
	ids, incomplete, err := p.scanBatches(ctx)
	if err != nil {
		return nil, err
	}

	plan := &RetentionPlan{Ceiling: ceiling, Incomplete: incomplete}
	if len(incomplete) > 0 {
		GetLogger().Warn("Incomplete batch directories in storage",
			logger.Any("batch_ids", idStrings(incomplete)))
	}
	if len(ids) <= ceiling {
		plan.Keep = ids
		return plan, nil
	}
	plan.Keep = ids[:ceiling]
	plan.Delete = ids[ceiling:]

	GetLogger().Info("Retention candidates found",
		logger.Int("batches", len(ids)),
		logger.Int("ceiling", ceiling),
		logger.Int("candidates", len(plan.Delete)))
	return plan, nil
}

// Prune deletes the plan's candidates and then drops them from the index.
// Nothing happens unless confirmed is true; the decision belongs to the caller.
// Index references are removed only after every candidate's objects are gone.
func (p *Publisher) Prune(ctx context.Context, plan *RetentionPlan, confirmed bool) (*Index, error) {
	log := GetLogger()

	if len(plan.Delete) == 0 {
		return ReadIndex(ctx, p.store, p.opts.IndexKey)
	}
	if !confirmed {
		return nil, errors.New(ErrNotConfirmed).
			Category(errors.CategoryValidation).
			Context("candidates", len(plan.Delete)).
			Build()
	}

	ids := make([]string, 0, len(plan.Delete))
	for _, id := range plan.Delete {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err, "prune")
		}
		objects, err := p.store.List(ctx, p.opts.Prefix+"/"+id.String()+"/")
		if err != nil {
			return nil, err
		}
		for _, o := range objects {
			if err := p.store.Delete(ctx, o.Key); err != nil {
				return nil, err
			}
		}
		log.Info("Deleted batch", logger.String("batch_id", id.String()), logger.Int("objects", len(objects)))
		ids = append(ids, id.String())
	}

	current, err := ReadIndex(ctx, p.store, p.opts.IndexKey)
	if err != nil {
		return nil, err
	}
	ix, _, err := p.commit(ctx, current.Version, func(ix *Index) (bool, error) { return ix.Remove(ids...), nil })
	return ix, err
}

// Contains reports whether the plan will delete id.
func (r *RetentionPlan) Contains(id string) bool {
	return slices.ContainsFunc(r.Delete, func(b BatchID) bool { return b.String() == id })
}
