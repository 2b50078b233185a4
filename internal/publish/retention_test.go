package publish

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/storage"
)

// seedBatches stores n batches on consecutive days of January 2026 and
// lists them in the index.
func seedBatches(t *testing.T, f *fixture, n int) []string {
	t.Helper()
	ctx := context.Background()

	ids := make([]string, 0, n)
	for day := 1; day <= n; day++ {
		id := fmt.Sprintf("202601%02d-01", day)
		for _, name := range []string{ReelObject, WindowsObject, MetadataObject} {
			require.NoError(t, f.store.Put(ctx, "batches/"+id+"/"+name, bytes.NewReader([]byte(id)), int64(len(id)), ""))
		}
		ix := f.index(t)
		_, _, err := CommitIndex(ctx, f.store, "latest.json", ix.Version, func(ix *Index) (bool, error) {
			return ix.Upsert(entry(id, id)), nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestRetentionPlanAndConfirm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ids := seedBatches(t, f, 6)
	p := f.publisher(nil, Options{})

	plan, err := p.PlanRetention(ctx, 5)
	require.NoError(t, err)
	require.Len(t, plan.Delete, 1)
	assert.Equal(t, ids[0], plan.Delete[0].String(), "oldest batch is the candidate")
	assert.Len(t, plan.Keep, 5)
	assert.True(t, plan.Contains(ids[0]))

	_, err = p.Prune(ctx, plan, false)
	require.ErrorIs(t, err, ErrNotConfirmed)
	_, err = f.store.Stat(ctx, "batches/"+ids[0]+"/highlights.mp4")
	require.NoError(t, err, "nothing is deleted without confirmation")
	assert.Len(t, f.index(t).Batches, 6)

	ix, err := p.Prune(ctx, plan, true)
	require.NoError(t, err)
	assert.Len(t, ix.Batches, 5)
	_, found := ix.Lookup(ids[0])
	assert.False(t, found)
	assert.Equal(t, ids[5], ix.Latest)

	objects, err := f.store.List(ctx, "batches/"+ids[0]+"/")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestRetentionWithinCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	seedBatches(t, f, 3)
	p := f.publisher(nil, Options{})

	plan, err := p.PlanRetention(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, plan.Delete)
	assert.Len(t, plan.Keep, 3)

	ix, err := p.Prune(context.Background(), plan, false)
	require.NoError(t, err, "an empty plan needs no confirmation")
	assert.Len(t, ix.Batches, 3)
}

func TestRetentionRejectsZeroCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.publisher(nil, Options{}).PlanRetention(context.Background(), 0)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.False(t, storage.IsNotFound(err))
}
