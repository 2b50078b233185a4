package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/storage"
)

const reelPath = "/work/highlights.mp4"

var publishedAt = time.Date(2026, 2, 3, 7, 30, 0, 0, time.UTC)

// hookStore wraps a store and runs hooks before Put.
type hookStore struct {
	storage.ObjectStore
	beforePut func(key string) error
}

func (s *hookStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if s.beforePut != nil {
		if err := s.beforePut(key); err != nil {
			return err
		}
	}
	return s.ObjectStore.Put(ctx, key, body, size, contentType)
}

type fixture struct {
	store *storage.LocalStore
	fs    afero.Fs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, fs := newMemStore(t)
	require.NoError(t, afero.WriteFile(fs, reelPath, []byte("reel-bytes"), 0o644))
	return &fixture{store: store, fs: fs}
}

func (f *fixture) publisher(store storage.ObjectStore, opts Options) *Publisher {
	if store == nil {
		store = f.store
	}
	p := NewPublisher(store, f.fs, opts)
	p.now = func() time.Time { return publishedAt }
	return p
}

func (f *fixture) index(t *testing.T) *Index {
	t.Helper()
	ix, err := ReadIndex(context.Background(), f.store, "latest.json")
	require.NoError(t, err)
	return ix
}

func testInput(windows string) *Input {
	return &Input{
		ReelPath: reelPath,
		Windows:  []byte(windows),
		Date:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Summary: Summary{
			OriginalDate:       "2026-02-01",
			StartDate:          "2026-02-01",
			EndDate:            "2026-02-02",
			ClipCount:          12,
			ActiveClipCount:    4,
			SegmentCount:       6,
			OriginalDuration:   240,
			HighlightsDuration: 31.5,
			SpeciesCounts:      map[string]int{"Blue Tit": 3, "Robin": 1},
		},
	}
}

func TestPublishFirstBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publisher(nil, Options{Workers: 2})

	res, err := p.Publish(context.Background(), testInput(`{"species":[]}`))
	require.NoError(t, err)

	assert.Equal(t, "20260201-01", res.BatchID)
	assert.False(t, res.Reused)
	assert.True(t, res.IndexChanged)
	assert.ElementsMatch(t, []string{ReelObject, WindowsObject, MetadataObject}, res.Uploaded)
	assert.Empty(t, res.Skipped)

	reel, err := f.store.Get(context.Background(), "batches/20260201-01/highlights.mp4")
	require.NoError(t, err)
	assert.Equal(t, "reel-bytes", string(reel))

	data, err := f.store.Get(context.Background(), "batches/20260201-01/metadata.json")
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, "20260201-01", meta.BatchID)
	assert.Equal(t, 3, meta.SpeciesCounts["Blue Tit"])
	assert.NotEmpty(t, meta.ContentHash)

	ix := f.index(t)
	assert.Equal(t, int64(1), ix.Version)
	assert.Equal(t, "20260201-01", ix.Latest)
	require.Len(t, ix.Batches, 1)
	assert.Equal(t, 12, ix.Batches[0].ClipCount)
	assert.InDelta(t, 31.5, ix.Batches[0].HighlightsDuration, 1e-9)
}

func TestPublishIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publisher(nil, Options{Workers: 3})
	ctx := context.Background()

	first, err := p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)

	p.now = func() time.Time { return publishedAt.Add(24 * time.Hour) }
	second, err := p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)

	assert.Equal(t, first.BatchID, second.BatchID)
	assert.True(t, second.Reused)
	assert.False(t, second.IndexChanged)
	assert.Empty(t, second.Uploaded, "unchanged objects are not uploaded again")
	assert.Len(t, second.Skipped, 3)
	assert.True(t, publishedAt.Equal(second.Metadata.Uploaded), "reused batch keeps its metadata")

	ix := f.index(t)
	assert.Equal(t, int64(1), ix.Version)
	assert.Len(t, ix.Batches, 1)
}

func TestPublishChangedContentTakesNextSequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publisher(nil, Options{})
	ctx := context.Background()

	_, err := p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	res, err := p.Publish(ctx, testInput(`{"species":[{"species":"Robin"}]}`))
	require.NoError(t, err)

	assert.Equal(t, "20260201-02", res.BatchID)
	ix := f.index(t)
	assert.Equal(t, "20260201-02", ix.Latest)
	assert.Len(t, ix.Batches, 2)
}

func TestPublishModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    Mode
		windows string
		want    string
		batches int
	}{
		{"new forces next sequence", ModeNew, `{"species":[]}`, "20260201-02", 2},
		{"replace overwrites highest", ModeReplace, `{"species":[{"species":"Robin"}]}`, "20260201-01", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			_, err := f.publisher(nil, Options{}).Publish(ctx, testInput(`{"species":[]}`))
			require.NoError(t, err)

			res, err := f.publisher(nil, Options{Mode: tt.mode}).Publish(ctx, testInput(tt.windows))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.BatchID)
			assert.True(t, res.IndexChanged)

			ix := f.index(t)
			assert.Len(t, ix.Batches, tt.batches)
			assert.Equal(t, tt.want, ix.Latest)

			windows, err := f.store.Get(ctx, "batches/"+tt.want+"/windows.json")
			require.NoError(t, err)
			assert.Equal(t, tt.windows, string(windows))
		})
	}
}

func TestPublishAfterLegacyBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "batches/20260201_01/highlights.mp4", bytes.NewReader([]byte("old")), 3, "video/mp4"))
	require.NoError(t, f.store.Put(ctx, "batches/20260201_01/metadata.json", bytes.NewReader([]byte("{}")), 2, "application/json"))

	res, err := f.publisher(nil, Options{}).Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "20260201-02", res.BatchID)
}

func TestPublishUploadFailureLeavesIndexUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.publisher(nil, Options{}).Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	before := f.index(t)

	failing := &hookStore{ObjectStore: f.store, beforePut: func(key string) error {
		if strings.HasSuffix(key, WindowsObject) {
			return &errors.UploadError{Key: key, Attempts: 3, Err: errors.NewStd("connection reset by peer")}
		}
		return nil
	}}

	_, err = f.publisher(failing, Options{Mode: ModeNew, Workers: 3}).Publish(ctx, testInput(`{"species":[]}`))
	require.ErrorIs(t, err, errors.ErrUpload)

	after := f.index(t)
	assert.Equal(t, before, after)
	assert.Equal(t, "20260201-01", after.Latest)
}

func TestPublishMetadataFailureLeavesNoPartialBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	failing := &hookStore{ObjectStore: f.store, beforePut: func(key string) error {
		if strings.HasSuffix(key, MetadataObject) {
			return &errors.UploadError{Key: key, Attempts: 3, Err: errors.NewStd("connection reset by peer")}
		}
		return nil
	}}
	_, err := f.publisher(failing, Options{Workers: 3}).Publish(ctx, testInput(`{"species":[]}`))
	require.ErrorIs(t, err, errors.ErrUpload)

	left, err := f.store.List(ctx, "batches/")
	require.NoError(t, err)
	assert.Empty(t, left, "uploaded assets of the failed batch are removed")

	res, err := f.publisher(nil, Options{}).Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "20260201-01", res.BatchID)

	plan, err := f.publisher(nil, Options{}).PlanRetention(ctx, 5)
	require.NoError(t, err)
	require.Len(t, plan.Keep, 1)
	assert.Equal(t, "20260201-01", plan.Keep[0].String())
	assert.Empty(t, plan.Incomplete)
}

func TestPublishTakesOverIncompleteBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	// an earlier run died between uploads and could not clean up
	require.NoError(t, f.store.Put(ctx, "batches/20260201-01/windows.json", bytes.NewReader([]byte("{}")), 2, "application/json"))

	p := f.publisher(nil, Options{})
	plan, err := p.PlanRetention(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, plan.Keep, "an incomplete directory is not a batch")
	require.Len(t, plan.Incomplete, 1)
	assert.Equal(t, "20260201-01", plan.Incomplete[0].String())

	res, err := p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "20260201-01", res.BatchID)

	again, err := p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "20260201-01", again.BatchID)
	assert.True(t, again.Reused)

	windows, err := f.store.Get(ctx, "batches/20260201-01/windows.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"species":[]}`, string(windows))
}

func TestPublishReplaceFailureKeepsExistingBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.publisher(nil, Options{}).Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)

	failing := &hookStore{ObjectStore: f.store, beforePut: func(key string) error {
		if strings.HasSuffix(key, MetadataObject) {
			return errors.NewStd("quota exceeded")
		}
		return nil
	}}
	_, err = f.publisher(failing, Options{Mode: ModeReplace}).Publish(ctx, testInput(`{"species":[{"species":"Robin"}]}`))
	require.Error(t, err)

	_, err = f.store.Stat(ctx, "batches/20260201-01/metadata.json")
	assert.NoError(t, err, "a replaced batch is never discarded")
}

func TestPublishRetriesIndexStepOnConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// another writer moves the index while assets are uploading
	var once sync.Once
	racing := &hookStore{ObjectStore: f.store, beforePut: func(key string) error {
		if strings.HasSuffix(key, ReelObject) {
			once.Do(func() {
				_, _, err := CommitIndex(ctx, f.store, "latest.json", 0, func(ix *Index) (bool, error) {
					return ix.Upsert(entry("20260130-01", "other")), nil
				})
				assert.NoError(t, err)
			})
		}
		return nil
	}}

	res, err := f.publisher(racing, Options{IndexRetries: 1}).Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Index.Version)
	ix := f.index(t)
	assert.Equal(t, "20260201-01", ix.Latest)
	assert.Len(t, ix.Batches, 2)
}

func TestPublishConflictThenReindex(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var once sync.Once
	racing := &hookStore{ObjectStore: f.store, beforePut: func(key string) error {
		if strings.HasSuffix(key, ReelObject) {
			once.Do(func() {
				_, _, err := CommitIndex(ctx, f.store, "latest.json", 0, func(ix *Index) (bool, error) {
					return ix.Upsert(entry("20260130-01", "other")), nil
				})
				assert.NoError(t, err)
			})
		}
		return nil
	}}

	_, err := f.publisher(racing, Options{}).Publish(ctx, testInput(`{"species":[]}`))
	require.ErrorIs(t, err, errors.ErrIndexConflict)
	assert.Equal(t, "20260130-01", f.index(t).Latest, "conflicting publish must not touch the index")

	ix, changed, err := f.publisher(nil, Options{}).Reindex(ctx, "20260201-01")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "20260201-01", ix.Latest)
	assert.Len(t, ix.Batches, 2)
}

func TestReindexRequiresUploadedAssets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publisher(nil, Options{})

	_, _, err := p.Reindex(context.Background(), "20260201-01")
	assert.True(t, storage.IsNotFound(err))

	_, _, err = p.Reindex(context.Background(), "not-a-batch")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestPublishCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.publisher(nil, Options{}).Publish(ctx, testInput(`{"species":[]}`))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	_, statErr := f.store.Stat(context.Background(), "latest.json")
	assert.True(t, storage.IsNotFound(statErr))
}

func TestUnchanged(t *testing.T) {
	t.Parallel()

	assert.True(t, unchanged(storage.ObjectInfo{ETag: "ABC", Size: 1}, "abc", 9))
	assert.False(t, unchanged(storage.ObjectInfo{ETag: "abd", Size: 9}, "abc", 9))
	assert.True(t, unchanged(storage.ObjectInfo{ETag: "abc-4", Size: 9}, "xyz", 9), "multipart etag falls back to size")
	assert.False(t, unchanged(storage.ObjectInfo{ETag: "abc-4", Size: 8}, "xyz", 9))
	assert.True(t, unchanged(storage.ObjectInfo{Size: 9}, "xyz", 9))
}

type recordingObserver struct {
	mu     sync.Mutex
	assets map[string]string
	index  []string
}

func (o *recordingObserver) RecordAsset(asset, status string, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assets[asset] = status
}

func (o *recordingObserver) RecordIndexUpdate(status string, _ int64, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.index = append(o.index, status)
}

func TestPublishReportsOutcomes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p := f.publisher(nil, Options{})
	obs := &recordingObserver{assets: map[string]string{}}
	p.SetObserver(obs)
	ctx := context.Background()

	_, err := p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "success", obs.assets[ReelObject])

	_, err = p.Publish(ctx, testInput(`{"species":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "skipped", obs.assets[ReelObject])
	assert.Equal(t, []string{"success", "unchanged"}, obs.index)
}
