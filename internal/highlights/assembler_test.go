package highlights

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rssrn/birdbird/internal/detection"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/segments"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTranscoder records extractions and fails for configured inputs.
type fakeTranscoder struct {
	mu        sync.Mutex
	inputs    map[string]string // part path -> clip path
	concat    []string
	fail      map[string]bool
	concatErr error
	probe     func(path string) (float64, error)
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{
		inputs: make(map[string]string),
		fail:   make(map[string]bool),
	}
}

func (f *fakeTranscoder) Extract(_ context.Context, input string, start, end float64, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[input] {
		return fmt.Errorf("exit status 1")
	}
	f.inputs[output] = input
	return os.WriteFile(output, []byte("part"), 0o644)
}

func (f *fakeTranscoder) Concat(_ context.Context, parts []string, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concat = append([]string(nil), parts...)
	if f.concatErr != nil {
		return f.concatErr
	}
	return os.WriteFile(output, []byte("reel"), 0o644)
}

func (f *fakeTranscoder) Duration(_ context.Context, path string) (float64, error) {
	if f.probe != nil {
		return f.probe(path)
	}
	return 0, fmt.Errorf("no duration for %s", path)
}

// concatInputs maps the concatenated parts back to their source clips.
func (f *fakeTranscoder) concatInputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.concat))
	for _, p := range f.concat {
		out = append(out, f.inputs[p])
	}
	return out
}

func testInventory() *detection.Inventory {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return detection.NewInventory("/batch/20260201", day, []detection.Clip{
		{ID: "0108100000.avi", Path: "/batch/20260201/0108100000.avi", CapturedAt: day.Add(8*time.Hour + 10*time.Minute), Duration: 10},
		{ID: "0108000000.avi", Path: "/batch/20260201/0108000000.avi", CapturedAt: day.Add(8 * time.Hour), Duration: 10},
		{ID: "0108050000.avi", Path: "/batch/20260201/0108050000.avi", CapturedAt: day.Add(8*time.Hour + 5*time.Minute), Duration: 10},
		{ID: "0109000000.avi", Path: "/batch/20260201/0109000000.avi", CapturedAt: day.Add(9 * time.Hour), Duration: 10},
	})
}

func testSegments() []segments.Segment {
	// deliberately out of capture order
	return []segments.Segment{
		{ClipID: "0108100000.avi", Start: 1, End: 3},
		{ClipID: "0108000000.avi", Start: 0, End: 2.5},
		{ClipID: "0108050000.avi", Start: 4, End: 6},
		{ClipID: "0108000000.avi", Start: 6, End: 8},
	}
}

func TestAssembleChronologicalOrder(t *testing.T) {
	tc := newFakeTranscoder()
	out := filepath.Join(t.TempDir(), "assets", "highlights.mp4")
	a := NewAssembler(tc, Options{Output: out, Workers: 3})

	res, err := a.Assemble(context.Background(), testInventory(), testSegments())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/batch/20260201/0108000000.avi",
		"/batch/20260201/0108000000.avi",
		"/batch/20260201/0108050000.avi",
		"/batch/20260201/0108100000.avi",
	}, tc.concatInputs())
	assert.FileExists(t, out)

	entries := res.Timeline.Entries
	require.Len(t, entries, 4)
	assert.Equal(t, "0108000000.avi", entries[0].ClipID)
	assert.InDelta(t, 0, entries[0].ReelStart, 1e-9)
	assert.InDelta(t, 2.5, entries[1].ReelStart, 1e-9)
	assert.InDelta(t, 4.5, entries[2].ReelStart, 1e-9)
	assert.InDelta(t, 6.5, entries[3].ReelStart, 1e-9)
	assert.InDelta(t, 8.5, res.Stats.FinalDuration, 1e-9)

	assert.Equal(t, 4, res.Stats.ClipCount)
	assert.Equal(t, 3, res.Stats.ActiveClipCount)
	assert.Equal(t, 4, res.Stats.SegmentCount)
	assert.InDelta(t, 40, res.Stats.OriginalDuration, 1e-9)
	assert.InDelta(t, 30, res.Stats.ActiveDuration, 1e-9)
	assert.Empty(t, res.Stats.Excluded)

	// no intermediate parts survive
	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(out), ".highlights-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestAssembleExcludesFailedClip(t *testing.T) {
	tc := newFakeTranscoder()
	tc.fail["/batch/20260201/0108050000.avi"] = true
	out := filepath.Join(t.TempDir(), "highlights.mp4")

	res, err := NewAssembler(tc, Options{Output: out, Workers: 2}).
		Assemble(context.Background(), testInventory(), testSegments())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/batch/20260201/0108000000.avi",
		"/batch/20260201/0108000000.avi",
		"/batch/20260201/0108100000.avi",
	}, tc.concatInputs())

	require.Len(t, res.Stats.Excluded, 1)
	assert.Equal(t, "0108050000.avi", res.Stats.Excluded[0].ClipID)
	assert.Contains(t, res.Stats.Excluded[0].Reason, "exit status 1")

	entries := res.Timeline.Entries
	require.Len(t, entries, 4)
	assert.True(t, entries[2].Excluded)
	assert.Equal(t, 3, res.Timeline.Included())

	// the failed clip occupies no reel time
	assert.InDelta(t, 4.5, entries[3].ReelStart, 1e-9)
	_, ok := res.Timeline.Map("0108050000.avi", 5)
	assert.False(t, ok)
}

func TestAssembleUsesProbedPartDurations(t *testing.T) {
	tc := newFakeTranscoder()
	// the first part came out shorter than requested, as keyframe-aligned cuts do
	tc.probe = func(path string) (float64, error) {
		if filepath.Base(path) == "0000-00.mp4" {
			return 1.9, nil
		}
		return 0, fmt.Errorf("no duration for %s", path)
	}
	out := filepath.Join(t.TempDir(), "highlights.mp4")

	segs := []segments.Segment{
		{ClipID: "0108000000.avi", Start: 0, End: 2},
		{ClipID: "0109000000.avi", Start: 8, End: 10},
	}
	res, err := NewAssembler(tc, Options{Output: out, Workers: 1}).
		Assemble(context.Background(), testInventory(), segs)
	require.NoError(t, err)

	entries := res.Timeline.Entries
	require.Len(t, entries, 2)
	assert.InDelta(t, 1.9, entries[0].ReelEnd, 1e-9)
	assert.InDelta(t, 1.9, entries[1].ReelStart, 1e-9)
	assert.InDelta(t, 3.9, res.Stats.FinalDuration, 1e-9)

	assert.False(t, entries[0].ToClipEnd)
	assert.True(t, entries[1].ToClipEnd)

	reel, ok := res.Timeline.Map("0108000000.avi", 1.95)
	require.True(t, ok)
	assert.InDelta(t, 1.9, reel, 1e-9, "offsets past a short part clamp to its end")

	_, ok = res.Timeline.Map("0108000000.avi", 2)
	assert.False(t, ok, "segment end belongs to the next part")

	reel, ok = res.Timeline.Map("0109000000.avi", 10)
	require.True(t, ok)
	assert.InDelta(t, 3.9, reel, 1e-9)
}

func TestAssembleConcatFailureIsFatal(t *testing.T) {
	tc := newFakeTranscoder()
	tc.concatErr = fmt.Errorf("Non-monotonous DTS")
	out := filepath.Join(t.TempDir(), "highlights.mp4")

	res, err := NewAssembler(tc, Options{Output: out}).
		Assemble(context.Background(), testInventory(), testSegments())
	require.Error(t, err)
	assert.Nil(t, res)

	var concatErr *errors.ConcatenationError
	require.ErrorAs(t, err, &concatErr)
	assert.Equal(t, 4, concatErr.Parts)
	assert.ErrorIs(t, err, errors.ErrConcatenation)
	assert.NoFileExists(t, out)
}

func TestAssembleAllClipsFailed(t *testing.T) {
	tc := newFakeTranscoder()
	for _, c := range testInventory().Clips {
		tc.fail[c.Path] = true
	}

	_, err := NewAssembler(tc, Options{Output: filepath.Join(t.TempDir(), "h.mp4")}).
		Assemble(context.Background(), testInventory(), testSegments())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConcatenation)
	assert.Empty(t, tc.concatInputs())
}

func TestAssembleNoSegments(t *testing.T) {
	tc := newFakeTranscoder()
	_, err := NewAssembler(tc, Options{Output: filepath.Join(t.TempDir(), "h.mp4")}).
		Assemble(context.Background(), testInventory(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActivity)
}

func TestAssembleCancelled(t *testing.T) {
	tc := newFakeTranscoder()
	out := filepath.Join(t.TempDir(), "h.mp4")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAssembler(tc, Options{Output: out, Workers: 2}).Assemble(ctx, testInventory(), testSegments())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	assert.Empty(t, tc.concatInputs())
	assert.NoFileExists(t, out)
}
