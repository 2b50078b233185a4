package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		ok   bool
		date string
		seq  int
	}{
		{"20260201-01", true, "20260201", 1},
		{"20260201_03", true, "20260201", 3},
		{"20260201-120", true, "20260201", 120},
		{"20260201-00", false, "", 0},
		{"20261301-01", false, "", 0},
		{"2026021-01", false, "", 0},
		{"20260201", false, "", 0},
		{"latest.json", false, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			id, ok := ParseBatchID(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.date, id.Date)
				assert.Equal(t, tt.seq, id.Seq)
				assert.Equal(t, tt.in, id.String(), "raw form is preserved")
			}
		})
	}
}

func TestNewBatchID(t *testing.T) {
	t.Parallel()

	id := NewBatchID(time.Date(2026, 2, 1, 23, 59, 0, 0, time.UTC), 1)
	assert.Equal(t, "20260201-01", id.String())
	assert.Equal(t, "20260201-12", NewBatchID(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), 12).String())
}

func TestBatchIDsFromKeys(t *testing.T) {
	t.Parallel()

	keys := []string{
		"batches/20260130-01/highlights.mp4",
		"batches/20260130-01/metadata.json",
		"batches/20260201_01/metadata.json",
		"batches/20260201-02/windows.json",
		"batches/notes.txt",
		"batches/scratch/file",
		"other/20260301-01/metadata.json",
	}

	ids := batchIDsFromKeys("batches", keys)
	got := make([]string, 0, len(ids))
	for _, id := range ids {
		got = append(got, id.String())
	}
	assert.Equal(t, []string{"20260201-02", "20260201_01", "20260130-01"}, got)

	same := sameDate(ids, "20260201")
	require.Len(t, same, 2)
	assert.Equal(t, 2, same[0].Seq)
}
