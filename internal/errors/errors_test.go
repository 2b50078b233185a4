package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Err.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

type captureReporter struct{ got []*EnhancedError }

func (c *captureReporter) IsEnabled() bool { return true }

func (c *captureReporter) ReportError(ee *EnhancedError) {
	if ee.MarkReported() {
		return
	}
	c.got = append(c.got, ee)
}

func TestBuildReportsOnce(t *testing.T) {
	rep := &captureReporter{}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("upload failed").Category(CategoryStorage).Timing("put_object", 1500*time.Millisecond).Build()
	rep.ReportError(ee)

	require.Len(t, rep.got, 1)
	assert.Equal(t, CategoryStorage, rep.got[0].Category)
	assert.Equal(t, int64(1500), rep.got[0].GetContext()["duration_ms"])
	assert.Equal(t, ComponentUnknown, rep.got[0].GetComponent())
}

func TestBuilderKeepsContext(t *testing.T) {
	t.Parallel()

	ee := Newf("probe %s", "clip.avi").
		Component("ffmpeg").
		Category(CategoryCommandExecution).
		Context("operation", "probe_duration").
		Build()

	assert.Equal(t, "ffmpeg", ee.GetComponent())
	assert.True(t, IsCategory(ee, CategoryCommandExecution))
	assert.Equal(t, "probe_duration", ee.GetContext()["operation"])
}

func TestCategoryDetectedFromTypedError(t *testing.T) {
	t.Parallel()

	ee := New(&IndexConflictError{Key: "latest.json", Expected: 3, Found: 4}).Build()
	assert.Equal(t, CategoryConflict, ee.Category)
}

func TestPipelineErrorsUnwrapToSentinels(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("exit status 1")

	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"malformed", &MalformedEventError{Source: "audio-species", ClipID: "x", Reason: "unknown clip"}, ErrMalformedEvent},
		{"extraction", &ClipExtractionError{ClipID: "c1", Err: cause}, ErrClipExtraction},
		{"concat", &ConcatenationError{Output: "reel.mp4", Parts: 3, Err: cause}, ErrConcatenation},
		{"upload", &UploadError{Key: "k", Attempts: 3, Err: cause}, ErrUpload},
		{"index", &IndexConflictError{Key: "latest.json"}, ErrIndexConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := New(tt.err).Component("test").Build()
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}

	var extractErr *ClipExtractionError
	wrapped := fmt.Errorf("assemble: %w", &ClipExtractionError{ClipID: "c9", Err: cause})
	require.True(t, As(wrapped, &extractErr))
	assert.Equal(t, "c9", extractErr.ClipID)
	assert.ErrorIs(t, wrapped, cause)
}

func TestBasicURLScrub(t *testing.T) {
	t.Parallel()

	scrubbed := basicURLScrub("PUT https://acct.r2.cloudflarestorage.com/bucket?X-Amz-Signature=abc failed")
	assert.NotContains(t, scrubbed, "X-Amz-Signature")
	assert.NotContains(t, scrubbed, "acct")
	assert.Contains(t, scrubbed, "PUT https://domain-com-")
	assert.Contains(t, scrubbed, " failed")

	scrubbed = basicURLScrub("config secret_access_key=deadbeef rejected")
	assert.NotContains(t, scrubbed, "deadbeef")
}
