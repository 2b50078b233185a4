package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rssrn/birdbird/internal/errors"
)

func noSleepPolicy(attempts int, slept *[]time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Retryable:    IsTransientError,
		sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, time.Second, p.Delay(12))
}

func TestRetryJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{Jitter: 0.2}
	for range 100 {
		d := p.jittered(time.Second)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	calls := 0
	err := noSleepPolicy(4, &slept).Do(context.Background(), "k", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("read tcp: connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, slept)
}

func TestRetryExhaustionIsUploadError(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	err := noSleepPolicy(3, &slept).Do(context.Background(), "batches/x/highlights.mp4", func(context.Context) error {
		return fmt.Errorf("i/o timeout")
	})
	require.Error(t, err)

	var uploadErr *errors.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, 3, uploadErr.Attempts)
	assert.Equal(t, "batches/x/highlights.mp4", uploadErr.Key)
	assert.ErrorIs(t, err, errors.ErrUpload)
	assert.Len(t, slept, 2)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	calls := 0
	err := noSleepPolicy(5, &slept).Do(context.Background(), "k", func(context.Context) error {
		calls++
		return minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, slept)
}

func TestRetryHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var slept []time.Duration
	calls := 0
	err := noSleepPolicy(5, &slept).Do(ctx, "k", func(context.Context) error {
		calls++
		cancel()
		return fmt.Errorf("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestRetryAttemptTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	p := noSleepPolicy(2, &slept)
	p.AttemptTimeout = 10 * time.Millisecond

	calls := 0
	err := p.Do(context.Background(), "k", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset", fmt.Errorf("connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"not found", notFound("s3", "k"), false},
		{"s3 slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: 503}, true},
		{"s3 server error", minio.ErrorResponse{Code: "Whatever", StatusCode: 502}, true},
		{"s3 forbidden", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, false},
		{"ftp data connection", fmt.Errorf("425 Can't open data connection"), true},
		{"other", fmt.Errorf("permission denied"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

// flakyStore fails the first n Puts with a transient error.
type flakyStore struct {
	ObjectStore
	failures int
	puts     int
}

func (f *flakyStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	f.puts++
	if f.puts <= f.failures {
		// consume part of the body to prove it is rewound
		_, _ = io.CopyN(io.Discard, body, 3)
		return fmt.Errorf("broken pipe")
	}
	return f.ObjectStore.Put(ctx, key, body, size, contentType)
}

func TestWithRetryRewindsBody(t *testing.T) {
	t.Parallel()

	local, err := NewLocalStore(afero.NewMemMapFs(), "/bucket")
	require.NoError(t, err)
	flaky := &flakyStore{ObjectStore: local, failures: 2}

	var slept []time.Duration
	store := WithRetry(flaky, noSleepPolicy(3, &slept))

	payload := []byte("highlights")
	require.NoError(t, store.Put(context.Background(), "a/b.mp4", bytes.NewReader(payload), int64(len(payload)), "video/mp4"))
	assert.Equal(t, 3, flaky.puts)

	got, err := store.Get(context.Background(), "a/b.mp4")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWithRateLimitPassesThrough(t *testing.T) {
	t.Parallel()

	local, err := NewLocalStore(afero.NewMemMapFs(), "/bucket")
	require.NoError(t, err)
	store := WithRateLimit(local, 1000, 5)

	require.NoError(t, store.Put(context.Background(), "k.json", bytes.NewReader([]byte("{}")), 2, "application/json"))
	info, err := store.Stat(context.Background(), "k.json")
	require.NoError(t, err)
	assert.EqualValues(t, 2, info.Size)
	assert.Equal(t, "local", store.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Get(ctx, "k.json")
	require.Error(t, err)
}
