package storage

import (
	"context"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// transientErrorPatterns contains substrings that indicate a retriable error
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
	"421 ", // FTP: service not available
	"425 ", // FTP: can't open data connection
	"426 ", // FTP: connection closed, transfer aborted
}

// retryable S3 error codes
var transientS3Codes = map[string]bool{
	"RequestTimeout":       true,
	"RequestTimeTooSkewed": true,
	"SlowDown":             true,
	"InternalError":        true,
	"ServiceUnavailable":   true,
	"Throttling":           true,
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var s3Err minio.ErrorResponse
	if errors.As(err, &s3Err) {
		if transientS3Codes[s3Err.Code] {
			return true
		}
		if s3Err.StatusCode == 429 || s3Err.StatusCode >= 500 {
			return true
		}
		if s3Err.StatusCode >= 400 {
			return false
		}
	}

	errStr := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// RetryPolicy is the single retry policy applied to every storage operation.
type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         float64       // fraction of each delay randomized, 0..1
	AttemptTimeout time.Duration // per attempt, 0 means none
	Retryable      func(error) bool

	sleep func(ctx context.Context, d time.Duration) error
}

// PolicyFromSettings builds a retry policy from configuration.
func PolicyFromSettings(s *conf.RetrySettings) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  s.MaxAttempts,
		InitialDelay: s.InitialDelay,
		MaxDelay:     s.MaxDelay,
		Multiplier:   s.Multiplier,
		Jitter:       0.2,
		Retryable:    IsTransientError,
	}
}

// Delay returns the backoff before retry number attempt (1-based), without jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for range attempt - 1 {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. Exhaustion yields an *errors.UploadError.
func (p RetryPolicy) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransientError
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Category(errors.CategoryCancellation).
				Context("key", key).
				Build()
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		// the caller gave up; a per-attempt deadline is ours and retryable
		if ctx.Err() != nil {
			return errors.New(lastErr).
				Category(errors.CategoryCancellation).
				Context("key", key).
				Build()
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.jittered(p.Delay(attempt))
		GetLogger().Warn("Storage operation failed, retrying",
			logger.String("key", key),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", attempts),
			logger.Duration("delay", delay),
			logger.Error(lastErr))
		if err := sleep(ctx, delay); err != nil {
			return errors.New(err).
				Category(errors.CategoryCancellation).
				Context("key", key).
				Build()
		}
	}

	return &errors.UploadError{Key: key, Attempts: attempts, Err: lastErr}
}

func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryStore applies a RetryPolicy to every operation of the wrapped store.
type retryStore struct {
	ObjectStore
	policy RetryPolicy
}

// WithRetry wraps store so every operation follows policy.
func WithRetry(store ObjectStore, policy RetryPolicy) ObjectStore {
	return &retryStore{ObjectStore: store, policy: policy}
}

func (s *retryStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	return s.policy.Do(ctx, key, func(ctx context.Context) error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return errors.New(err).Category(errors.CategoryFileIO).Context("key", key).Build()
		}
		return s.ObjectStore.Put(ctx, key, body, size, contentType)
	})
}

func (s *retryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.policy.Do(ctx, key, func(ctx context.Context) error {
		var err error
		data, err = s.ObjectStore.Get(ctx, key)
		return err
	})
	return data, err
}

func (s *retryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := s.policy.Do(ctx, key, func(ctx context.Context) error {
		var err error
		info, err = s.ObjectStore.Stat(ctx, key)
		return err
	})
	return info, err
}

func (s *retryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	err := s.policy.Do(ctx, prefix, func(ctx context.Context) error {
		var err error
		infos, err = s.ObjectStore.List(ctx, prefix)
		return err
	})
	return infos, err
}

func (s *retryStore) Delete(ctx context.Context, key string) error {
	return s.policy.Do(ctx, key, func(ctx context.Context) error {
		return s.ObjectStore.Delete(ctx, key)
	})
}

func (s *retryStore) Rename(ctx context.Context, from, to string) error {
	return s.policy.Do(ctx, to, func(ctx context.Context) error {
		return s.ObjectStore.Rename(ctx, from, to)
	})
}
