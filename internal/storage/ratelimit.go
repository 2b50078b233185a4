package storage

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/rssrn/birdbird/internal/errors"
)

// rateLimitedStore paces requests to the wrapped store.
type rateLimitedStore struct {
	ObjectStore
	limiter *rate.Limiter
}

// WithRateLimit wraps store so that at most perSecond requests are issued
// per second, with the given burst.
func WithRateLimit(store ObjectStore, perSecond float64, burst int) ObjectStore {
	return &rateLimitedStore{
		ObjectStore: store,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), max(burst, 1)),
	}
}

func (s *rateLimitedStore) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.New(err).
			Category(errors.CategoryLimit).
			Context("backend", s.Name()).
			Build()
	}
	return nil
}

func (s *rateLimitedStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.ObjectStore.Put(ctx, key, body, size, contentType)
}

func (s *rateLimitedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.ObjectStore.Get(ctx, key)
}

func (s *rateLimitedStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := s.wait(ctx); err != nil {
		return ObjectInfo{}, err
	}
	return s.ObjectStore.Stat(ctx, key)
}

func (s *rateLimitedStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.ObjectStore.List(ctx, prefix)
}

func (s *rateLimitedStore) Delete(ctx context.Context, key string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.ObjectStore.Delete(ctx, key)
}

func (s *rateLimitedStore) Rename(ctx context.Context, from, to string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.ObjectStore.Rename(ctx, from, to)
}
