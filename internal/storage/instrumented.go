package storage

import (
	"context"
	"io"
	"time"

	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/observability/metrics"
)

// instrumentedStore records every operation on a metrics recorder.
type instrumentedStore struct {
	ObjectStore
	rec metrics.Recorder
}

// WithMetrics wraps store so each operation is counted and timed. Not-found
// results count as successes.
func WithMetrics(store ObjectStore, rec metrics.Recorder) ObjectStore {
	if rec == nil {
		return store
	}
	return &instrumentedStore{ObjectStore: store, rec: rec}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.rec.RecordDuration(op, time.Since(start).Seconds())
	if err != nil && !IsNotFound(err) {
		s.rec.RecordOperation(op, metrics.StatusError)
		s.rec.RecordError(op, string(errors.CategoryOf(err)))
		return
	}
	s.rec.RecordOperation(op, metrics.StatusSuccess)
}

func (s *instrumentedStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	start := time.Now()
	err := s.ObjectStore.Put(ctx, key, body, size, contentType)
	s.observe(metrics.OpPut, start, err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.ObjectStore.Get(ctx, key)
	s.observe(metrics.OpGet, start, err)
	return data, err
}

func (s *instrumentedStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	info, err := s.ObjectStore.Stat(ctx, key)
	s.observe(metrics.OpStat, start, err)
	return info, err
}

func (s *instrumentedStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	out, err := s.ObjectStore.List(ctx, prefix)
	s.observe(metrics.OpList, start, err)
	return out, err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.ObjectStore.Delete(ctx, key)
	s.observe(metrics.OpDelete, start, err)
	return err
}

func (s *instrumentedStore) Rename(ctx context.Context, from, to string) error {
	start := time.Now()
	err := s.ObjectStore.Rename(ctx, from, to)
	s.observe(metrics.OpRename, start, err)
	return err
}
