// Package storage provides the object store used to publish batches, with
// backends for S3-compatible services, a local or mounted directory, SFTP
// and FTP.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// ErrNotFound is returned by Get and Stat when the key does not exist.
var ErrNotFound = errors.NewStd("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key      string
	Size     int64
	ETag     string // content MD5 in hex when known; multipart uploads contain "-"
	Modified time.Time
}

// ObjectStore is a key-based object store. Keys use forward slashes.
type ObjectStore interface {
	// Name identifies the backend in logs.
	Name() string
	// Put writes body under key, replacing any existing object. The body
	// is rewound before each attempt when the store retries.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Rename moves an object, replacing the destination.
	Rename(ctx context.Context, from, to string) error
	Close() error
}

// Open builds the configured backend and wraps it with rate limiting and
// the retry policy.
func Open(ctx context.Context, s *conf.StorageSettings, retry conf.RetrySettings, attemptTimeout time.Duration) (ObjectStore, error) {
	var (
		store ObjectStore
		err   error
	)

	switch s.Backend {
	case conf.BackendS3:
		store, err = NewS3Store(&s.S3, nil)
	case conf.BackendLocal:
		store, err = NewLocalStore(afero.NewOsFs(), s.Local.Path)
	case conf.BackendSFTP:
		store, err = NewSFTPStore(ctx, &s.SFTP)
	case conf.BackendFTP:
		store, err = NewFTPStore(ctx, &s.FTP)
	default:
		return nil, errors.Newf("unknown storage backend %q", s.Backend).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	if s.RateLimit > 0 {
		store = WithRateLimit(store, s.RateLimit, s.RateBurst)
	}
	policy := PolicyFromSettings(&retry)
	policy.AttemptTimeout = attemptTimeout
	store = WithRetry(store, policy)

	GetLogger().Debug("Opened object store",
		logger.String("backend", store.Name()),
		logger.Float64("rate_limit", s.RateLimit))
	return store, nil
}

// validKey rejects empty keys and keys that escape the store root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." {
		return errors.Newf("invalid object key %q", key).
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// notFound wraps ErrNotFound with the key.
func notFound(backend, key string) error {
	return errors.New(ErrNotFound).
		Category(errors.CategoryNotFound).
		Context("backend", backend).
		Context("key", key).
		Build()
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// readAllContext reads r, honouring ctx between chunks.
func readAllContext(ctx context.Context, r io.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
