package storage

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
)

// S3Store talks to an S3-compatible service such as Cloudflare R2, MinIO or AWS.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates a client for the configured endpoint. transport may be
// nil to use the default HTTP transport.
func NewS3Store(s *conf.S3Settings, transport http.RoundTripper) (*S3Store, error) {
	if s.Bucket == "" {
		return nil, errors.Newf("s3: bucket is required").
			Category(errors.CategoryConfiguration).
			Build()
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "https://"), "http://")
	lookup := minio.BucketLookupAuto
	if s.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(s.AccessKeyID, s.SecretAccessKey, ""),
		Secure:       s.UseSSL,
		Region:       s.Region,
		BucketLookup: lookup,
		Transport:    transport,
	})
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("endpoint", endpoint).
			Build()
	}
	return &S3Store{client: client, bucket: s.Bucket}, nil
}

// Name returns the backend name
func (s *S3Store) Name() string { return "s3" }

// Close is a no-op; the HTTP client needs no teardown
func (s *S3Store) Close() error { return nil }

func (s *S3Store) wrap(err error, op, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket" {
		return notFound(s.Name(), key)
	}
	return errors.New(err).
		Category(errors.CategoryStorage).
		Context("operation", op).
		Context("bucket", s.bucket).
		Context("key", key).
		Build()
}

// Put uploads body in a single request, or as a multipart upload for large bodies.
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return s.wrap(err, "put", key)
	}
	return nil
}

// Get downloads the whole object.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(err, "get", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap(err, "get", key)
	}
	return data, nil
}

// Stat returns object metadata. The ETag has its quotes stripped.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, s.wrap(err, "stat", key)
	}
	return ObjectInfo{
		Key:      key,
		Size:     info.Size,
		ETag:     strings.Trim(info.ETag, `"`),
		Modified: info.LastModified,
	}, nil
}

// List returns all objects under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, s.wrap(obj.Err, "list", prefix)
		}
		out = append(out, ObjectInfo{
			Key:      obj.Key,
			Size:     obj.Size,
			ETag:     strings.Trim(obj.ETag, `"`),
			Modified: obj.LastModified,
		})
	}
	return out, nil
}

// Delete removes the object. S3 treats missing keys as success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.wrap(err, "delete", key)
	}
	return nil
}

// Rename copies the object server-side and removes the source. Readers see
// either the old or the new destination object, never a partial one.
func (s *S3Store) Rename(ctx context.Context, from, to string) error {
	if err := validKey(to); err != nil {
		return err
	}
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from})
	if err != nil {
		return s.wrap(err, "copy", from)
	}
	return s.Delete(ctx, from)
}
