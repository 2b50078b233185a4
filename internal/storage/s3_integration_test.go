//go:build integration

package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/rssrn/birdbird/internal/conf"
)

func TestS3StoreAgainstMinio(t *testing.T) {
	ctx := context.Background()

	container, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		tcminio.WithUsername("birdbird"),
		tcminio.WithPassword("birdbird-secret"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	admin, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(container.Username, container.Password, ""),
	})
	require.NoError(t, err)
	require.NoError(t, admin.MakeBucket(ctx, "birdbird", minio.MakeBucketOptions{}))

	store, err := NewS3Store(&conf.S3Settings{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		Bucket:          "birdbird",
		AccessKeyID:     container.Username,
		SecretAccessKey: container.Password,
		PathStyle:       true,
	}, nil)
	require.NoError(t, err)

	payload := []byte("not really a video")
	require.NoError(t, store.Put(ctx, "batches/20260201-01/highlights.mp4", bytes.NewReader(payload), int64(len(payload)), "video/mp4"))

	info, err := store.Stat(ctx, "batches/20260201-01/highlights.mp4")
	require.NoError(t, err)
	sum := md5.Sum(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.ETag)

	objects, err := store.List(ctx, "batches/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	require.NoError(t, store.Put(ctx, "latest.json.tmp-1", bytes.NewReader([]byte(`{"version":1}`)), 13, "application/json"))
	require.NoError(t, store.Rename(ctx, "latest.json.tmp-1", "latest.json"))
	data, err := store.Get(ctx, "latest.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1}`, string(data))

	_, err = store.Stat(ctx, "latest.json.tmp-1")
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.Delete(ctx, "batches/20260201-01/highlights.mp4"))
	_, err = store.Get(ctx, "batches/20260201-01/highlights.mp4")
	assert.True(t, IsNotFound(err))
}
