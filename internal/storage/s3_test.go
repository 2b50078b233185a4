package storage

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rssrn/birdbird/internal/conf"
)

const (
	testEndpoint = "http://s3.test.local"
	testBucket   = "birdbird"
	lastModified = "Sun, 01 Feb 2026 08:00:00 GMT"
)

func newMockS3(t *testing.T) (*S3Store, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	store, err := NewS3Store(&conf.S3Settings{
		Endpoint:        testEndpoint,
		Region:          "auto",
		Bucket:          testBucket,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PathStyle:       true,
	}, mock)
	require.NoError(t, err)
	return store, mock
}

func objectURL(key string) string {
	return testEndpoint + "/" + testBucket + "/" + key
}

func objectHeaders(resp *http.Response, etag string, size string) *http.Response {
	resp.Header.Set("ETag", `"`+etag+`"`)
	resp.Header.Set("Content-Length", size)
	resp.Header.Set("Last-Modified", lastModified)
	resp.Header.Set("Content-Type", "application/json")
	return resp
}

func TestS3StoreRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewS3Store(&conf.S3Settings{Endpoint: "s3.test.local"}, nil)
	require.Error(t, err)
}

func TestS3StoreStat(t *testing.T) {
	t.Parallel()
	store, mock := newMockS3(t)

	mock.RegisterResponder(http.MethodHead, objectURL("batches/20260201-01/highlights.mp4"),
		func(*http.Request) (*http.Response, error) {
			return objectHeaders(httpmock.NewStringResponse(http.StatusOK, ""), "9e107d9d372bb6826bd81d3542a419d6", "1048576"), nil
		})

	info, err := store.Stat(context.Background(), "batches/20260201-01/highlights.mp4")
	require.NoError(t, err)
	assert.Equal(t, "9e107d9d372bb6826bd81d3542a419d6", info.ETag)
	assert.EqualValues(t, 1048576, info.Size)
	assert.Equal(t, 2026, info.Modified.Year())
}

func TestS3StoreStatNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockS3(t)

	mock.RegisterResponder(http.MethodHead, objectURL("latest.json"),
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	_, err := store.Stat(context.Background(), "latest.json")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransientError(err))
}

func TestS3StoreGet(t *testing.T) {
	t.Parallel()
	store, mock := newMockS3(t)

	body := `{"version":3,"latest":"20260201-01","batches":[]}`
	mock.RegisterResponder(http.MethodGet, objectURL("latest.json"),
		func(*http.Request) (*http.Response, error) {
			return objectHeaders(httpmock.NewStringResponse(http.StatusOK, body), "abc", "49"), nil
		})

	data, err := store.Get(context.Background(), "latest.json")
	require.NoError(t, err)
	assert.JSONEq(t, body, string(data))
}

func TestS3StorePut(t *testing.T) {
	t.Parallel()
	store, mock := newMockS3(t)

	var gotType string
	mock.RegisterResponder(http.MethodPut, objectURL("batches/20260201-01/windows.json"),
		func(req *http.Request) (*http.Response, error) {
			gotType = req.Header.Get("Content-Type")
			resp := httpmock.NewStringResponse(http.StatusOK, "")
			resp.Header.Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			return resp, nil
		})

	payload := []byte(`{"species":[]}`)
	err := store.Put(context.Background(), "batches/20260201-01/windows.json",
		bytes.NewReader(payload), int64(len(payload)), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}
