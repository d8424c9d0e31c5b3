package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *storage.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := newTestClient(t, http.NotFoundHandler())
	_, err = New(client, Config{})
	require.Error(t, err)

	_, _, err = Dial(context.Background(), Config{})
	require.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	const bucket = "review-archive"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", bucket))
		assert.Equal(t, "runs/1234_reviews.jsonl", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"cursor":"c1"}`)
		assert.Contains(t, string(body), "application/x-ndjson")
		fmt.Fprintln(w, `{"name":"runs/1234_reviews.jsonl","bucket":"review-archive"}`)
	})

	store, err := New(newTestClient(t, handler), Config{Bucket: bucket})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "runs/1234_reviews.jsonl", "application/x-ndjson", strings.NewReader(`{"cursor":"c1"}`+"\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://review-archive/runs/1234_reviews.jsonl", uri)
}

func TestPutObjectEmptyPath(t *testing.T) {
	t.Parallel()

	store, err := New(newTestClient(t, http.NotFoundHandler()), Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestDialChecksBucket(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":{"code":404,"message":"bucket not found"}}`)
	}))
	defer server.Close()

	_, _, err := Dial(context.Background(), Config{Bucket: "missing"}, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attributes")
}
