package storage_test

import (
	"context"
	"testing"

	"github.com/skillsenselab/scribeflow/internal/storage"
	"github.com/skillsenselab/scribeflow/internal/storage/local"
)

func newBlobClient(t *testing.T) *storage.BlobClient {
	t.Helper()
	backend, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	return storage.NewBlobClient(backend, "blob")
}

func TestBlobClient_PutGetRoundTrip(t *testing.T) {
	c := newBlobClient(t)
	ctx := context.Background()

	uri, err := c.PutBlob(ctx, "artifacts/job-1/transcript.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if uri != "blob://artifacts/job-1/transcript.txt" {
		t.Errorf("unexpected uri: %s", uri)
	}

	content, err := c.GetBlob(ctx, uri)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(content) != "hello world" {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestBlobClient_DeleteIsIdempotent(t *testing.T) {
	c := newBlobClient(t)
	ctx := context.Background()

	uri, _ := c.PutBlob(ctx, "in/audio.mp3", []byte("bytes"))

	if err := c.DeleteBlob(ctx, uri); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting a missing blob is not an error; the pipeline's source
	// cleanup step relies on this.
	if err := c.DeleteBlob(ctx, uri); err != nil {
		t.Errorf("second delete: %v", err)
	}

	exists, _ := c.StatBlob(ctx, uri)
	if exists {
		t.Error("blob should be gone")
	}
}

func TestBlobClient_RejectsForeignScheme(t *testing.T) {
	c := newBlobClient(t)

	if _, err := c.GetBlob(context.Background(), "s3://bucket/key"); err == nil {
		t.Error("expected scheme mismatch error")
	}
}
