// Package storage provides the blob storage boundary for pipeline inputs
// and artifacts. Supported backends: local filesystem and Amazon S3 (and
// S3-compatible services).
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Storage defines the interface for object storage operations.
type Storage interface {
	// Upload writes data from reader to the given path.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download returns a reader for the object at the given path.
	// The caller is responsible for closing the returned ReadCloser.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at the given path.
	// Returns nil if the object does not exist.
	Delete(ctx context.Context, path string) error

	// Exists checks whether an object exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobClient addresses objects by opaque URI of the form scheme://path,
// which is how job records reference their inputs and artifacts.
type BlobClient struct {
	backend Storage
	scheme  string
}

// NewBlobClient wraps a storage backend. scheme becomes the URI prefix for
// blobs written through this client (e.g. "blob").
func NewBlobClient(backend Storage, scheme string) *BlobClient {
	if scheme == "" {
		scheme = "blob"
	}
	return &BlobClient{backend: backend, scheme: scheme}
}

// PutBlob writes content at path and returns the blob's URI.
func (c *BlobClient) PutBlob(ctx context.Context, path string, content []byte) (string, error) {
	if err := c.backend.Upload(ctx, path, strings.NewReader(string(content))); err != nil {
		return "", err
	}
	return c.scheme + "://" + path, nil
}

// GetBlob reads the full content of the blob at uri.
func (c *BlobClient) GetBlob(ctx context.Context, uri string) ([]byte, error) {
	path, err := c.pathOf(uri)
	if err != nil {
		return nil, err
	}
	r, err := c.backend.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// DeleteBlob removes the blob at uri. Missing blobs are not an error.
func (c *BlobClient) DeleteBlob(ctx context.Context, uri string) error {
	path, err := c.pathOf(uri)
	if err != nil {
		return err
	}
	return c.backend.Delete(ctx, path)
}

// StatBlob reports whether the blob at uri exists. The transcribe stage
// uses it to reject jobs whose source reference has gone missing before
// paying for a provider call.
func (c *BlobClient) StatBlob(ctx context.Context, uri string) (bool, error) {
	path, err := c.pathOf(uri)
	if err != nil {
		return false, err
	}
	return c.backend.Exists(ctx, path)
}

func (c *BlobClient) pathOf(uri string) (string, error) {
	prefix := c.scheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("storage: URI %q does not match scheme %q", uri, c.scheme)
	}
	return strings.TrimPrefix(uri, prefix), nil
}
