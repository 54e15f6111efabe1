// Package receipts turns receipt URLs into durable evidence documents:
// fetch, HTML normalization, PDF conversion and blob storage.
package receipts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// AssetStore persists receipt documents and deletes them again when a
// payout rolls back.
type AssetStore interface {
	// Put stores data under objectName and returns a stable URL.
	Put(ctx context.Context, objectName, contentType string, data []byte) (string, error)

	// Delete removes a previously stored object.
	Delete(ctx context.Context, objectName string) error
}

// GCSStore is the Cloud Storage implementation of AssetStore.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store over one bucket. It assumes Application
// Default Credentials are configured.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("receipts: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put implements AssetStore.
func (s *GCSStore) Put(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("receipts: writing object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("receipts: finalizing object %s: %w", objectName, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectName), nil
}

// Delete implements AssetStore.
func (s *GCSStore) Delete(ctx context.Context, objectName string) error {
	if err := s.client.Bucket(s.bucket).Object(objectName).Delete(ctx); err != nil {
		return fmt.Errorf("receipts: deleting object %s: %w", objectName, err)
	}
	return nil
}
