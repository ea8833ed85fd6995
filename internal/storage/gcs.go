package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"
)

// GCS implements BlobStore on a Google Cloud Storage bucket
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	logger *slog.Logger
	now    func() time.Time
}

// NewGCS creates a client using application default credentials
func NewGCS(ctx context.Context, bucket string, logger *slog.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCS{
		client: client,
		bucket: client.Bucket(bucket),
		logger: logger.With("component", "storage", "backend", "gcs", "bucket", bucket),
		now:    time.Now,
	}, nil
}

// Close releases the underlying client
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Put(ctx context.Context, namespace, filename string, data []byte, contentType string) (string, error) {
	key := ObjectKey(namespace, filename, g.now())

	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		"namespace":  namespace,
		"uploadedAt": g.now().UTC().Format(time.RFC3339),
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	g.logger.Info("stored object", "key", key, "size", len(data))
	return key, nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return data, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if err := g.bucket.Object(key).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	g.logger.Info("deleted object", "key", key)
	return nil
}
