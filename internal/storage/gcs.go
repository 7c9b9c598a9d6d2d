package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"juris/internal/logging"
	"juris/internal/types"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSBucket stores objects in a Google Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	bucket string
}

// NewGCSBucket connects to bucket. An empty credentials path uses
// application default credentials.
func NewGCSBucket(ctx context.Context, bucket, credentials string, opts ...option.ClientOption) (*GCSBucket, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required: %w", types.ErrInvalid)
	}
	if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	logging.Storage("GCS bucket gs://%s", bucket)
	return &GCSBucket{client: client, bucket: bucket}, nil
}

func (b *GCSBucket) object(key string) (*storage.ObjectHandle, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return b.client.Bucket(b.bucket).Object(k), nil
}

// Put uploads r. The object only becomes visible when the writer closes
// successfully; a cancelled ctx aborts the upload.
func (b *GCSBucket) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	obj, err := b.object(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if size >= 0 && size < int64(w.ChunkSize) {
		// Small objects go up in a single request.
		w.ChunkSize = 0
	}
	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", b.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", b.bucket, key, err)
	}
	logging.StorageDebug("Uploaded gs://%s/%s (%d bytes)", b.bucket, key, n)
	return nil
}

// Get opens a reader on the object.
func (b *GCSBucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.object(key)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", b.bucket, key, err)
	}
	return r, nil
}

// Delete removes the object.
func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	obj, err := b.object(key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

// Name implements Bucket.
func (b *GCSBucket) Name() string { return "gcs" }

// Close releases the client.
func (b *GCSBucket) Close() error { return b.client.Close() }
