// Package storage keeps uploaded file bytes in an object store.
//
// Two Bucket backends exist: a local directory and Google Cloud Storage.
// The upload Service in front of them validates, hashes and records each
// file; the bucket only ever sees opaque keys of the form
// <user_id>/<yyyy>/<mm>/<file_id><ext>.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"juris/internal/config"
	"juris/internal/types"
)

// Bucket is an object store addressed by slash-separated keys.
type Bucket interface {
	// Put stores size bytes from r under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens the object. Missing objects return types.ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Name identifies the backend, e.g. "local" or "gcs".
	Name() string
}

// NewBucket opens the backend named by cfg.Backend.
func NewBucket(ctx context.Context, cfg config.StorageConfig) (Bucket, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalBucket(cfg.LocalDir)
	case "gcs":
		return NewGCSBucket(ctx, cfg.GCSBucket, cfg.GCSCredentials)
	default:
		return nil, fmt.Errorf("unknown storage backend %q: %w", cfg.Backend, types.ErrInvalid)
	}
}

// cleanKey rejects keys that are empty, absolute, or escape the bucket root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) || strings.Contains(key, `\`) {
		return "", fmt.Errorf("invalid object key %q: %w", key, types.ErrInvalid)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("absolute object key %q: %w", key, types.ErrInvalid)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned != key {
		return "", fmt.Errorf("object key %q escapes the bucket: %w", key, types.ErrInvalid)
	}
	return cleaned, nil
}
