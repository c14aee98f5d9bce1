// Package storage wraps the S3-compatible bucket that holds pending uploads and
// archived restorations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"photorestore/internal/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PutOptions are the object headers written with an upload.
type PutOptions struct {
	ContentType        string
	ContentDisposition string
}

// ObjectStore is the subset of bucket operations the service needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// PublicURL is the durable, unsigned URL for key.
	PublicURL(key string) string
}

// New builds the store selected by STORAGE_DRIVER.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverS3:
		return NewS3Store(ctx, cfg)
	case config.StorageDriverMinio:
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// virtualHostURL formats https://<bucket>.<host>/<key>, or base/<key> when a
// public base URL (CDN, custom domain) is configured.
func virtualHostURL(publicBase, bucket, host, key string) string {
	key = strings.TrimLeft(key, "/")
	if publicBase != "" {
		return strings.TrimRight(publicBase, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.%s/%s", bucket, strings.Trim(host, "/"), key)
}
