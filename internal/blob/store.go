// Package blob wraps the S3-compatible object store that holds uploaded files.
package blob

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Store is the subset of object storage operations the upload flow needs.
type Store interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
	// Stat returns ErrNotFound when no object exists under key.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}
