package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by backends that report missing objects.
var ErrObjectNotFound = errors.New("object not found")

// Backend is a bucket of objects without retry or URL policy.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// PublicURL is the permanent address of key when the bucket is
	// publicly readable.
	PublicURL(key string) string
}
