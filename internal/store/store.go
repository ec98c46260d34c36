// Package store provides the persistent parameter store: a small namespaced
// key/value table holding blobs that must survive restarts, such as the
// ephemeris cache snapshot.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that have never been written.
var ErrNotFound = errors.New("param not found")

// Store is a durable key/value parameter store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// PutAsync stores value under key from a background goroutine,
	// logging failures instead of returning them. Used on hot paths that
	// must not block on disk.
	PutAsync(key string, value []byte)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
