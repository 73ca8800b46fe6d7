// Package store provides the shared durable store: a flat, path-addressed
// blob store with last-writer-wins semantics and no transactions. Readers
// must treat every read as a best-effort snapshot.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a path with no blob.
var ErrNotFound = errors.New("store: not found")

// Blob is the durable store interface. Paths are slash-separated keys such
// as "rooms/ABC234/meta/now.json".
type Blob interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error

	// List returns all paths with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
