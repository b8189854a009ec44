// Package store provides the hub's persistence layer: an abstract
// key-value contract plus the typed collections the orchestration core
// reads and writes. No storage engine is mandated; values only need to
// be JSON-serializable.
package store

import "context"

// KV is the abstract key-value contract every collection is built on.
// Implementations must treat values as opaque JSON documents.
type KV interface {
	// Get decodes the value for key into out and reports whether it existed.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value any) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Keys returns all stored keys in unspecified order.
	Keys(ctx context.Context) ([]string, error)
}
