// Package store provides durable object storage with atomic
// create-if-absent semantics. Create-if-absent is the synchronization
// primitive the idempotent event path depends on: exactly one of any
// number of concurrent writers for a key observes created=true.
package store

import (
	"context"
	"errors"
)

// ErrNotFound reports a missing object key.
var ErrNotFound = errors.New("store: object not found")

// ObjectStore is the persistence contract for results, idempotency
// markers, and remote profile bundles.
type ObjectStore interface {
	// Get returns the object's bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object unconditionally.
	Put(ctx context.Context, key string, data []byte) error

	// CreateIfAbsent writes the object only if the key does not exist.
	// Returns created=false without error when the key already exists.
	CreateIfAbsent(ctx context.Context, key string, data []byte) (bool, error)

	// List returns keys under the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
