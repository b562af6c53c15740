package store

import (
	"context"
)

// ObjectStore is the flat key-value substrate everything above is built on.
// It offers exactly four primitives: no compare-and-swap, no transactions.
// Consistency (leases, load-test-and-set) is layered on top of these.
type ObjectStore interface {
	// Get returns the value at key, or ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value at key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all keys beginning with prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
}
