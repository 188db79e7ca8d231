package core

import (
	"context"
	"time"
)

// KVStore defines the interface for key-value store operations.
// Implementations back the KV row store and the event queues.
type KVStore interface {
	// Get retrieves a value by key from the store.
	// Returns an error wrapping ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair with an optional TTL.
	// If ttl is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the store.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in the store.
	Exists(ctx context.Context, key string) (bool, error)

	// BatchSet stores multiple key-value pairs with a shared TTL.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Keys lists the keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Incr atomically increments the integer stored at key and returns the
	// new value. A missing key starts at zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Close closes the connection to the KV store and releases resources.
	Close() error
}
