// Package checkpoint defines the key-value store boundary the execution
// engine persists its resumable state through: per-node output caches,
// pause/failure checkpoints, graph snapshots for later diffing, and staged
// manual input. Values are opaque JSON so any external store (Redis, etcd,
// a database table) can implement the interface.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is a minimal key-value store with prefix scans. Implementations
// must be safe for concurrent use; last-writer-wins semantics per key are
// sufficient because exactly one execution drives one privacy request at a
// time.
type Store interface {
	// Set writes a value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reads the value under key; the bool reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetByPrefix returns every live key-value pair whose key starts with
	// prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding checkpoint value for %q: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// GetJSON reads key and unmarshals it into out. The bool reports presence.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decoding checkpoint value for %q: %w", key, err)
	}
	return true, nil
}
