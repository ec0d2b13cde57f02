package checkpoint

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemory is an ephemeral, thread-safe Store implementation backed by
// sync.Map. It is created fresh per process and suits local runs and tests;
// distributed or crash-safe deployments substitute an external store behind
// the same interface.
type InMemory struct {
	entries sync.Map // key string -> entry
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewInMemory creates a new, empty in-memory checkpoint store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Set implements Store.
func (s *InMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries.Store(key, e)
	return nil
}

// Get implements Store.
func (s *InMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	e := v.(entry)
	if e.expired(time.Now()) {
		s.entries.Delete(key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// GetByPrefix implements Store.
func (s *InMemory) GetByPrefix(_ context.Context, prefix string) (map[string][]byte, error) {
	now := time.Now()
	out := make(map[string][]byte)
	s.entries.Range(func(k, v any) bool {
		key := k.(string)
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		e := v.(entry)
		if e.expired(now) {
			s.entries.Delete(k)
			return true
		}
		out[key] = append([]byte(nil), e.value...)
		return true
	})
	return out, nil
}

// Delete implements Store.
func (s *InMemory) Delete(_ context.Context, key string) error {
	s.entries.Delete(key)
	return nil
}
