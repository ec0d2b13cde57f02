package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// File is a Store persisted as a single JSON document, so paused privacy
// requests can be resumed by a later process. Every mutation rewrites the
// document through a temp-file rename, keeping it whole under a crash.
type File struct {
	path string

	mu      sync.Mutex
	entries map[string]fileEntry
}

type fileEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e fileEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// NewFile opens the checkpoint document at path, creating it on first use.
func NewFile(path string) (*File, error) {
	s := &File{path: path, entries: make(map[string]fileEntry)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint file %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("decoding checkpoint file %s: %w", path, err)
		}
	}
	return s, nil
}

// persist rewrites the document. Callers hold s.mu.
func (s *File) persist() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encoding checkpoint file %s: %w", s.path, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing checkpoint file %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing checkpoint file %s: %w", s.path, err)
	}
	return nil
}

// Set implements Store.
func (s *File) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := fileEntry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return s.persist()
}

// Get implements Store. Expired entries are dropped lazily.
func (s *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		if err := s.persist(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return append([]byte(nil), e.Value...), true, nil
}

// GetByPrefix implements Store.
func (s *File) GetByPrefix(_ context.Context, prefix string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make(map[string][]byte)
	dropped := false
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e.expired(now) {
			delete(s.entries, key)
			dropped = true
			continue
		}
		out[key] = append([]byte(nil), e.Value...)
	}
	if dropped {
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete implements Store.
func (s *File) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persist()
}
