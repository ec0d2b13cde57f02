package connector

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/privacyrun/subjectgrid/internal/ctxlog"
)

// Registry maps connection keys to the connectors serving them. It is a
// plain value constructed at startup and passed to the components that need
// connector resolution; it is not a package-level singleton. Register all
// connectors before handing the registry to an engine; registration is not
// synchronized with lookup.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register binds a connector to a connection key. Registering the same key
// twice is a programming error.
func (r *Registry) Register(key string, c Connector) {
	if _, exists := r.connectors[key]; exists {
		panic(fmt.Sprintf("connector with key %q already registered", key))
	}
	r.connectors[key] = c
}

// Get resolves the connector for a connection key.
func (r *Registry) Get(key string) (Connector, bool) {
	c, ok := r.connectors[key]
	return c, ok
}

// Keys returns the registered connection keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.connectors))
	for key := range r.connectors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// TestAll checks every registered connector concurrently and returns the
// first failure encountered.
func (r *Registry) TestAll(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	g, ctx := errgroup.WithContext(ctx)
	for _, key := range r.Keys() {
		key := key
		c := r.connectors[key]
		g.Go(func() error {
			if err := c.TestConnection(ctx); err != nil {
				return fmt.Errorf("connection %q: %w", key, err)
			}
			logger.Debug("Connection test passed.", "connection", key)
			return nil
		})
	}
	return g.Wait()
}
