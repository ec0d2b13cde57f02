package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/connector/postgres"
	"github.com/privacyrun/subjectgrid/internal/connector/webhook"
	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/dataset"
)

// buildRegistry binds one connector per connection key the datasets use.
// The binding target decides the connector kind: 'manual', 'memory', a
// postgres:// DSN, or an http(s):// webhook base URL. A close function
// releasing any opened handles is returned alongside.
func buildRegistry(ctx context.Context, datasets []*dataset.Dataset, bindings map[string]string, store checkpoint.Store) (*connector.Registry, func() error, error) {
	logger := ctxlog.FromContext(ctx)

	needed := make(map[string]struct{})
	for _, ds := range datasets {
		needed[ds.ConnectionKey] = struct{}{}
	}

	registry := connector.NewRegistry()
	var closers []func() error
	closeAll := func() error {
		var result *multierror.Error
		for _, closeFn := range closers {
			result = multierror.Append(result, closeFn())
		}
		return result.ErrorOrNil()
	}

	var missing []string
	keys := make([]string, 0, len(needed))
	for key := range needed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		target, ok := bindings[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		conn, closeFn, err := openConnector(target, store)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("binding connection %q: %w", key, err)
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		registry.Register(key, conn)
	}
	if len(missing) > 0 {
		closeAll()
		return nil, nil, fmt.Errorf("no -conn binding for connection key(s): %s", strings.Join(missing, ", "))
	}

	for key := range bindings {
		if _, ok := needed[key]; !ok {
			logger.Warn("Connection binding matches no dataset.", "connection", key)
		}
	}
	return registry, closeAll, nil
}

func openConnector(target string, store checkpoint.Store) (connector.Connector, func() error, error) {
	switch {
	case target == "manual":
		return connector.NewManual(store), nil, nil
	case target == "memory":
		return connector.NewInMemory(nil), nil, nil
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		conn, err := postgres.Open(target)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.Close, nil
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		return webhook.New(webhook.Config{BaseURL: strings.TrimSuffix(target, "/")}), nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported connector target %q", target)
}
