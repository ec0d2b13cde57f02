package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/execution"
	"github.com/privacyrun/subjectgrid/internal/graph"
	"github.com/privacyrun/subjectgrid/internal/policy"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config

	graph      *graph.Graph
	pol        *policy.Policy
	store      checkpoint.Store
	registry   *connector.Registry
	closeConns func() error
	engine     *execution.Engine
}

// NewApp is the constructor for the main application. It loads the dataset
// declarations and the policy, builds the graph, and binds one connector
// per connection key.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	datasets, err := dataset.LoadDir(ctx, cfg.DatasetsPath)
	if err != nil {
		return nil, fmt.Errorf("loading datasets: %w", err)
	}
	logger.Debug("Datasets loaded.", "count", len(datasets))

	g, err := graph.Build(ctx, datasets)
	if err != nil {
		return nil, fmt.Errorf("building dataset graph: %w", err)
	}
	logger.Debug("Dataset graph built.", "collections", len(g.Nodes), "edges", len(g.Edges))

	var pol *policy.Policy
	if cfg.PolicyPath != "" {
		pol, err = policy.Load(cfg.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("loading policy: %w", err)
		}
		logger.Debug("Policy loaded.", "name", pol.Name, "rules", len(pol.Rules))
	}

	var store checkpoint.Store = checkpoint.NewInMemory()
	if cfg.CheckpointPath != "" {
		store, err = checkpoint.NewFile(cfg.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("opening checkpoint store: %w", err)
		}
		logger.Debug("Using file-backed checkpoint store.", "path", cfg.CheckpointPath)
	}
	registry, closeConns, err := buildRegistry(ctx, datasets, cfg.Connections, store)
	if err != nil {
		return nil, err
	}

	return &App{
		outW:       outW,
		logger:     logger,
		cfg:        cfg,
		graph:      g,
		pol:        pol,
		store:      store,
		registry:   registry,
		closeConns: closeConns,
		engine:     execution.New(registry, store),
	}, nil
}

// Close releases the bound connections.
func (a *App) Close() error {
	return a.closeConns()
}

// Registry returns the application's connector registry. This is primarily
// for testing.
func (a *App) Registry() *connector.Registry {
	return a.registry
}
