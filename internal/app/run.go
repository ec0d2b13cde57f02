package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/execution"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/projection"
)

// Run executes the configured action and writes its JSON report to the
// application's output.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	if a.cfg.CheckConnections {
		return a.runConnectionCheck(ctx)
	}

	seeds := make(map[string]any, len(a.cfg.Identities))
	for key, value := range a.cfg.Identities {
		seeds[key] = value
	}
	opts := execution.RunOpts{
		FromPaused:  a.cfg.FromPaused,
		NodeTimeout: a.cfg.NodeTimeout,
		Workers:     a.cfg.Workers,
	}

	results, err := a.engine.RunAccess(ctx, a.cfg.RequestID, a.pol, a.graph, seeds, opts)
	if err != nil {
		return a.report(err)
	}

	if a.cfg.Action == ActionAccess {
		if a.pol != nil {
			if targets := a.pol.TargetCategories(policy.ActionAccess); len(targets) > 0 {
				results = projection.FilterByDataCategories(results, targets, a.graph)
			}
		}
		return a.printJSON(accessReport{Status: "complete", Results: stringKeyedRows(results)})
	}

	counts, err := a.engine.RunErasure(ctx, a.cfg.RequestID, a.pol, a.graph, seeds, results, opts)
	if err != nil {
		return a.report(err)
	}
	return a.printJSON(erasureReport{Status: "complete", MaskedRows: stringKeyedCounts(counts)})
}

// runConnectionCheck probes every bound connection.
func (a *App) runConnectionCheck(ctx context.Context) error {
	if err := a.registry.TestAll(ctx); err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	return a.printJSON(struct {
		Status      string   `json:"status"`
		Connections []string `json:"connections"`
	}{Status: "ok", Connections: a.registry.Keys()})
}

// report renders a pause as a readable JSON report before propagating the
// error; other errors pass through untouched.
func (a *App) report(err error) error {
	var paused *execution.PausedRequestError
	if errors.As(err, &paused) {
		a.printJSON(struct {
			Status    string `json:"status"`
			RequestID string `json:"request_id"`
			Record    any    `json:"checkpoint"`
		}{Status: "paused", RequestID: paused.RequestID, Record: paused.Record})
	}
	return err
}

type accessReport struct {
	Status  string                   `json:"status"`
	Results map[string][]dataset.Row `json:"results"`
}

type erasureReport struct {
	Status     string         `json:"status"`
	MaskedRows map[string]int `json:"masked_rows"`
}

func (a *App) printJSON(v any) error {
	encoder := json.NewEncoder(a.outW)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func stringKeyedRows(results map[fieldaddr.CollectionAddress][]dataset.Row) map[string][]dataset.Row {
	out := make(map[string][]dataset.Row, len(results))
	for addr, rows := range results {
		out[addr.String()] = rows
	}
	return out
}

func stringKeyedCounts(counts map[fieldaddr.CollectionAddress]int) map[string]int {
	out := make(map[string]int, len(counts))
	for addr, count := range counts {
		out[addr.String()] = count
	}
	return out
}
