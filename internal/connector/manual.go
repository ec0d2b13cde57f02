package connector

import (
	"context"
	"sort"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// Manual is the connector for human-in-the-loop sources. Every call pauses
// with a description of what an operator must look up or change, unless the
// operator has already staged the answer in the checkpoint store, in which
// case the staged result is consumed and the node completes.
type Manual struct {
	store checkpoint.Store
}

// NewManual creates a manual connector staging through the given store.
func NewManual(store checkpoint.Store) *Manual {
	return &Manual{store: store}
}

// manualResult is the staged answer an operator submits for a paused node.
type manualResult struct {
	Rows        []dataset.Row `json:"rows,omitempty"`
	MaskedCount int           `json:"masked_count,omitempty"`
}

// StageRows records operator-supplied rows for a paused access node.
func (c *Manual) StageRows(ctx context.Context, requestID string, addr fieldaddr.CollectionAddress, rows []dataset.Row) error {
	key := checkpoint.ManualInputKey(requestID, addr.String())
	return checkpoint.PutJSON(ctx, c.store, key, manualResult{Rows: rows}, 0)
}

// StageMaskedCount records the operator-confirmed mutation count for a
// paused erasure node.
func (c *Manual) StageMaskedCount(ctx context.Context, requestID string, addr fieldaddr.CollectionAddress, count int) error {
	key := checkpoint.ManualInputKey(requestID, addr.String())
	return checkpoint.PutJSON(ctx, c.store, key, manualResult{MaskedCount: count}, 0)
}

// RetrieveData implements Connector.
func (c *Manual) RetrieveData(ctx context.Context, node *traversal.Node, _ *policy.Policy, req RequestContext, input InputData) ([]dataset.Row, error) {
	staged, ok, err := c.consume(ctx, req.RequestID, node.Address)
	if err != nil {
		return nil, err
	}
	if ok {
		return staged.Rows, nil
	}

	action := checkpoint.ManualAction{
		Locators: locators(input),
		Get:      fieldNames(node),
	}
	return nil, Pause(action)
}

// MaskData implements Connector.
func (c *Manual) MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req RequestContext, rows []dataset.Row, input InputData) (int, error) {
	staged, ok, err := c.consume(ctx, req.RequestID, node.Address)
	if err != nil {
		return 0, err
	}
	if ok {
		return staged.MaskedCount, nil
	}

	update := make(map[string]any)
	for _, path := range MaskTargets(node, pol) {
		update[path.String()] = nil
	}
	action := checkpoint.ManualAction{
		Locators: locators(input),
		Update:   update,
	}
	return 0, Pause(action)
}

// TestConnection implements Connector. A manual source has no backend to
// probe.
func (c *Manual) TestConnection(context.Context) error {
	return nil
}

// consume reads and clears the staged operator answer for a node, so a
// later request pauses afresh.
func (c *Manual) consume(ctx context.Context, requestID string, addr fieldaddr.CollectionAddress) (manualResult, bool, error) {
	key := checkpoint.ManualInputKey(requestID, addr.String())
	var staged manualResult
	ok, err := checkpoint.GetJSON(ctx, c.store, key, &staged)
	if err != nil || !ok {
		return manualResult{}, false, err
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return manualResult{}, false, err
	}
	return staged, true, nil
}

// locators collapses the gathered input into source-native lookup terms.
func locators(input InputData) map[string]any {
	out := make(map[string]any, len(input))
	for path, values := range input {
		if len(values) == 1 {
			out[path.String()] = values[0]
			continue
		}
		out[path.String()] = values
	}
	return out
}

// fieldNames lists the top-level fields an operator must fetch.
func fieldNames(node *traversal.Node) []string {
	var names []string
	for _, f := range node.Graph.Collection.Fields {
		names = append(names, f.Base().Name)
	}
	sort.Strings(names)
	return names
}
