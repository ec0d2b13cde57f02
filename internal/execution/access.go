package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/graph"
	"github.com/privacyrun/subjectgrid/internal/graphdiff"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// RunAccess gathers every row tied to the subject's seed identities,
// collection by collection along the traversal plan. The returned map holds
// one entry per reachable collection; collections no input ever reached map
// to no rows.
//
// A pause surfaces as *PausedRequestError, a node failure as
// *FailedRequestError; both leave a checkpoint behind so a later call with
// opts.FromPaused can resume.
func (e *Engine) RunAccess(ctx context.Context, requestID string, pol *policy.Policy, g *graph.Graph, seeds map[string]any, opts RunOpts) (map[fieldaddr.CollectionAddress][]dataset.Row, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := ctxlog.FromContext(ctx).With("request_id", requestID, "step", string(checkpoint.StepAccess))
	ctx = ctxlog.WithLogger(ctx, logger)

	t, err := traversal.Traverse(ctx, g, seeds)
	if err != nil {
		return nil, fmt.Errorf("planning request %s: %w", requestID, err)
	}

	cached := make(map[fieldaddr.CollectionAddress][]dataset.Row)
	if opts.FromPaused {
		cached, err = e.resumeAccess(ctx, requestID, t)
		if err != nil {
			return nil, err
		}
		logger.Info("Resuming from checkpoint.", "cached_collections", len(cached))
	}

	// The snapshot reflects the plan this run executes; a later resume
	// diffs against it.
	if err := checkpoint.PutJSON(ctx, e.store, checkpoint.GraphSnapshotKey(requestID), graphdiff.BuildRepr(t), 0); err != nil {
		return nil, fmt.Errorf("persisting graph snapshot for request %s: %w", requestID, err)
	}

	var mu sync.Mutex
	results := make(map[fieldaddr.CollectionAddress][]dataset.Row, len(t.Nodes))

	nodes := buildNodes(t, accessDeps(t))
	e.runPool(ctx, nodes, opts.workers(), func(runCtx context.Context, n *execNode) {
		e.runAccessNode(runCtx, requestID, pol, seeds, opts, cached, n, &mu, results)
	})

	if err := e.halted(ctx, requestID, checkpoint.StepAccess, nodes); err != nil {
		return nil, err
	}

	if err := e.store.Delete(ctx, checkpoint.CheckpointKey(requestID)); err != nil {
		return nil, fmt.Errorf("clearing checkpoint for request %s: %w", requestID, err)
	}
	logger.Info("Access step complete.", "collections", len(results))
	return results, nil
}

// runAccessNode executes one collection's retrieval and records its
// terminal state.
func (e *Engine) runAccessNode(ctx context.Context, requestID string, pol *policy.Policy, seeds map[string]any, opts RunOpts, cached map[fieldaddr.CollectionAddress][]dataset.Row, n *execNode, mu *sync.Mutex, results map[fieldaddr.CollectionAddress][]dataset.Row) {
	logger := ctxlog.FromContext(ctx).With("collection", n.plan.Address.String())
	addr := n.plan.Address

	complete := func(rows []dataset.Row) {
		mu.Lock()
		results[addr] = rows
		mu.Unlock()
		n.setState(stateCompleted)
	}

	if rows, ok := cached[addr]; ok {
		logger.Debug("Reusing cached access result.", "rows", len(rows))
		complete(rows)
		return
	}

	input := buildInput(n.plan, seeds, func(upstream fieldaddr.CollectionAddress) []dataset.Row {
		mu.Lock()
		defer mu.Unlock()
		return results[upstream]
	})
	if len(input) == 0 {
		logger.Debug("No input reached collection, skipping retrieval.")
		if err := e.persistRows(ctx, requestID, addr, nil); err != nil {
			n.err = err
			n.setState(stateFailed)
			return
		}
		mu.Lock()
		results[addr] = nil
		mu.Unlock()
		n.setState(stateSkipped)
		return
	}

	conn, ok := e.registry.Get(n.plan.Graph.ConnectionKey)
	if !ok {
		n.err = fmt.Errorf("no connector registered for connection %q", n.plan.Graph.ConnectionKey)
		n.setState(stateFailed)
		return
	}

	rows, err := e.callRetrieve(ctx, conn, n.plan, pol, requestID, input, opts.NodeTimeout)
	if paused, isPause := connector.AsPaused(err); isPause {
		logger.Info("Collection paused awaiting manual input.", "actions", len(paused.Actions))
		n.err = paused
		n.setState(statePaused)
		return
	}
	if err != nil {
		n.err = err
		n.setState(stateFailed)
		return
	}

	if err := e.persistRows(ctx, requestID, addr, rows); err != nil {
		n.err = err
		n.setState(stateFailed)
		return
	}
	logger.Debug("Collection retrieved.", "rows", len(rows))
	complete(rows)
}

// callRetrieve runs one connector retrieval under the per-node deadline.
func (e *Engine) callRetrieve(ctx context.Context, conn connector.Connector, plan *traversal.Node, pol *policy.Policy, requestID string, input connector.InputData, timeout time.Duration) ([]dataset.Row, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rows, err := conn.RetrieveData(ctx, plan, pol, connector.RequestContext{RequestID: requestID}, input)
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", plan.Address, err)
	}
	return rows, nil
}

func (e *Engine) persistRows(ctx context.Context, requestID string, addr fieldaddr.CollectionAddress, rows []dataset.Row) error {
	key := checkpoint.AccessResultKey(requestID, addr.String())
	if err := checkpoint.PutJSON(ctx, e.store, key, rows, 0); err != nil {
		return fmt.Errorf("caching %s result: %w", addr, err)
	}
	return nil
}

// resumeAccess loads the cached per-collection outputs of a paused run and
// drops the ones a graph change invalidated.
func (e *Engine) resumeAccess(ctx context.Context, requestID string, t *traversal.Traversal) (map[fieldaddr.CollectionAddress][]dataset.Row, error) {
	logger := ctxlog.FromContext(ctx)

	prefix := checkpoint.AccessResultPrefix(requestID)
	entries, err := e.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("loading cached results for request %s: %w", requestID, err)
	}

	cached := make(map[fieldaddr.CollectionAddress][]dataset.Row, len(entries))
	processed := make(map[string]bool, len(entries))
	for key := range entries {
		name := checkpoint.CollectionFromResultKey(key, prefix)
		addr, err := fieldaddr.ParseCollectionAddress(name)
		if err != nil {
			return nil, fmt.Errorf("decoding cached result key %q: %w", key, err)
		}
		var rows []dataset.Row
		if _, err := checkpoint.GetJSON(ctx, e.store, key, &rows); err != nil {
			return nil, fmt.Errorf("decoding cached result for %s: %w", name, err)
		}
		cached[addr] = rows
		processed[name] = true
	}

	var previous *graphdiff.Repr
	if ok, err := checkpoint.GetJSON(ctx, e.store, checkpoint.GraphSnapshotKey(requestID), &previous); err != nil {
		logger.Warn("Stored graph snapshot is unreadable, discarding cached results.", "error", err)
		previous = nil
	} else if !ok {
		previous = nil
	}

	summary := graphdiff.Diff(previous, graphdiff.BuildRepr(t), processed)
	if summary == nil {
		// Without a trustworthy snapshot every cached output is suspect.
		logger.Warn("No usable graph snapshot, re-running every collection.")
		return make(map[fieldaddr.CollectionAddress][]dataset.Row), nil
	}

	for _, name := range summary.RemovedCollections {
		if addr, err := fieldaddr.ParseCollectionAddress(name); err == nil {
			delete(cached, addr)
		}
	}
	for name, edges := range summary.AddedUpstreamEdges {
		addr, err := fieldaddr.ParseCollectionAddress(name)
		if err != nil {
			continue
		}
		logger.Info("Cached result invalidated by graph change.", "collection", name, "added_edges", edges)
		delete(cached, addr)
	}
	return cached, nil
}

// halted inspects the drained pool for a pause or failure, persists the
// corresponding checkpoint record, and converts it into the run's error.
func (e *Engine) halted(ctx context.Context, requestID string, step checkpoint.Step, nodes map[fieldaddr.CollectionAddress]*execNode) error {
	var paused, failed *execNode
	for _, n := range nodes {
		switch n.getState() {
		case statePaused:
			if paused == nil || n.plan.Address.Less(paused.plan.Address) {
				paused = n
			}
		case stateFailed:
			if failed == nil || n.plan.Address.Less(failed.plan.Address) {
				failed = n
			}
		}
	}

	// A failure outranks a pause: resuming cannot help until the failure
	// is addressed.
	if failed != nil {
		record := checkpoint.ActionRequired{Step: step, Collection: failed.plan.Address.String()}
		if err := checkpoint.PutJSON(ctx, e.store, checkpoint.CheckpointKey(requestID), record, 0); err != nil {
			return fmt.Errorf("persisting failure checkpoint for request %s: %w", requestID, err)
		}
		return &FailedRequestError{
			RequestID:  requestID,
			Step:       step,
			Collection: failed.plan.Address.String(),
			Err:        failed.err,
		}
	}

	if paused != nil {
		record := checkpoint.ActionRequired{Step: step, Collection: paused.plan.Address.String()}
		if pauseErr, ok := connector.AsPaused(paused.err); ok {
			record.ActionsNeeded = pauseErr.Actions
		}
		if err := checkpoint.PutJSON(ctx, e.store, checkpoint.CheckpointKey(requestID), record, 0); err != nil {
			return fmt.Errorf("persisting pause checkpoint for request %s: %w", requestID, err)
		}
		return &PausedRequestError{RequestID: requestID, Record: record}
	}
	return nil
}
