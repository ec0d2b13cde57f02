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
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// RunErasure masks the policy-targeted fields of the rows a prior access
// run gathered. Collections are processed against the data flow: a
// collection is masked only after every collection that looks rows up
// through it has been masked. The returned map holds the per-collection
// mutation counts.
//
// Pause and failure behave as in RunAccess.
func (e *Engine) RunErasure(ctx context.Context, requestID string, pol *policy.Policy, g *graph.Graph, seeds map[string]any, accessResults map[fieldaddr.CollectionAddress][]dataset.Row, opts RunOpts) (map[fieldaddr.CollectionAddress]int, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := ctxlog.FromContext(ctx).With("request_id", requestID, "step", string(checkpoint.StepErasure))
	ctx = ctxlog.WithLogger(ctx, logger)

	t, err := traversal.Traverse(ctx, g, seeds)
	if err != nil {
		return nil, fmt.Errorf("planning request %s: %w", requestID, err)
	}

	cached := make(map[fieldaddr.CollectionAddress]int)
	if opts.FromPaused {
		cached, err = e.resumeErasure(ctx, requestID)
		if err != nil {
			return nil, err
		}
		logger.Info("Resuming from checkpoint.", "cached_collections", len(cached))
	}

	var mu sync.Mutex
	counts := make(map[fieldaddr.CollectionAddress]int, len(t.Nodes))

	nodes := buildNodes(t, erasureDeps(t))
	e.runPool(ctx, nodes, opts.workers(), func(runCtx context.Context, n *execNode) {
		e.runErasureNode(runCtx, requestID, pol, seeds, opts, cached, accessResults, n, &mu, counts)
	})

	if err := e.halted(ctx, requestID, checkpoint.StepErasure, nodes); err != nil {
		return nil, err
	}

	if err := e.store.Delete(ctx, checkpoint.CheckpointKey(requestID)); err != nil {
		return nil, fmt.Errorf("clearing checkpoint for request %s: %w", requestID, err)
	}
	logger.Info("Erasure step complete.", "collections", len(counts))
	return counts, nil
}

// runErasureNode executes one collection's masking and records its terminal
// state.
func (e *Engine) runErasureNode(ctx context.Context, requestID string, pol *policy.Policy, seeds map[string]any, opts RunOpts, cached map[fieldaddr.CollectionAddress]int, accessResults map[fieldaddr.CollectionAddress][]dataset.Row, n *execNode, mu *sync.Mutex, counts map[fieldaddr.CollectionAddress]int) {
	logger := ctxlog.FromContext(ctx).With("collection", n.plan.Address.String())
	addr := n.plan.Address

	complete := func(count int) {
		mu.Lock()
		counts[addr] = count
		mu.Unlock()
		n.setState(stateCompleted)
	}

	if count, ok := cached[addr]; ok {
		logger.Debug("Reusing cached erasure count.", "count", count)
		complete(count)
		return
	}

	skipZero := func(reason string) {
		logger.Debug(reason)
		if err := e.persistCount(ctx, requestID, addr, 0); err != nil {
			n.err = err
			n.setState(stateFailed)
			return
		}
		mu.Lock()
		counts[addr] = 0
		mu.Unlock()
		n.setState(stateSkipped)
	}

	rows := accessResults[addr]
	if len(rows) == 0 {
		skipZero("No access rows for collection, skipping masking.")
		return
	}
	if len(n.plan.Graph.Collection.PrimaryKeyPaths()) == 0 {
		logger.Warn("Collection declares no primary key, its rows cannot be masked.")
		skipZero("Skipping masking without a primary key.")
		return
	}

	conn, ok := e.registry.Get(n.plan.Graph.ConnectionKey)
	if !ok {
		n.err = fmt.Errorf("no connector registered for connection %q", n.plan.Graph.ConnectionKey)
		n.setState(stateFailed)
		return
	}

	input := buildInput(n.plan, seeds, func(upstream fieldaddr.CollectionAddress) []dataset.Row {
		return accessResults[upstream]
	})

	count, err := e.callMask(ctx, conn, n, pol, requestID, rows, input, opts.NodeTimeout)
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

	if err := e.persistCount(ctx, requestID, addr, count); err != nil {
		n.err = err
		n.setState(stateFailed)
		return
	}
	logger.Debug("Collection masked.", "count", count)
	complete(count)
}

// callMask runs one connector masking call under the per-node deadline.
func (e *Engine) callMask(ctx context.Context, conn connector.Connector, n *execNode, pol *policy.Policy, requestID string, rows []dataset.Row, input connector.InputData, timeout time.Duration) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	count, err := conn.MaskData(ctx, n.plan, pol, connector.RequestContext{RequestID: requestID}, rows, input)
	if err != nil {
		return 0, fmt.Errorf("masking %s: %w", n.plan.Address, err)
	}
	return count, nil
}

func (e *Engine) persistCount(ctx context.Context, requestID string, addr fieldaddr.CollectionAddress, count int) error {
	key := checkpoint.ErasureCountKey(requestID, addr.String())
	if err := checkpoint.PutJSON(ctx, e.store, key, count, 0); err != nil {
		return fmt.Errorf("caching %s erasure count: %w", addr, err)
	}
	return nil
}

// resumeErasure loads the cached per-collection mutation counts of a paused
// erasure run.
func (e *Engine) resumeErasure(ctx context.Context, requestID string) (map[fieldaddr.CollectionAddress]int, error) {
	prefix := checkpoint.ErasureCountPrefix(requestID)
	entries, err := e.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("loading cached counts for request %s: %w", requestID, err)
	}

	cached := make(map[fieldaddr.CollectionAddress]int, len(entries))
	for key := range entries {
		name := checkpoint.CollectionFromResultKey(key, prefix)
		addr, err := fieldaddr.ParseCollectionAddress(name)
		if err != nil {
			return nil, fmt.Errorf("decoding cached count key %q: %w", key, err)
		}
		var count int
		if _, err := checkpoint.GetJSON(ctx, e.store, key, &count); err != nil {
			return nil, fmt.Errorf("decoding cached count for %s: %w", name, err)
		}
		cached[addr] = count
	}
	return cached, nil
}
