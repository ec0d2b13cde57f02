package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// errRunHalted marks nodes left undispatched after a pause halted the run.
var errRunHalted = errors.New("run halted")

// buildNodes wires the plan's nodes into pool nodes with the given
// dependency orientation. deps must return, for each plan node, the
// collections that have to finish before it may run.
func buildNodes(t *traversal.Traversal, deps func(*traversal.Node) []fieldaddr.CollectionAddress) map[fieldaddr.CollectionAddress]*execNode {
	nodes := make(map[fieldaddr.CollectionAddress]*execNode, len(t.Nodes))
	for addr, plan := range t.Nodes {
		nodes[addr] = &execNode{plan: plan}
	}
	for addr, n := range nodes {
		for _, dep := range deps(t.Nodes[addr]) {
			upstream, ok := nodes[dep]
			if !ok || upstream == n {
				continue
			}
			upstream.dependents = append(upstream.dependents, n)
			n.depCount.Add(1)
		}
	}
	return nodes
}

// accessDeps orients execution with the data flow: a node runs once every
// collection feeding it, and everything its after constraints name, has
// finished.
func accessDeps(t *traversal.Traversal) func(*traversal.Node) []fieldaddr.CollectionAddress {
	return func(plan *traversal.Node) []fieldaddr.CollectionAddress {
		var deps []fieldaddr.CollectionAddress
		for upstream := range plan.IncomingEdges {
			if upstream != fieldaddr.Root {
				deps = append(deps, upstream)
			}
		}
		deps = append(deps, plan.Graph.AfterCollections...)
		for _, dsName := range plan.Graph.AfterDatasets {
			for addr := range t.Nodes {
				if addr.Dataset == dsName {
					deps = append(deps, addr)
				}
			}
		}
		return deps
	}
}

// erasureDeps orients execution against the data flow: a node is masked
// only after every collection consuming its values has been masked, so a
// downstream lookup never reads an already-nulled field.
func erasureDeps(_ *traversal.Traversal) func(*traversal.Node) []fieldaddr.CollectionAddress {
	return func(plan *traversal.Node) []fieldaddr.CollectionAddress {
		var deps []fieldaddr.CollectionAddress
		for consumer := range plan.Children {
			deps = append(deps, consumer)
		}
		return deps
	}
}

// runPool drains the node set through a worker pool. exec performs one
// node's work and sets its terminal state. A failed outcome cancels the
// run; a paused outcome only stops further dispatch, so connector calls
// already in flight run to completion and their results are kept. Both
// skip everything downstream of the halted node.
func (e *Engine) runPool(ctx context.Context, nodes map[fieldaddr.CollectionAddress]*execNode, workers int, exec func(context.Context, *execNode)) {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *execNode, len(nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var halt atomic.Bool

	var wg sync.WaitGroup
	wg.Add(len(nodes))

	// Deterministic seeding keeps single-worker runs reproducible.
	addrs := make([]fieldaddr.CollectionAddress, 0, len(nodes))
	for addr := range nodes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	roots := 0
	for _, addr := range addrs {
		if n := nodes[addr]; n.depCount.Load() == 0 {
			n.setState(stateReady)
			readyChan <- n
			roots++
		}
	}
	logger.Debug("Starting worker pool.", "nodes", len(nodes), "roots", roots, "workers", workers)

	for i := 0; i < workers; i++ {
		go e.worker(runCtx, readyChan, cancel, &halt, &wg, i, exec)
	}

	wg.Wait()
	close(readyChan)
	logger.Debug("Worker pool drained.")
}

// worker is the processing loop of one pool worker.
func (e *Engine) worker(ctx context.Context, readyChan chan *execNode, cancel context.CancelFunc, halt *atomic.Bool, wg *sync.WaitGroup, workerID int, exec func(context.Context, *execNode)) {
	logger := ctxlog.FromContext(ctx)

	for n := range readyChan {
		workerLogger := logger.With("workerID", workerID, "collection", n.plan.Address.String())

		if ctx.Err() != nil || halt.Load() {
			skipErr := ctx.Err()
			if skipErr == nil {
				skipErr = errRunHalted
			}
			if n.skip(skipErr, wg) {
				workerLogger.Warn("Run halted, skipping node.")
				e.skipDependents(ctx, n, wg)
			}
			continue
		}

		if !n.claim() {
			continue
		}
		exec(ctx, n)

		switch n.getState() {
		case statePaused:
			// In-flight siblings keep their context; only dispatch stops.
			workerLogger.Warn("Node paused the run.", "error", n.err)
			halt.Store(true)
			e.skipDependents(ctx, n, wg)
			wg.Done()
			continue
		case stateFailed:
			workerLogger.Warn("Node failed the run.", "error", n.err)
			cancel()
			e.skipDependents(ctx, n, wg)
			wg.Done()
			continue
		}

		for _, dependent := range n.dependents {
			if dependent.depCount.Add(-1) == 0 && dependent.ready() {
				readyChan <- dependent
			}
		}
		wg.Done()
	}
}

// skipDependents marks the whole downstream cone of a halted node skipped.
func (e *Engine) skipDependents(ctx context.Context, n *execNode, wg *sync.WaitGroup) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range n.dependents {
		if dependent.skip(fmt.Errorf("skipped after halt of %s", n.plan.Address), wg) {
			logger.Warn("Skipping dependent node.", "collection", dependent.plan.Address.String(), "halted", n.plan.Address.String())
			e.skipDependents(ctx, dependent, wg)
		}
	}
}
