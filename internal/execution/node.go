package execution

import (
	"sync"
	"sync/atomic"

	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// state is the execution state of one node, managed atomically.
type state int32

const (
	// statePending waits for upstream nodes to finish.
	statePending state = iota
	// stateReady is queued for a worker.
	stateReady
	// stateRunning is being executed by a worker.
	stateRunning
	// stateCompleted finished its connector call.
	stateCompleted
	// statePaused halted awaiting manual input or an external callback.
	statePaused
	// stateFailed errored or timed out.
	stateFailed
	// stateSkipped was not run: no input reached it, or an upstream halt
	// made running it pointless.
	stateSkipped
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateReady:
		return "ready"
	case stateRunning:
		return "running"
	case stateCompleted:
		return "completed"
	case statePaused:
		return "paused"
	case stateFailed:
		return "failed"
	case stateSkipped:
		return "skipped"
	}
	return "unknown"
}

// execNode is one plan node inside one run of the pool. Its output lives
// in the run's shared result map; the node itself only tracks scheduling
// state and the terminal error.
type execNode struct {
	plan *traversal.Node
	err  error

	state      atomic.Int32
	depCount   atomic.Int32
	dependents []*execNode
}

func (n *execNode) setState(s state) {
	n.state.Store(int32(s))
}

func (n *execNode) getState() state {
	return state(n.state.Load())
}

// claim transitions a queued node to running. A false return means a
// concurrent halt skipped the node first and already released its slot.
func (n *execNode) claim() bool {
	return n.state.CompareAndSwap(int32(stateReady), int32(stateRunning))
}

// ready transitions a pending node to the queue. A false return means a
// halt already skipped it; it must not be enqueued again.
func (n *execNode) ready() bool {
	return n.state.CompareAndSwap(int32(statePending), int32(stateReady))
}

// skip marks a not-yet-running node skipped, releasing its pool slot. A
// running node cannot be skipped; its worker owns the slot. The bool
// reports whether this call skipped it.
func (n *execNode) skip(err error, wg *sync.WaitGroup) bool {
	for {
		s := state(n.state.Load())
		if s != statePending && s != stateReady {
			return false
		}
		if n.state.CompareAndSwap(int32(s), int32(stateSkipped)) {
			n.err = err
			wg.Done()
			return true
		}
	}
}
