package execution

import (
	"fmt"
	"time"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/connector"
)

const defaultWorkers = 4

// Engine executes privacy requests over a connector registry, persisting
// resumable state through a checkpoint store. An Engine is stateless across
// runs and safe for concurrent use as long as no two concurrent runs share
// a request id.
type Engine struct {
	registry *connector.Registry
	store    checkpoint.Store
}

// New creates an engine over the given connectors and checkpoint store.
func New(registry *connector.Registry, store checkpoint.Store) *Engine {
	return &Engine{registry: registry, store: store}
}

// RunOpts tunes one run.
type RunOpts struct {
	// FromPaused resumes a previously halted request from its cached node
	// outputs instead of starting fresh.
	FromPaused bool
	// NodeTimeout bounds each connector call. Zero means no bound.
	NodeTimeout time.Duration
	// Workers sizes the pool. Zero means the default.
	Workers int
}

func (o RunOpts) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return defaultWorkers
}

// PausedRequestError reports a run halted awaiting manual input or an
// external callback. The embedded record is also persisted under the
// request's checkpoint key.
type PausedRequestError struct {
	RequestID string
	Record    checkpoint.ActionRequired
}

// Error implements the error interface.
func (e *PausedRequestError) Error() string {
	return fmt.Sprintf("request %s paused at %s during %s step, awaiting %d manual action(s)",
		e.RequestID, e.Record.Collection, e.Record.Step, len(e.Record.ActionsNeeded))
}

// FailedRequestError reports a run halted by a node failure.
type FailedRequestError struct {
	RequestID  string
	Step       checkpoint.Step
	Collection string
	Err        error
}

// Error implements the error interface.
func (e *FailedRequestError) Error() string {
	return fmt.Sprintf("request %s failed at %s during %s step: %v", e.RequestID, e.Collection, e.Step, e.Err)
}

// Unwrap exposes the node failure.
func (e *FailedRequestError) Unwrap() error {
	return e.Err
}
