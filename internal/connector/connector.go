// Package connector defines the boundary between the execution engine and
// the concrete backends holding a subject's data. One connector serves one
// connection key; the engine resolves it through an explicitly injected
// Registry and calls it once per traversal node and phase.
//
// Pausing is modeled as a typed result, not control flow: a connector that
// needs human input or an external callback returns *PausedError, which the
// engine catches only at the node-execution boundary.
package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// RequestContext carries the identity of the privacy request a connector
// call belongs to.
type RequestContext struct {
	// RequestID is the external privacy-request identifier; it namespaces
	// all checkpoint-store keys.
	RequestID string
}

// InputData maps a downstream field path to the deduplicated values
// gathered for it from upstream results and seeds.
type InputData map[fieldaddr.FieldPath][]any

// Connector turns a node's resolved input values into fetch or mutate calls
// against one concrete backend.
type Connector interface {
	// RetrieveData fetches every row of the node's collection matching any
	// of the input values. It may return *PausedError.
	RetrieveData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req RequestContext, input InputData) ([]dataset.Row, error)

	// MaskData overwrites the policy-targeted fields of the given rows and
	// returns the number of rows mutated. It may return *PausedError.
	MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req RequestContext, rows []dataset.Row, input InputData) (int, error)

	// TestConnection verifies the backend is reachable.
	TestConnection(ctx context.Context) error
}

// PausedError signals that a node cannot proceed without a human step or an
// external callback. It is a controlled halt, not a failure.
type PausedError struct {
	Actions []checkpoint.ManualAction
}

// Error implements the error interface.
func (e *PausedError) Error() string {
	return fmt.Sprintf("execution paused awaiting %d manual action(s)", len(e.Actions))
}

// Pause builds a PausedError from the actions an operator must take.
func Pause(actions ...checkpoint.ManualAction) *PausedError {
	return &PausedError{Actions: actions}
}

// AsPaused unwraps a pause signal from an arbitrary connector error.
func AsPaused(err error) (*PausedError, bool) {
	var paused *PausedError
	if errors.As(err, &paused) {
		return paused, true
	}
	return nil, false
}

// MaskTargets resolves which of the node's field paths the policy's erasure
// rules target, by matching declared data categories against rule targets.
func MaskTargets(node *traversal.Node, pol *policy.Policy) []fieldaddr.FieldPath {
	targets := pol.TargetCategories(policy.ActionErasure)
	seen := make(map[fieldaddr.FieldPath]struct{})
	var out []fieldaddr.FieldPath
	for category, paths := range node.Graph.Collection.FieldsByDataCategory() {
		for _, target := range targets {
			if !policy.MatchesCategory(target, category) {
				continue
			}
			for _, path := range paths {
				if _, dup := seen[path]; dup {
					continue
				}
				seen[path] = struct{}{}
				out = append(out, path)
			}
		}
	}
	return out
}
