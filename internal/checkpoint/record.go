package checkpoint

import "strings"

// Step names the privacy-request phase a checkpoint belongs to.
type Step string

const (
	// StepAccess is the retrieval phase.
	StepAccess Step = "access"
	// StepErasure is the mask/delete phase.
	StepErasure Step = "erasure"
)

// ManualAction is a connector-agnostic description of what a human or
// external system must look up or write before a paused node can resume.
type ManualAction struct {
	// Locators identify the affected records in source-native terms.
	Locators map[string]any `json:"locators"`
	// Get lists the fields to be read, for access steps.
	Get []string `json:"get,omitempty"`
	// Update maps fields to replacement values, for erasure steps.
	Update map[string]any `json:"update,omitempty"`
}

// ActionRequired is the unit persisted whenever execution pauses or fails,
// and read back to resume. A failure checkpoint carries no actions; a pause
// checkpoint carries the connector-supplied ones.
type ActionRequired struct {
	Step Step `json:"step"`
	// Collection is the canonical address of the halted collection, empty
	// when the whole request halted before any node ran.
	Collection string `json:"collection,omitempty"`
	// ActionsNeeded is present only for pauses that need human input.
	ActionsNeeded []ManualAction `json:"actions_needed,omitempty"`
}

// --- Key scheme ---
//
// Every key is namespaced by the privacy-request id so one request's state
// can be scanned or dropped with a single prefix.

// AccessResultKey caches one node's access-phase rows.
func AccessResultKey(requestID, collection string) string {
	return requestID + "__access_result__" + collection
}

// AccessResultPrefix scans every cached access result of a request.
func AccessResultPrefix(requestID string) string {
	return requestID + "__access_result__"
}

// CollectionFromResultKey recovers the collection address from a key
// produced by AccessResultKey or ErasureCountKey by trimming the request's
// prefix. Scanning for the delimiter instead would corrupt dataset or
// collection names that themselves contain double underscores.
func CollectionFromResultKey(key, prefix string) string {
	return strings.TrimPrefix(key, prefix)
}

// ErasureCountKey caches one node's erasure-phase mutation count.
func ErasureCountKey(requestID, collection string) string {
	return requestID + "__erasure_count__" + collection
}

// ErasureCountPrefix scans every cached erasure count of a request.
func ErasureCountPrefix(requestID string) string {
	return requestID + "__erasure_count__"
}

// CheckpointKey stores the request's ActionRequired record.
func CheckpointKey(requestID string) string {
	return requestID + "__checkpoint"
}

// GraphSnapshotKey stores the request's executed-graph representation for
// diffing on a later resume.
func GraphSnapshotKey(requestID string) string {
	return requestID + "__graph_snapshot"
}

// ManualInputKey stages operator-supplied rows for a paused manual node.
func ManualInputKey(requestID, collection string) string {
	return requestID + "__manual_input__" + collection
}
