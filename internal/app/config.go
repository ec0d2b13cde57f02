package app

import (
	"errors"
	"fmt"
	"time"
)

// Actions the binary can execute for a privacy request.
const (
	ActionAccess  = "access"
	ActionErasure = "erasure"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	DatasetsPath string // hcl dataset declarations
	PolicyPath   string // yaml execution policy

	Action     string
	RequestID  string
	Identities map[string]string
	// Connections binds each dataset connection key to a connector target.
	Connections map[string]string

	CheckConnections bool
	FromPaused       bool
	// CheckpointPath persists run state as a JSON file so a paused request
	// can be resumed by a later invocation. Empty keeps state in memory.
	CheckpointPath string

	LogFormat   string
	LogLevel    string
	Workers     int
	NodeTimeout time.Duration
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.DatasetsPath == "" {
		return nil, errors.New("DatasetsPath is a required configuration field and cannot be empty")
	}
	if cfg.CheckConnections {
		return &cfg, nil
	}

	switch cfg.Action {
	case ActionAccess, ActionErasure:
	default:
		return nil, fmt.Errorf("invalid action %q: must be %q or %q", cfg.Action, ActionAccess, ActionErasure)
	}
	if len(cfg.Identities) == 0 {
		return nil, errors.New("at least one -identity key=value is required")
	}
	if cfg.Action == ActionErasure && cfg.PolicyPath == "" {
		return nil, errors.New("the erasure action requires a -policy file")
	}
	if cfg.FromPaused && cfg.CheckpointPath == "" {
		return nil, errors.New("-from-paused needs the -checkpoints file the paused run wrote its state to")
	}
	return &cfg, nil
}
