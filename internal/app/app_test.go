package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeclaration = `
dataset "app_db" {
  collection "users" {
    field "id" {
      primary_key = true
      data_type   = "integer"
    }
    field "email" {
      identity        = "email"
      data_categories = ["user.provided.identifiable.contact.email"]
    }
  }
}
`

const testPolicy = `
name: test_policy
rules:
  - name: download
    action_type: access
    data_categories:
      - user.provided.identifiable
`

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	datasets := filepath.Join(dir, "datasets.hcl")
	require.NoError(t, os.WriteFile(datasets, []byte(testDeclaration), 0o600))
	pol := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(pol, []byte(testPolicy), 0o600))
	return datasets, pol
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{})
	require.Error(t, err)

	_, err = NewConfig(Config{DatasetsPath: "x.hcl", Action: ActionAccess})
	assert.ErrorContains(t, err, "-identity")

	_, err = NewConfig(Config{DatasetsPath: "x.hcl", Action: "purge", Identities: map[string]string{"email": "x"}})
	assert.ErrorContains(t, err, "invalid action")

	cfg, err := NewConfig(Config{DatasetsPath: "x.hcl", CheckConnections: true})
	require.NoError(t, err)
	assert.True(t, cfg.CheckConnections)
}

func TestApp_AccessRun(t *testing.T) {
	datasets, pol := writeFixtures(t)
	out := &bytes.Buffer{}

	cfg, err := NewConfig(Config{
		DatasetsPath: datasets,
		PolicyPath:   pol,
		Action:       ActionAccess,
		RequestID:    "req-app",
		Identities:   map[string]string{"email": "a@example.com"},
		Connections:  map[string]string{"app_db": "memory"},
		LogFormat:    "text",
		LogLevel:     "error",
	})
	require.NoError(t, err)

	application, err := NewApp(out, cfg)
	require.NoError(t, err)
	defer application.Close()

	require.NoError(t, application.Run(context.Background()))

	var report struct {
		Status  string                      `json:"status"`
		Results map[string][]map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "complete", report.Status)
	assert.Contains(t, report.Results, "app_db:users")
}

func TestApp_FileCheckpointStoreSurvivesProcess(t *testing.T) {
	datasets, pol := writeFixtures(t)
	statePath := filepath.Join(t.TempDir(), "run-state.json")

	cfg, err := NewConfig(Config{
		DatasetsPath:   datasets,
		PolicyPath:     pol,
		Action:         ActionAccess,
		RequestID:      "req-persist",
		Identities:     map[string]string{"email": "a@example.com"},
		Connections:    map[string]string{"app_db": "memory"},
		CheckpointPath: statePath,
		LogFormat:      "text",
		LogLevel:       "error",
	})
	require.NoError(t, err)

	application, err := NewApp(&bytes.Buffer{}, cfg)
	require.NoError(t, err)
	defer application.Close()
	require.NoError(t, application.Run(context.Background()))

	// The run's cached collection outputs are on disk, where a later
	// -from-paused invocation picks them up.
	state, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Contains(t, string(state), "req-persist__access_result__app_db:users")
}

func TestNewConfig_FromPausedNeedsCheckpointPath(t *testing.T) {
	_, err := NewConfig(Config{
		DatasetsPath: "x.hcl",
		Action:       ActionAccess,
		Identities:   map[string]string{"email": "x"},
		FromPaused:   true,
	})
	assert.ErrorContains(t, err, "-checkpoints")
}

func TestApp_CheckConnections(t *testing.T) {
	datasets, _ := writeFixtures(t)
	out := &bytes.Buffer{}

	cfg, err := NewConfig(Config{
		DatasetsPath:     datasets,
		CheckConnections: true,
		Connections:      map[string]string{"app_db": "manual"},
		LogFormat:        "text",
		LogLevel:         "error",
	})
	require.NoError(t, err)

	application, err := NewApp(out, cfg)
	require.NoError(t, err)
	defer application.Close()

	require.NoError(t, application.Run(context.Background()))
	assert.Contains(t, out.String(), `"status": "ok"`)
}

func TestNewApp_MissingBinding(t *testing.T) {
	datasets, _ := writeFixtures(t)

	cfg, err := NewConfig(Config{DatasetsPath: datasets, CheckConnections: true})
	require.NoError(t, err)

	_, err = NewApp(&bytes.Buffer{}, cfg)
	assert.ErrorContains(t, err, `no -conn binding for connection key(s): app_db`)
}

func TestOpenConnector_UnsupportedTarget(t *testing.T) {
	_, _, err := openConnector("ftp://nope", nil)
	assert.ErrorContains(t, err, "unsupported connector target")
}
