package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/privacyrun/subjectgrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// keyValueFlag collects repeated `-flag key=value` pairs.
type keyValueFlag map[string]string

func (f keyValueFlag) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f keyValueFlag) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	f[key] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("subjectgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
subjectgrid - a privacy-request engine over declared dataset graphs.

Usage:
  subjectgrid [options] [DATASETS_PATH]

Arguments:
  DATASETS_PATH
    Path to a single .hcl dataset file or a directory containing them.

Options:
`)
		flagSet.PrintDefaults()
	}

	datasetsFlag := flagSet.String("datasets", "", "Path to the dataset file or directory.")
	policyFlag := flagSet.String("policy", "", "Path to the YAML execution policy.")
	actionFlag := flagSet.String("action", "access", "Request action. Options: 'access' or 'erasure'.")
	requestIDFlag := flagSet.String("request-id", "", "Privacy request id. Empty generates one.")
	identities := make(keyValueFlag)
	flagSet.Var(identities, "identity", "Seed identity as key=value. Repeatable.")
	connections := make(keyValueFlag)
	flagSet.Var(connections, "conn", "Connection binding as key=target. Repeatable. Targets: 'manual', 'memory', a postgres:// DSN, or an http(s):// webhook base URL.")
	checkFlag := flagSet.Bool("check-connections", false, "Test every bound connection and exit.")
	fromPausedFlag := flagSet.Bool("from-paused", false, "Resume a previously paused request from the -checkpoints file.")
	checkpointsFlag := flagSet.String("checkpoints", "", "File persisting run state across invocations. In-memory when empty.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent workers for the engine.")
	nodeTimeoutFlag := flagSet.Duration("node-timeout", 0, "Per-collection connector call timeout. 0 disables it.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	path := *datasetsFlag
	if path == "" && flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if path == "" {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	config, err := app.NewConfig(app.Config{
		DatasetsPath:     path,
		PolicyPath:       *policyFlag,
		Action:           strings.ToLower(*actionFlag),
		RequestID:        *requestIDFlag,
		Identities:       identities,
		Connections:      connections,
		CheckConnections: *checkFlag,
		FromPaused:       *fromPausedFlag,
		CheckpointPath:   *checkpointsFlag,
		LogFormat:        logFormat,
		LogLevel:         logLevel,
		Workers:          *workersFlag,
		NodeTimeout:      *nodeTimeoutFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return config, false, nil
}
