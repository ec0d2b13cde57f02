package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_MissingDatasets(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"-identity", "email=a@example.com", "does-not-exist.hcl"})

	require.Error(t, err)
	require.Contains(t, err.Error(), "loading datasets")
}
