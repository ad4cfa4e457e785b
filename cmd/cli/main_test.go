package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/steloinfra/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestRun_LoadError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	invalidHCL := `
		app "stelo-web" {
			tags = {
		// Missing closing braces here
	`
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "app.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600), "failed to set up test file")

	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(context.Background(), out, []string{"lint", filePath})

	// --- Assert ---
	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "failed to load descriptors")
	require.Contains(t, runErr.Error(), "failed to parse HCL file")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")

	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}

func TestRun_PublishDryRunWithoutAssets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"publish", "-dry-run", "-out", dir})

	require.NoError(t, err)
	require.Contains(t, out.String(), "No asset manifests found")
}
