package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand_CleanWorktreeReportsNothing(t *testing.T) {
	tmpDir := t.TempDir()
	storeFixture(t, tmpDir, "v1", "hello")

	status := newStatusCommand()
	var out bytes.Buffer
	status.SetOut(&out)
	status.SetArgs([]string{"--root", tmpDir, "loose:v1"})
	require.NoError(t, status.Execute())
	assert.Empty(t, out.String())
}

func TestStatusCommand_ReportsModifiedFile(t *testing.T) {
	tmpDir := t.TempDir()
	storeFixture(t, tmpDir, "v1", "hello")
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.txt"), []byte("changed"), 0o644))

	status := newStatusCommand()
	var out bytes.Buffer
	status.SetOut(&out)
	status.SetArgs([]string{"--root", tmpDir, "loose:v1"})
	require.NoError(t, status.Execute())
	assert.Contains(t, out.String(), "a.txt")
}
