package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoosenCommand_DuplicateTagInLooseFails(t *testing.T) {
	tmpDir := t.TempDir()
	storeFixture(t, tmpDir, "v1", "hello")

	pack := newPackCommand()
	pack.SetArgs([]string{"--root", tmpDir, "archive"})
	require.NoError(t, pack.Execute())

	// Loosening merges archive's snapshots back into the loose index,
	// which still carries v1 from the store above: the tags collide.
	loosen := newLoosenCommand()
	loosen.SetArgs([]string{"--root", tmpDir, "archive"})
	assert.Error(t, loosen.Execute())
}

func TestLoosenCommand_UnknownPackFails(t *testing.T) {
	tmpDir := t.TempDir()
	storeFixture(t, tmpDir, "v1", "hello")

	loosen := newLoosenCommand()
	loosen.SetArgs([]string{"--root", tmpDir, "does-not-exist"})
	assert.Error(t, loosen.Execute())
}
