// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, agents ...string) *Manager {
	t.Helper()
	if len(agents) == 0 {
		agents = []string{"alpha", "beta"}
	}
	m, err := NewManager(t.TempDir(), agents, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSnapshotEmptyWorkspace(t *testing.T) {
	m := newTestManager(t)

	id, err := m.Snapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, EmptySnapshotID, id)
	assert.Equal(t, EmptySnapshotID, m.SnapshotID("alpha"))
}

func TestSnapshotIsContentAddressed(t *testing.T) {
	m := newTestManager(t)
	writeFile(t, m.LiveDir("alpha"), "notes.md", "findings")

	id1, err := m.Snapshot("alpha")
	require.NoError(t, err)
	require.NotEqual(t, EmptySnapshotID, id1)

	// Unchanged workspace yields the same id.
	id2, err := m.Snapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Changed content yields a new id.
	writeFile(t, m.LiveDir("alpha"), "notes.md", "revised findings")
	id3, err := m.Snapshot("alpha")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestSnapshotDependsOnPathAndContent(t *testing.T) {
	m := newTestManager(t)

	writeFile(t, m.LiveDir("alpha"), "a.txt", "same")
	idAlpha, err := m.Snapshot("alpha")
	require.NoError(t, err)

	writeFile(t, m.LiveDir("beta"), "b.txt", "same")
	idBeta, err := m.Snapshot("beta")
	require.NoError(t, err)

	assert.NotEqual(t, idAlpha, idBeta)
}

func TestEmptyLiveNeverClobbersSnapshot(t *testing.T) {
	m := newTestManager(t)
	writeFile(t, m.LiveDir("alpha"), "result.go", "package result")

	id1, err := m.Snapshot("alpha")
	require.NoError(t, err)

	// Agent wipes its scratch dir; the earlier snapshot must survive.
	require.NoError(t, m.ClearLive("alpha"))
	id2, err := m.Snapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	data, err := os.ReadFile(filepath.Join(m.snapshotDir("alpha"), "result.go"))
	require.NoError(t, err)
	assert.Equal(t, "package result", string(data))
}

func TestPromoteWinner(t *testing.T) {
	m := newTestManager(t)
	writeFile(t, m.LiveDir("alpha"), "sub/answer.txt", "the work")
	_, err := m.Snapshot("alpha")
	require.NoError(t, err)

	final, err := m.PromoteWinner("alpha")
	require.NoError(t, err)
	assert.Equal(t, final, m.FinalDir())

	data, err := os.ReadFile(filepath.Join(final, "sub", "answer.txt"))
	require.NoError(t, err)
	assert.Equal(t, "the work", string(data))

	// Later snapshots must not mutate the published final workspace.
	writeFile(t, m.LiveDir("alpha"), "sub/answer.txt", "changed after election")
	_, err = m.Snapshot("alpha")
	require.NoError(t, err)

	data, err = os.ReadFile(filepath.Join(final, "sub", "answer.txt"))
	require.NoError(t, err)
	assert.Equal(t, "the work", string(data))
}

func TestPeerViewSymlink(t *testing.T) {
	m := newTestManager(t)
	writeFile(t, m.LiveDir("beta"), "idea.txt", "beta's idea")
	_, err := m.Snapshot("beta")
	require.NoError(t, err)

	link, err := m.PeerView("alpha", "beta")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(link, "idea.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta's idea", string(data))

	// Idempotent.
	again, err := m.PeerView("alpha", "beta")
	require.NoError(t, err)
	assert.Equal(t, link, again)
}

func TestSymlinksDoNotCountAsContent(t *testing.T) {
	m := newTestManager(t)

	// A peer-view symlink inside the live dir is not the agent's own work.
	writeFile(t, m.LiveDir("beta"), "real.txt", "content")
	_, err := m.Snapshot("beta")
	require.NoError(t, err)
	require.NoError(t, os.Symlink(m.snapshotDir("beta"), filepath.Join(m.LiveDir("alpha"), "peer")))

	id, err := m.Snapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, EmptySnapshotID, id)
}
