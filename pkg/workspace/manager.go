// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workspace manages per-agent scratch directories and the
// content-addressed snapshots that survive into the final presentation.
//
// Layout under the session root:
//
//	workspaces/{agent}              live scratch, exclusive to the agent
//	snapshot_storage/{agent}        last non-empty snapshot
//	temp_workspaces/{agent}/{peer}  read-only symlink views of peer snapshots
//	final_workspace                 the promoted winner snapshot
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EmptySnapshotID marks a snapshot of an empty workspace.
const EmptySnapshotID = "empty"

// Manager owns all workspace filesystem operations. Live directories are
// written by agents; snapshot storage is written only through Manager.
type Manager struct {
	root   string
	logger *zap.Logger

	mu        sync.Mutex
	snapshots map[string]string // agentID -> current snapshot id
	finalPath string
}

// NewManager creates the directory layout for the given agents under root.
func NewManager(root string, agents []string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		root:      root,
		logger:    logger,
		snapshots: make(map[string]string),
	}
	for _, agent := range agents {
		for _, dir := range []string{m.LiveDir(agent), m.snapshotDir(agent)} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create workspace dir %s: %w", dir, err)
			}
		}
	}
	return m, nil
}

// LiveDir returns the agent's live scratch directory.
func (m *Manager) LiveDir(agentID string) string {
	return filepath.Join(m.root, "workspaces", agentID)
}

func (m *Manager) snapshotDir(agentID string) string {
	return filepath.Join(m.root, "snapshot_storage", agentID)
}

// FinalDir returns the promoted winner workspace path, empty until
// PromoteWinner runs.
func (m *Manager) FinalDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalPath
}

// Snapshot captures the agent's live workspace.
//
// If the live directory holds real (non-symlink) content it replaces the
// stored snapshot. An empty live directory never overwrites an existing
// non-empty snapshot: the prior snapshot is retained and its id returned.
// Snapshot ids are content-addressed, so snapshotting an unchanged
// workspace yields the same id.
func (m *Manager) Snapshot(agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.LiveDir(agentID)
	stored := m.snapshotDir(agentID)

	liveHas, err := hasRealContent(live)
	if err != nil {
		return "", fmt.Errorf("failed to inspect live workspace: %w", err)
	}

	if liveHas {
		id, err := hashDir(live)
		if err != nil {
			return "", fmt.Errorf("failed to hash workspace: %w", err)
		}
		if prev, ok := m.snapshots[agentID]; ok && prev == id {
			return id, nil
		}
		if err := replaceDir(stored, live); err != nil {
			return "", fmt.Errorf("failed to store snapshot: %w", err)
		}
		m.snapshots[agentID] = id
		m.logger.Debug("workspace snapshot stored",
			zap.String("agent_id", agentID),
			zap.String("snapshot_id", id))
		return id, nil
	}

	storedHas, err := hasRealContent(stored)
	if err != nil {
		return "", fmt.Errorf("failed to inspect snapshot storage: %w", err)
	}
	if storedHas {
		// Keep the prior snapshot as the source (empty workspaces never
		// clobber real content).
		if id, ok := m.snapshots[agentID]; ok {
			return id, nil
		}
		id, err := hashDir(stored)
		if err != nil {
			return "", fmt.Errorf("failed to hash snapshot: %w", err)
		}
		m.snapshots[agentID] = id
		return id, nil
	}

	m.snapshots[agentID] = EmptySnapshotID
	return EmptySnapshotID, nil
}

// SnapshotID returns the current snapshot id for the agent without taking
// a new snapshot.
func (m *Manager) SnapshotID(agentID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.snapshots[agentID]; ok {
		return id
	}
	return EmptySnapshotID
}

// ClearLive empties the agent's live directory before the next round. The
// directory itself stays in place so filesystem watches on it survive.
func (m *Manager) ClearLive(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.LiveDir(agentID)
	entries, err := os.ReadDir(live)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(live, 0o755)
		}
		return fmt.Errorf("failed to read live workspace: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(live, entry.Name())); err != nil {
			return fmt.Errorf("failed to clear live workspace: %w", err)
		}
	}
	return nil
}

// PeerView exposes ofAgent's snapshot to forAgent as a read-only symlink
// and returns the view path.
func (m *Manager) PeerView(forAgent, ofAgent string) (string, error) {
	viewDir := filepath.Join(m.root, "temp_workspaces", forAgent)
	if err := os.MkdirAll(viewDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create peer view dir: %w", err)
	}
	link := filepath.Join(viewDir, ofAgent)
	if _, err := os.Lstat(link); err == nil {
		return link, nil
	}
	if err := os.Symlink(m.snapshotDir(ofAgent), link); err != nil {
		return "", fmt.Errorf("failed to link peer snapshot: %w", err)
	}
	return link, nil
}

// PromoteWinner publishes the agent's snapshot as the session's final
// workspace. The copy stays readable until Cleanup, independent of any
// later snapshot or clear on the winner's directories.
func (m *Manager) PromoteWinner(agentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	final := filepath.Join(m.root, "final_workspace")
	if err := replaceDir(final, m.snapshotDir(agentID)); err != nil {
		return "", fmt.Errorf("failed to promote winner workspace: %w", err)
	}
	m.finalPath = final
	m.logger.Info("winner workspace promoted",
		zap.String("agent_id", agentID),
		zap.String("path", final))
	return final, nil
}

// Cleanup removes everything under the session root. Call only after the
// final presentation stream has ended.
func (m *Manager) Cleanup() error {
	return os.RemoveAll(m.root)
}

// ============================================================================
// Filesystem helpers
// ============================================================================

// hasRealContent reports whether dir contains at least one regular file,
// ignoring symlinks (peer views don't count as the agent's own work).
func hasRealContent(dir string) (bool, error) {
	found := false
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode().IsRegular() {
			found = true
			return io.EOF // stop walking
		}
		return nil
	})
	if err == io.EOF {
		err = nil
	}
	return found, err
}

// hashDir computes a content-addressed id: sha256 over the sorted
// (relative path, file content) pairs of all regular files.
func hashDir(dir string) (string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", rel)
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			_ = f.Close()
			return "", err
		}
		_ = f.Close()
		fmt.Fprintf(h, "\x00")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// replaceDir replaces dst with a copy of src's regular files and
// directories, skipping symlinks.
func replaceDir(dst, src string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode().IsRegular():
			return copyFile(target, path, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(dst, src string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
