// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package status periodically publishes a machine-readable snapshot of the
// coordination state to status.json. The file is the only contract for
// external monitors; writes are atomic (temp file + rename).
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/teradata-labs/massgen/pkg/types"
	"go.uber.org/zap"
)

// PreviewLength bounds the final-answer excerpt in the results section.
const PreviewLength = 200

// Meta describes the session.
type Meta struct {
	SessionID      string      `json:"session_id"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	TotalUsage     types.Usage `json:"total_usage"`
}

// Coordination describes the loop's current phase.
type Coordination struct {
	Phase               types.CoordinationPhase `json:"phase"`
	ActiveAgent         string                  `json:"active_agent,omitempty"`
	Attempt             int                     `json:"attempt"`
	IsFinalPresentation bool                    `json:"is_final_presentation"`
}

// AgentStatus is the per-agent subset exposed to monitors.
type AgentStatus struct {
	Status         types.AgentStatus `json:"status"`
	AnswerCount    int               `json:"answer_count"`
	LatestAnswer   string            `json:"latest_answer,omitempty"`
	VoteCast       string            `json:"vote_cast,omitempty"`
	TimesRestarted int               `json:"times_restarted"`
	LastActivity   *time.Time        `json:"last_activity,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Results carries vote counts and the (possibly null) winner.
type Results struct {
	Votes              map[string]int `json:"votes"`
	Winner             *string        `json:"winner"`
	FinalAnswerPreview string         `json:"final_answer_preview,omitempty"`
}

// Snapshot is the full status.json document.
type Snapshot struct {
	Meta         Meta                   `json:"meta"`
	Coordination Coordination           `json:"coordination"`
	Agents       map[string]AgentStatus `json:"agents"`
	Results      Results                `json:"results"`
}

// Source supplies the current snapshot. Implementations must be safe for
// concurrent use; the snapshotter reads on its own goroutine.
type Source interface {
	StatusSnapshot() Snapshot
}

// Snapshotter writes periodic snapshots plus one final snapshot on Stop.
type Snapshotter struct {
	path     string
	interval time.Duration
	source   Source
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSnapshotter creates a snapshotter writing to dir/status.json.
func NewSnapshotter(dir string, interval time.Duration, source Source, logger *zap.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		path:     filepath.Join(dir, "status.json"),
		interval: interval,
		source:   source,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Path returns the status file location.
func (s *Snapshotter) Path() string { return s.path }

// Start begins periodic writes until Stop.
func (s *Snapshotter) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.WriteNow(); err != nil {
					s.logger.Warn("status snapshot failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts periodic writes and flushes one final snapshot.
func (s *Snapshotter) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if err := s.WriteNow(); err != nil {
			s.logger.Warn("final status snapshot failed", zap.Error(err))
		}
	})
}

// WriteNow writes one snapshot atomically.
func (s *Snapshotter) WriteNow() error {
	snap := s.source.StatusSnapshot()
	if snap.Agents == nil {
		snap.Agents = make(map[string]AgentStatus)
	}
	if snap.Results.Votes == nil {
		snap.Results.Votes = make(map[string]int)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".status-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// TruncatePreview clips text to the preview budget, never splitting a
// multi-byte rune.
func TruncatePreview(text string) string {
	if len(text) <= PreviewLength {
		return text
	}
	cut := PreviewLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
