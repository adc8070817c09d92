// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package voting implements the vote tally: one replaceable vote per agent,
// winner election with a deterministic FIFO tie-break, and the quorum check.
package voting

import (
	"sync"
	"time"

	"github.com/teradata-labs/massgen/pkg/types"
	"go.uber.org/zap"
)

// RegistryView is the answer-registry surface the tally consults.
type RegistryView interface {
	// Has reports whether a label exists.
	Has(label string) bool

	// IndexOf returns the acceptance index of a label (FIFO tie-break).
	IndexOf(label string) (int, bool)

	// CapReached reports whether the agent may submit no further answers.
	CapReached(agentID string) bool
}

// CastResult is the outcome of a castOrReplace.
type CastResult struct {
	OK bool

	// Reason is set when rejected; currently only "unknown_label".
	Reason string
}

// Leader describes the current election front-runner.
type Leader struct {
	Label string
	Count int
	Tied  bool
}

// Tally records the current vote of every agent for one attempt.
type Tally struct {
	mu    sync.RWMutex
	votes map[string]types.Vote // voterID -> current vote

	reg    RegistryView
	logger *zap.Logger
}

// New creates an empty tally backed by the given registry view.
func New(reg RegistryView, logger *zap.Logger) *Tally {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tally{
		votes:  make(map[string]types.Vote),
		reg:    reg,
		logger: logger,
	}
}

// Reset clears all votes for a new attempt.
func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.votes = make(map[string]types.Vote)
}

// CastOrReplace records voterID's vote for targetLabel, replacing any
// previous vote by the same agent. Votes for unknown labels are rejected.
// Replaying the same (voter, target) pair is idempotent.
func (t *Tally) CastOrReplace(voterID, targetLabel, reason string) CastResult {
	if !t.reg.Has(targetLabel) {
		t.logger.Debug("vote rejected: unknown label",
			zap.String("voter_id", voterID),
			zap.String("target", targetLabel))
		return CastResult{Reason: "unknown_label"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev, replaced := t.votes[voterID]
	t.votes[voterID] = types.Vote{
		VoterID:     voterID,
		TargetLabel: targetLabel,
		Reason:      reason,
		CastAt:      time.Now(),
	}

	if replaced && prev.TargetLabel != targetLabel {
		t.logger.Info("vote replaced",
			zap.String("voter_id", voterID),
			zap.String("previous", prev.TargetLabel),
			zap.String("target", targetLabel))
	} else {
		t.logger.Info("vote cast",
			zap.String("voter_id", voterID),
			zap.String("target", targetLabel))
	}
	return CastResult{OK: true}
}

// Vote returns the current vote of an agent, if any.
func (t *Tally) Vote(voterID string) (types.Vote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.votes[voterID]
	return v, ok
}

// Votes returns a copy of every current vote.
func (t *Tally) Votes() []types.Vote {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Vote, 0, len(t.votes))
	for _, v := range t.votes {
		out = append(out, v)
	}
	return out
}

// Counts returns current vote counts per label.
func (t *Tally) Counts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[string]int)
	for _, v := range t.votes {
		counts[v.TargetLabel]++
	}
	return counts
}

// Leader elects the label with the strict maximum vote count. On a tie the
// Tied flag is set and the earliest-registered tied label wins, so the
// election is deterministic for a given event log.
func (t *Tally) Leader() (Leader, bool) {
	counts := t.Counts()
	if len(counts) == 0 {
		return Leader{}, false
	}

	best := Leader{Count: -1}
	bestIdx := -1
	for label, count := range counts {
		idx, ok := t.reg.IndexOf(label)
		if !ok {
			continue
		}
		switch {
		case count > best.Count:
			best = Leader{Label: label, Count: count}
			bestIdx = idx
		case count == best.Count:
			best.Tied = true
			if idx < bestIdx {
				best.Label = label
				bestIdx = idx
			}
		}
	}
	if bestIdx < 0 {
		return Leader{}, false
	}
	return best, true
}

// AllParticipantsDecided reports quorum: every active agent has either
// voted this attempt or can no longer submit (answer cap reached).
func (t *Tally) AllParticipantsDecided(activeAgents []string) bool {
	if len(activeAgents) == 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range activeAgents {
		if _, voted := t.votes[id]; voted {
			continue
		}
		if t.reg.CapReached(id) {
			continue
		}
		return false
	}
	return true
}
