// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package registry implements the append-only answer store for one
// coordination attempt: label assignment, per-agent caps, and novelty
// checking.
package registry

import (
	"sync"
	"time"

	"github.com/teradata-labs/massgen/internal/pubsub"
	"github.com/teradata-labs/massgen/pkg/types"
	"go.uber.org/zap"
)

// UnlimitedAnswers disables the per-agent answer cap.
const UnlimitedAnswers = -1

// TopicAnswerRegistered is the broker topic for acceptance events.
const TopicAnswerRegistered = "answer_registered"

// RejectReason explains a rejected submission.
type RejectReason string

const (
	// RejectCapExceeded means the agent already used its answer budget.
	RejectCapExceeded RejectReason = "cap_exceeded"

	// RejectInsufficientNovelty means the answer is too close to an
	// existing one.
	RejectInsufficientNovelty RejectReason = "insufficient_novelty"
)

// Outcome is the result of a Submit call.
type Outcome struct {
	Accepted bool

	// Label of the accepted answer
	Label string

	// Reason when rejected
	Reason RejectReason

	// Conflict names the existing label that blocked a novelty-rejected
	// submission, so the agent can iterate or vote for it.
	Conflict string
}

// Snapshotter captures an agent's workspace at answer acceptance.
// Implemented by workspace.Manager.
type Snapshotter interface {
	Snapshot(agentID string) (string, error)
}

// Config configures the registry.
type Config struct {
	// MaxAnswersPerAgent caps submissions per agent; UnlimitedAnswers
	// disables the cap and 0 forbids new answers entirely.
	MaxAnswersPerAgent int

	// Novelty is the similarity constraint applied across all agents.
	Novelty NoveltyLevel
}

// Registry is the append-only ordered store of answers for one attempt.
// All mutations serialize through its mutex; acceptance order is the
// tie-break order for elections.
type Registry struct {
	mu      sync.RWMutex
	answers []types.Answer
	byLabel map[string]int
	counts  map[string]int
	attempt int

	cfg    Config
	snap   Snapshotter
	broker *pubsub.Broker[types.Answer]
	logger *zap.Logger
}

// New creates a registry for attempt 1.
func New(cfg Config, snap Snapshotter, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byLabel: make(map[string]int),
		counts:  make(map[string]int),
		attempt: 1,
		cfg:     cfg,
		snap:    snap,
		broker:  pubsub.NewBroker[types.Answer](),
		logger:  logger,
	}
}

// Reset clears all per-attempt state and moves to the given attempt.
// Subscribers stay attached.
func (r *Registry) Reset(attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = nil
	r.byLabel = make(map[string]int)
	r.counts = make(map[string]int)
	r.attempt = attempt
}

// Submit appends a new answer for agentID, enforcing cap and novelty.
// On acceptance the agent's workspace is snapshotted and an
// answer_registered event is broadcast; subscribers observe answers in
// acceptance order.
func (r *Registry) Submit(agentID, text string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxAnswersPerAgent != UnlimitedAnswers && r.counts[agentID] >= r.cfg.MaxAnswersPerAgent {
		r.logger.Debug("answer rejected: cap exceeded",
			zap.String("agent_id", agentID),
			zap.Int("cap", r.cfg.MaxAnswersPerAgent))
		return Outcome{Reason: RejectCapExceeded}
	}

	if r.cfg.Novelty.Enabled() {
		threshold := r.cfg.Novelty.Threshold()
		for _, existing := range r.answers {
			if overlap := Overlap(text, existing.Text); overlap > threshold {
				r.logger.Debug("answer rejected: insufficient novelty",
					zap.String("agent_id", agentID),
					zap.String("conflict", existing.Label),
					zap.Float64("overlap", overlap),
					zap.Float64("threshold", threshold))
				return Outcome{Reason: RejectInsufficientNovelty, Conflict: existing.Label}
			}
		}
	}

	var snapshotID string
	if r.snap != nil {
		id, err := r.snap.Snapshot(agentID)
		if err != nil {
			// Workspace I/O is never fatal to coordination; the answer
			// is registered without a snapshot.
			r.logger.Warn("workspace snapshot failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
		} else {
			snapshotID = id
		}
	}

	seq := r.counts[agentID] + 1
	answer := types.Answer{
		Label:       types.AnswerLabel(agentID, seq),
		AgentID:     agentID,
		Text:        text,
		SnapshotID:  snapshotID,
		SubmittedAt: time.Now(),
		Attempt:     r.attempt,
	}
	r.byLabel[answer.Label] = len(r.answers)
	r.answers = append(r.answers, answer)
	r.counts[agentID] = seq

	r.logger.Info("answer registered",
		zap.String("label", answer.Label),
		zap.String("agent_id", agentID),
		zap.Int("total_answers", len(r.answers)))

	// Publish while holding the lock so subscribers see acceptance order.
	r.broker.Publish(TopicAnswerRegistered, answer)

	return Outcome{Accepted: true, Label: answer.Label}
}

// List returns all answers in acceptance order.
func (r *Registry) List() []types.Answer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Answer, len(r.answers))
	copy(out, r.answers)
	return out
}

// Get looks an answer up by label.
func (r *Registry) Get(label string) (types.Answer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byLabel[label]
	if !ok {
		return types.Answer{}, false
	}
	return r.answers[idx], true
}

// IndexOf returns the acceptance index of a label. The index is the
// deterministic FIFO tie-break order for elections.
func (r *Registry) IndexOf(label string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byLabel[label]
	return idx, ok
}

// Has reports whether the label exists.
func (r *Registry) Has(label string) bool {
	_, ok := r.Get(label)
	return ok
}

// Count returns how many answers agentID has registered this attempt.
func (r *Registry) Count(agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[agentID]
}

// CapReached reports whether agentID may submit no further answers.
func (r *Registry) CapReached(agentID string) bool {
	if r.cfg.MaxAnswersPerAgent == UnlimitedAnswers {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[agentID] >= r.cfg.MaxAnswersPerAgent
}

// Len returns the total number of registered answers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.answers)
}

// Subscribe registers for answer_registered events. Buffer generously:
// publishing never blocks and overflow is dropped.
func (r *Registry) Subscribe(buffer int) (<-chan pubsub.Event[types.Answer], func()) {
	return r.broker.Subscribe(buffer)
}

// Close shuts down the event broker.
func (r *Registry) Close() {
	r.broker.Close()
}
