// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"sync"
	"time"

	"github.com/teradata-labs/massgen/pkg/types"
	"go.uber.org/zap"
)

// TimeoutConfig carries the clock budgets for one coordination attempt.
// Zero values disable the corresponding clock.
type TimeoutConfig struct {
	Global     time.Duration
	Initial    time.Duration
	Subsequent time.Duration
	Grace      time.Duration
}

// roundTimers holds the pending soft/hard timers for one agent's round.
type roundTimers struct {
	soft *time.Timer
	hard *time.Timer
}

// TimeoutController schedules the global budget and per-agent round
// deadlines, emitting elapsed events into the coordination loop. It never
// cancels anything itself; the loop decides what a deadline means.
type TimeoutController struct {
	cfg    TimeoutConfig
	events chan<- Event
	logger *zap.Logger

	mu     sync.Mutex
	rounds map[string]*roundTimers
	global *time.Timer

	// done gates event emission after the loop stops consuming.
	done chan struct{}
}

// NewTimeoutController creates a controller feeding the given event queue.
func NewTimeoutController(cfg TimeoutConfig, events chan<- Event, logger *zap.Logger) *TimeoutController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeoutController{
		cfg:    cfg,
		events: events,
		logger: logger,
		rounds: make(map[string]*roundTimers),
		done:   make(chan struct{}),
	}
}

// StartGlobal arms the whole-session budget. No-op when disabled.
func (t *TimeoutController) StartGlobal() {
	if t.cfg.Global <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = time.AfterFunc(t.cfg.Global, func() {
		t.emit(Event{Kind: EventGlobalElapsed, At: time.Now()})
	})
}

// BeginRound computes the agent's deadline for a round of the given kind
// and arms its soft and hard timers. A disabled round clock yields a zero
// deadline and no timers.
func (t *TimeoutController) BeginRound(agentID string, kind types.RoundKind) types.Deadline {
	soft := t.cfg.Initial
	if kind == types.RoundSubsequent {
		soft = t.cfg.Subsequent
	}
	deadline := types.NewDeadline(time.Now(), soft, t.cfg.Grace)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopRoundLocked(agentID)
	if !deadline.Enabled() {
		return deadline
	}

	rt := &roundTimers{}
	rt.soft = time.AfterFunc(time.Until(deadline.SoftAt), func() {
		t.emit(Event{Kind: EventSoftElapsed, AgentID: agentID, At: time.Now()})
	})
	rt.hard = time.AfterFunc(time.Until(deadline.HardAt), func() {
		t.emit(Event{Kind: EventHardElapsed, AgentID: agentID, At: time.Now()})
	})
	t.rounds[agentID] = rt

	t.logger.Debug("round deadline armed",
		zap.String("agent_id", agentID),
		zap.String("kind", string(kind)),
		zap.Time("soft_at", deadline.SoftAt),
		zap.Time("hard_at", deadline.HardAt))
	return deadline
}

// EndRound disarms the agent's pending round timers.
func (t *TimeoutController) EndRound(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopRoundLocked(agentID)
}

func (t *TimeoutController) stopRoundLocked(agentID string) {
	if rt, ok := t.rounds[agentID]; ok {
		rt.soft.Stop()
		rt.hard.Stop()
		delete(t.rounds, agentID)
	}
}

// Stop disarms every timer and stops event emission. Safe to call more
// than once only if callers serialize; the loop calls it exactly once.
func (t *TimeoutController) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	close(t.done)
	if t.global != nil {
		t.global.Stop()
		t.global = nil
	}
	for agentID := range t.rounds {
		t.stopRoundLocked(agentID)
	}
}

// emit delivers an event unless the controller has been stopped. Timer
// callbacks run on their own goroutines, so a blocking send is fine while
// the loop is draining.
func (t *TimeoutController) emit(ev Event) {
	select {
	case <-t.done:
	case t.events <- ev:
	}
}
