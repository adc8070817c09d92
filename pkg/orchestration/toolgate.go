// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"github.com/teradata-labs/massgen/internal/csync"
	"github.com/teradata-labs/massgen/pkg/types"
)

// Decision is the gate's verdict on one tool call.
type Decision struct {
	Allowed bool

	// Message is returned to the agent as a tool error when blocked.
	Message string
}

// Gate blocks non-terminal tools for agents past their hard deadline.
// The coordination loop toggles it on HardElapsed events; runners consult
// it on every tool call.
type Gate struct {
	hard *csync.Map[string, struct{}]
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{hard: csync.NewMap[string, struct{}]()}
}

// MarkHardElapsed restricts the agent to terminal tools.
func (g *Gate) MarkHardElapsed(agentID string) {
	g.hard.Set(agentID, struct{}{})
}

// Reset reopens the gate for an agent (new round or new attempt).
func (g *Gate) Reset(agentID string) {
	g.hard.Delete(agentID)
}

// ResetAll reopens the gate for everyone.
func (g *Gate) ResetAll() {
	g.hard.Clear()
}

// HardElapsed reports whether the agent is restricted.
func (g *Gate) HardElapsed(agentID string) bool {
	_, ok := g.hard.Get(agentID)
	return ok
}

// Allow decides whether agentID may call toolName right now. Terminal
// tools always pass.
func (g *Gate) Allow(toolName, agentID string) Decision {
	if types.IsTerminalTool(toolName) {
		return Decision{Allowed: true}
	}
	if g.HardElapsed(agentID) {
		return Decision{Message: "Your round deadline has passed. Submit now: call vote to support an existing answer or new_answer to submit your own. No other tools are available."}
	}
	return Decision{Allowed: true}
}
