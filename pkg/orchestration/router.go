// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"time"

	"github.com/teradata-labs/massgen/pkg/types"
	"go.uber.org/zap"
)

// Router fans newly registered answers out to the agents still working.
// An agent too close to its soft deadline to absorb the injection is
// reported back for a fresh restart instead.
type Router struct {
	logger *zap.Logger
}

// NewRouter creates a router.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger}
}

// RouteAnswer offers the answer to every live runner except the author's.
// Returns the ids of agents whose runner refused the injection; the loop
// restarts those with the answer in their fresh context instead.
func (r *Router) RouteAnswer(answer types.Answer, live map[string]*Runner) []string {
	peer := types.PeerAnswer{Label: answer.Label, AgentID: answer.AgentID, Text: answer.Text}
	now := time.Now()

	var needRestart []string
	for agentID, runner := range live {
		if agentID == answer.AgentID {
			continue
		}
		if runner.Inject(peer, now) {
			r.logger.Debug("answer routed",
				zap.String("label", answer.Label),
				zap.String("to", agentID))
			continue
		}
		r.logger.Info("injection refused, scheduling restart",
			zap.String("label", answer.Label),
			zap.String("agent_id", agentID))
		needRestart = append(needRestart, agentID)
	}
	return needRestart
}
