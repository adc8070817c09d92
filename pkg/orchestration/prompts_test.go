// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/teradata-labs/massgen/pkg/config"
	"github.com/teradata-labs/massgen/pkg/types"
)

func TestCoordinationSystemPrompt(t *testing.T) {
	peers := []types.PeerAnswer{
		{Label: "beta.1", AgentID: "beta", Text: "use a cache"},
	}
	prompt := coordinationSystemPrompt("alpha", config.SensitivityStrict, peers, "")

	assert.Contains(t, prompt, "new_answer")
	assert.Contains(t, prompt, "vote")
	assert.Contains(t, prompt, "strict")
	assert.Contains(t, prompt, "beta.1")
	assert.Contains(t, prompt, "use a cache")
	assert.Contains(t, prompt, "agent alpha")
	assert.NotContains(t, prompt, "discarded")
}

func TestCoordinationSystemPromptWithRestartGuidance(t *testing.T) {
	prompt := coordinationSystemPrompt("alpha", config.SensitivityBalanced, nil, "The answer missed the second question.")
	assert.Contains(t, prompt, "discarded")
	assert.Contains(t, prompt, "missed the second question")
}

func TestSensitivityGuidanceVariants(t *testing.T) {
	lenient := sensitivityGuidance(config.SensitivityLenient)
	balanced := sensitivityGuidance(config.SensitivityBalanced)
	strict := sensitivityGuidance(config.SensitivityStrict)

	assert.NotEqual(t, lenient, balanced)
	assert.NotEqual(t, balanced, strict)
	assert.Contains(t, lenient, "lenient")
	assert.Contains(t, strict, "strict")
}

func TestInjectionNotification(t *testing.T) {
	n := injectionNotification(types.PeerAnswer{Label: "beta.2", AgentID: "beta", Text: "try quicksort"})
	assert.Contains(t, n, "beta.2")
	assert.Contains(t, n, "try quicksort")
	assert.Contains(t, n, "vote")
}

func TestParsePostEvaluation(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantRestart bool
		wantReason  string
	}{
		{
			name:        "approve",
			reply:       "DECISION: approve\nREASON: solid answer",
			wantRestart: false,
		},
		{
			name:        "restart",
			reply:       "DECISION: restart\nREASON: ignored half the task",
			wantRestart: true,
			wantReason:  "ignored half the task",
		},
		{
			name:        "case insensitive",
			reply:       "decision: Restart\nreason: wrong output format",
			wantRestart: true,
			wantReason:  "wrong output format",
		},
		{
			name:        "garbage counts as approval",
			reply:       "I think the answer is great!",
			wantRestart: false,
		},
		{
			name:        "empty reply",
			reply:       "",
			wantRestart: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restart, reason := parsePostEvaluation(tt.reply)
			assert.Equal(t, tt.wantRestart, restart)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
