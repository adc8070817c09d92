// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/massgen/pkg/registry"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
agents:
  - id: alpha
    backend: anthropic
  - id: beta
    backend: anthropic
`))
	require.NoError(t, err)

	assert.Equal(t, SensitivityBalanced, cfg.VotingSensitivity)
	assert.Equal(t, registry.NoveltyLenient, cfg.AnswerNoveltyRequirement)
	assert.Equal(t, registry.UnlimitedAnswers, cfg.AnswerCap())
	assert.Equal(t, time.Duration(0), cfg.GlobalTimeout())
	assert.Equal(t, time.Duration(0), cfg.InitialRoundTimeout())
	assert.Equal(t, 2*time.Second, cfg.StatusInterval())
	assert.Equal(t, []string{"alpha", "beta"}, cfg.AgentIDs())
}

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
agents:
  - id: alpha
    backend: anthropic
    model: claude-sonnet-4-20250514
    api_key_env: ALPHA_KEY
    max_tokens: 8192
    temperature: 0.3
voting_sensitivity: strict
max_new_answers_per_agent: 2
answer_novelty_requirement: balanced
orchestrator_timeout_seconds: 1800
initial_round_timeout_seconds: 300
subsequent_round_timeout_seconds: 120
round_timeout_grace_seconds: 30
max_orchestration_restarts: 1
status_interval_seconds: 5
`))
	require.NoError(t, err)

	assert.Equal(t, SensitivityStrict, cfg.VotingSensitivity)
	assert.Equal(t, 2, cfg.AnswerCap())
	assert.Equal(t, registry.NoveltyBalanced, cfg.AnswerNoveltyRequirement)
	assert.Equal(t, 30*time.Minute, cfg.GlobalTimeout())
	assert.Equal(t, 5*time.Minute, cfg.InitialRoundTimeout())
	assert.Equal(t, 2*time.Minute, cfg.SubsequentRoundTimeout())
	assert.Equal(t, 30*time.Second, cfg.Grace())
	assert.Equal(t, 1, cfg.MaxOrchestrationRestarts)
	assert.Equal(t, 5*time.Second, cfg.StatusInterval())

	agent := cfg.Agents[0]
	assert.Equal(t, "ALPHA_KEY", agent.APIKeyEnv)
	assert.Equal(t, 8192, agent.MaxTokens)
	assert.InDelta(t, 0.3, agent.Temperature, 1e-9)
}

func TestZeroCapMeansNoNewAnswers(t *testing.T) {
	cfg, err := Parse([]byte(`
agents:
  - id: alpha
    backend: anthropic
max_new_answers_per_agent: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.AnswerCap())
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no agents",
			yaml:    `agents: []`,
			wantErr: "no agents",
		},
		{
			name: "missing id",
			yaml: `
agents:
  - backend: anthropic
`,
			wantErr: "missing id",
		},
		{
			name: "duplicate id",
			yaml: `
agents:
  - id: alpha
    backend: anthropic
  - id: alpha
    backend: anthropic
`,
			wantErr: "duplicate agent id",
		},
		{
			name: "missing backend",
			yaml: `
agents:
  - id: alpha
`,
			wantErr: "missing backend",
		},
		{
			name: "bad sensitivity",
			yaml: `
agents:
  - id: alpha
    backend: anthropic
voting_sensitivity: aggressive
`,
			wantErr: "invalid voting_sensitivity",
		},
		{
			name: "bad novelty",
			yaml: `
agents:
  - id: alpha
    backend: anthropic
answer_novelty_requirement: extreme
`,
			wantErr: "invalid answer_novelty_requirement",
		},
		{
			name: "negative cap",
			yaml: `
agents:
  - id: alpha
    backend: anthropic
max_new_answers_per_agent: -1
`,
			wantErr: "max_new_answers_per_agent",
		},
		{
			name: "negative timeout",
			yaml: `
agents:
  - id: alpha
    backend: anthropic
orchestrator_timeout_seconds: -5
`,
			wantErr: "orchestrator_timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
