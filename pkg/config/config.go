// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config defines the coordination configuration surface and its
// YAML loader. CLI and environment layering happen in cmd; the runtime only
// ever sees a validated Config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/teradata-labs/massgen/pkg/registry"
	"gopkg.in/yaml.v3"
)

// Sensitivity tunes how picky agents are told to be when voting. It only
// changes the system instructions shown to agents; the loop does not
// enforce it.
type Sensitivity string

const (
	SensitivityLenient  Sensitivity = "lenient"
	SensitivityBalanced Sensitivity = "balanced"
	SensitivityStrict   Sensitivity = "strict"
)

// AgentConfig declares one participating agent.
type AgentConfig struct {
	// ID is the agent's unique identifier within the run.
	ID string `yaml:"id"`

	// Backend selects the adapter ("anthropic" or "scripted").
	Backend string `yaml:"backend"`

	// Model overrides the adapter's default model.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// MaxTokens and Temperature are per-turn sampling parameters.
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// Config is the full coordination configuration.
type Config struct {
	Agents []AgentConfig `yaml:"agents"`

	// VotingSensitivity ∈ {lenient, balanced, strict}; default balanced.
	VotingSensitivity Sensitivity `yaml:"voting_sensitivity,omitempty"`

	// MaxNewAnswersPerAgent caps answers per agent; nil means unlimited,
	// zero forbids new answers entirely.
	MaxNewAnswersPerAgent *int `yaml:"max_new_answers_per_agent,omitempty"`

	// AnswerNoveltyRequirement ∈ {lenient, balanced, strict}; default
	// lenient (check disabled).
	AnswerNoveltyRequirement registry.NoveltyLevel `yaml:"answer_novelty_requirement,omitempty"`

	// OrchestratorTimeoutSeconds is the absolute budget for the whole
	// coordination; nil disables it.
	OrchestratorTimeoutSeconds *int `yaml:"orchestrator_timeout_seconds,omitempty"`

	// Per-round soft deadlines; nil disables the round clock.
	InitialRoundTimeoutSeconds    *int `yaml:"initial_round_timeout_seconds,omitempty"`
	SubsequentRoundTimeoutSeconds *int `yaml:"subsequent_round_timeout_seconds,omitempty"`

	// RoundTimeoutGraceSeconds separates the soft and hard deadlines.
	RoundTimeoutGraceSeconds *int `yaml:"round_timeout_grace_seconds,omitempty"`

	// MaxOrchestrationRestarts bounds post-evaluation restarts.
	MaxOrchestrationRestarts int `yaml:"max_orchestration_restarts,omitempty"`

	// SessionDir is where workspaces and status.json live; default is a
	// temp directory chosen at startup.
	SessionDir string `yaml:"session_dir,omitempty"`

	// StatusIntervalSeconds controls status.json cadence; default 2.
	StatusIntervalSeconds int `yaml:"status_interval_seconds,omitempty"`
}

// LoadFile reads and validates a YAML config.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.VotingSensitivity == "" {
		c.VotingSensitivity = SensitivityBalanced
	}
	if c.AnswerNoveltyRequirement == "" {
		c.AnswerNoveltyRequirement = registry.NoveltyLenient
	}
	if c.StatusIntervalSeconds <= 0 {
		c.StatusIntervalSeconds = 2
	}
}

// Validate checks structural invariants the runtime depends on.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: missing id", i)
		}
		if _, dup := seen[agent.ID]; dup {
			return fmt.Errorf("duplicate agent id: %s", agent.ID)
		}
		seen[agent.ID] = struct{}{}
		if agent.Backend == "" {
			return fmt.Errorf("agent %s: missing backend", agent.ID)
		}
	}

	switch c.VotingSensitivity {
	case SensitivityLenient, SensitivityBalanced, SensitivityStrict:
	default:
		return fmt.Errorf("invalid voting_sensitivity: %s", c.VotingSensitivity)
	}

	switch c.AnswerNoveltyRequirement {
	case registry.NoveltyLenient, registry.NoveltyBalanced, registry.NoveltyStrict:
	default:
		return fmt.Errorf("invalid answer_novelty_requirement: %s", c.AnswerNoveltyRequirement)
	}

	if c.MaxNewAnswersPerAgent != nil && *c.MaxNewAnswersPerAgent < 0 {
		return fmt.Errorf("max_new_answers_per_agent must be >= 0")
	}
	if c.MaxOrchestrationRestarts < 0 {
		return fmt.Errorf("max_orchestration_restarts must be >= 0")
	}
	for name, v := range map[string]*int{
		"orchestrator_timeout_seconds":     c.OrchestratorTimeoutSeconds,
		"initial_round_timeout_seconds":    c.InitialRoundTimeoutSeconds,
		"subsequent_round_timeout_seconds": c.SubsequentRoundTimeoutSeconds,
		"round_timeout_grace_seconds":      c.RoundTimeoutGraceSeconds,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	return nil
}

// AnswerCap translates the optional cap into the registry's convention.
func (c *Config) AnswerCap() int {
	if c.MaxNewAnswersPerAgent == nil {
		return registry.UnlimitedAnswers
	}
	return *c.MaxNewAnswersPerAgent
}

// GlobalTimeout returns the orchestrator budget, or 0 when disabled.
func (c *Config) GlobalTimeout() time.Duration {
	return secondsOrZero(c.OrchestratorTimeoutSeconds)
}

// InitialRoundTimeout returns the first-round soft budget, or 0 when
// disabled.
func (c *Config) InitialRoundTimeout() time.Duration {
	return secondsOrZero(c.InitialRoundTimeoutSeconds)
}

// SubsequentRoundTimeout returns the later-round soft budget, or 0 when
// disabled.
func (c *Config) SubsequentRoundTimeout() time.Duration {
	return secondsOrZero(c.SubsequentRoundTimeoutSeconds)
}

// Grace returns the soft-to-hard gap.
func (c *Config) Grace() time.Duration {
	return secondsOrZero(c.RoundTimeoutGraceSeconds)
}

// StatusInterval returns the status.json cadence.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}

// AgentIDs returns the configured agent ids in declaration order.
func (c *Config) AgentIDs() []string {
	ids := make([]string, len(c.Agents))
	for i, a := range c.Agents {
		ids[i] = a.ID
	}
	return ids
}

func secondsOrZero(v *int) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v) * time.Second
}
