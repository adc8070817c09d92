// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the massgen runtime.
// This package breaks import cycles by providing common types that the
// backend, registry, voting, workspace, and orchestration packages depend on.
package types

import (
	"fmt"
	"time"
)

// ============================================================================
// Stream types
// ============================================================================

// ChunkKind classifies a single streamed chunk from a backend.
type ChunkKind string

const (
	// ChunkContent carries user-visible answer text.
	ChunkContent ChunkKind = "content"

	// ChunkReasoning carries model thinking text (not part of the answer).
	ChunkReasoning ChunkKind = "reasoning"

	// ChunkToolCall carries a tool invocation requested by the model.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkToolResult carries the result of an executed tool call.
	ChunkToolResult ChunkKind = "tool_result"

	// ChunkUsage carries incremental token usage.
	ChunkUsage ChunkKind = "usage"

	// ChunkDone terminates a stream with a reason.
	ChunkDone ChunkKind = "done"
)

// DoneReason explains why a backend stream ended.
type DoneReason string

const (
	DoneStop      DoneReason = "stop"
	DoneLength    DoneReason = "length"
	DoneCancelled DoneReason = "cancelled"
	DoneError     DoneReason = "error"
)

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string

	// Name is the tool name
	Name string

	// Input contains the tool parameters as decoded JSON
	Input map[string]interface{}
}

// ToolResult represents the outcome of an executed tool call.
type ToolResult struct {
	// ToolUseID matches the ToolCall.ID this result answers
	ToolUseID string

	// Content is the result payload shown back to the model
	Content string

	// IsError marks the result as an error the model should react to
	IsError bool
}

// StreamChunk is one tagged event in a backend stream.
// Exactly the field for its Kind is populated.
type StreamChunk struct {
	Kind ChunkKind

	// Text for ChunkContent and ChunkReasoning
	Text string

	// ToolCall for ChunkToolCall
	ToolCall *ToolCall

	// ToolResult for ChunkToolResult
	ToolResult *ToolResult

	// Usage for ChunkUsage
	Usage *Usage

	// Done for ChunkDone
	Done DoneReason
}

// Message represents a single turn in a conversation sent to a backend.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string

	// Content is the message text
	Content string

	// ToolCalls contains tool invocations (role assistant)
	ToolCalls []ToolCall

	// ToolUseID is the tool_use id this result corresponds to (role tool)
	ToolUseID string

	// Timestamp when the message was created
	Timestamp time.Time
}

// Usage tracks token usage and costs.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CostUSD += other.CostUSD
}

// ============================================================================
// Coordination primitives
// ============================================================================

// Terminal tool names. These are the only tools that resolve an agent's
// round; everything else is forwarded to the tool substrate.
const (
	ToolVote      = "vote"
	ToolNewAnswer = "new_answer"
)

// IsTerminalTool reports whether name is one of the coordination primitives.
func IsTerminalTool(name string) bool {
	return name == ToolVote || name == ToolNewAnswer
}

// AnswerLabel formats the "{agent}.{seq}" label for a registered answer.
func AnswerLabel(agentID string, seq int) string {
	return fmt.Sprintf("%s.%d", agentID, seq)
}

// Answer is a candidate response registered by an agent.
// Immutable once appended to the registry.
type Answer struct {
	// Label is the "{agent}.{seq}" identifier, unique per attempt
	Label string

	// AgentID is the submitting agent
	AgentID string

	// Text is the full answer text
	Text string

	// SnapshotID identifies the workspace snapshot taken at submission
	SnapshotID string

	// SubmittedAt is the registry acceptance time
	SubmittedAt time.Time

	// Attempt is the coordination attempt this answer belongs to
	Attempt int
}

// Vote records one agent's current vote. A new vote from the same agent
// replaces the previous one.
type Vote struct {
	VoterID     string
	TargetLabel string
	Reason      string
	CastAt      time.Time
}

// PeerAnswer is the payload injected into a streaming agent when a peer
// registers a new answer.
type PeerAnswer struct {
	Label   string
	AgentID string
	Text    string
}

// ============================================================================
// Agent state
// ============================================================================

// AgentStatus is the lifecycle state of one agent within an attempt.
type AgentStatus string

const (
	StatusWaiting    AgentStatus = "waiting"
	StatusStreaming  AgentStatus = "streaming"
	StatusAnswered   AgentStatus = "answered"
	StatusVoted      AgentStatus = "voted"
	StatusRestarting AgentStatus = "restarting"
	StatusError      AgentStatus = "error"
	StatusTimeout    AgentStatus = "timeout"
	StatusCompleted  AgentStatus = "completed"
)

// AgentState is the loop's view of one agent.
type AgentState struct {
	ID                string
	Status            AgentStatus
	AnswerCount       int
	LatestAnswerLabel string
	VoteCast          string
	TimesRestarted    int
	LastActivity      time.Time
	Error             string
	Usage             Usage
}

// Decided reports whether the agent needs no further action for quorum:
// it voted, failed, or timed out. Answer-cap exhaustion is evaluated by the
// tally, which also knows the registry state.
func (s AgentState) Decided() bool {
	switch s.Status {
	case StatusVoted, StatusError, StatusTimeout:
		return true
	default:
		return false
	}
}

// CoordinationPhase is the top-level phase of the loop.
type CoordinationPhase string

const (
	PhaseInitialAnswer CoordinationPhase = "initial_answer"
	PhaseEnforcement   CoordinationPhase = "enforcement"
	PhasePresentation  CoordinationPhase = "presentation"
)

// RoundKind distinguishes an agent's first round from later ones.
type RoundKind string

const (
	// RoundInitial applies while the agent has not yet produced an answer
	// or vote in this attempt.
	RoundInitial RoundKind = "initial"

	// RoundSubsequent applies once the agent has answered or voted at
	// least once, or was restarted after a late peer answer.
	RoundSubsequent RoundKind = "subsequent"
)

// ============================================================================
// Deadlines
// ============================================================================

// Deadline is a two-phase per-round deadline. A zero SoftAt disables the
// round clock entirely.
type Deadline struct {
	// SoftAt is when the wrap-up advisory fires
	SoftAt time.Time

	// HardAt is SoftAt plus the grace period; after it only terminal
	// tools are permitted
	HardAt time.Time
}

// NewDeadline builds a deadline starting at now. A non-positive soft
// duration returns the zero (disabled) deadline.
func NewDeadline(now time.Time, soft, grace time.Duration) Deadline {
	if soft <= 0 {
		return Deadline{}
	}
	softAt := now.Add(soft)
	return Deadline{SoftAt: softAt, HardAt: softAt.Add(grace)}
}

// Enabled reports whether the round clock is running.
func (d Deadline) Enabled() bool {
	return !d.SoftAt.IsZero()
}

// RemainingSoft returns the time until the soft deadline, which is negative
// once it has elapsed.
func (d Deadline) RemainingSoft(now time.Time) time.Duration {
	return d.SoftAt.Sub(now)
}

// Grace returns the configured gap between the soft and hard deadlines.
func (d Deadline) Grace() time.Duration {
	return d.HardAt.Sub(d.SoftAt)
}

// ============================================================================
// Runner results
// ============================================================================

// AgentResultKind tags the terminal outcome of one runner round.
type AgentResultKind string

const (
	// ResultAnswered means the agent registered a new answer.
	ResultAnswered AgentResultKind = "answered"

	// ResultVoted means the agent cast a vote.
	ResultVoted AgentResultKind = "voted"

	// ResultNoProgress means the stream ended without a terminal tool call.
	ResultNoProgress AgentResultKind = "no_progress"

	// ResultErrored means the agent failed permanently.
	ResultErrored AgentResultKind = "errored"

	// ResultTimedOut means the hard deadline elapsed mid-stream.
	ResultTimedOut AgentResultKind = "timed_out"
)

// AgentErrorKind classifies permanent runner failures.
type AgentErrorKind string

const (
	// ErrKindTransientExhausted means the retry budget ran out.
	ErrKindTransientExhausted AgentErrorKind = "transient_exhausted"

	// ErrKindContextLength means compression recovery failed.
	ErrKindContextLength AgentErrorKind = "context_length"

	// ErrKindFatal covers everything else.
	ErrKindFatal AgentErrorKind = "fatal"
)

// AgentResult is the terminal outcome of one runner round.
type AgentResult struct {
	Kind AgentResultKind

	// Label of the registered answer (ResultAnswered)
	Label string

	// Target label of the cast vote (ResultVoted)
	Target string

	// Reason for ResultNoProgress (e.g. "inject_skipped", "stream_ended")
	Reason string

	// ErrKind and Err for ResultErrored
	ErrKind AgentErrorKind
	Err     error
}

// String renders the result for logs.
func (r AgentResult) String() string {
	switch r.Kind {
	case ResultAnswered:
		return fmt.Sprintf("answered(%s)", r.Label)
	case ResultVoted:
		return fmt.Sprintf("voted(%s)", r.Target)
	case ResultNoProgress:
		return fmt.Sprintf("no_progress(%s)", r.Reason)
	case ResultErrored:
		return fmt.Sprintf("errored(%s: %v)", r.ErrKind, r.Err)
	case ResultTimedOut:
		return "timed_out"
	default:
		return string(r.Kind)
	}
}
