// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/registry"
	"github.com/teradata-labs/massgen/pkg/types"
	"github.com/teradata-labs/massgen/pkg/voting"
	"go.uber.org/zap"
)

// RunnerConfig tunes one agent runner.
type RunnerConfig struct {
	// Retry budget for backend call failures.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MailboxSize bounds pending peer-answer injections.
	MailboxSize int

	// ContextBudget is the token budget a compacted conversation must fit.
	ContextBudget int

	// Params are per-turn sampling parameters.
	Params backend.Params
}

func (c *RunnerConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = 16
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 150_000
	}
}

// maxPostHardTurns bounds how many turns an agent gets after its hard
// deadline before the round is declared timed out. One turn lets the model
// react to a blocked tool call with a vote.
const maxPostHardTurns = 2

// Runner drives one agent's conversation for one round: streaming turns,
// substrate tool execution, peer-answer injections at turn boundaries, and
// the terminal vote/new_answer tools. A Runner is used for a single Run
// call; the coordinator creates a fresh one per round.
type Runner struct {
	agentID string
	backend backend.Backend
	cfg     RunnerConfig

	reg    *registry.Registry
	tally  *voting.Tally
	gate   *Gate
	tools  ToolExecutor
	sink   UISink
	events chan<- Event
	logger *zap.Logger

	mailbox  chan types.PeerAnswer
	wrapUp   atomic.Bool
	restart  atomic.Bool
	streamed atomic.Bool

	// done releases emit once the event consumer stops; nil means emit
	// blocks until delivery.
	done <-chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	deadline types.Deadline
	usage    types.Usage
}

// NewRunner wires a runner for one agent round.
func NewRunner(agentID string, be backend.Backend, cfg RunnerConfig, reg *registry.Registry, tally *voting.Tally, gate *Gate, tools ToolExecutor, sink UISink, events chan<- Event, logger *zap.Logger) *Runner {
	cfg.applyDefaults()
	if tools == nil {
		tools = NoTools{}
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		agentID: agentID,
		backend: be,
		cfg:     cfg,
		reg:     reg,
		tally:   tally,
		gate:    gate,
		tools:   tools,
		sink:    sink,
		events:  events,
		logger:  logger.With(zap.String("agent_id", agentID)),
		mailbox: make(chan types.PeerAnswer, cfg.MailboxSize),
	}
}

// Inject offers a peer answer for delivery at the next turn boundary.
// Refused (returns false) when the remaining soft budget is below the grace
// period or the mailbox is full; the caller then restarts the agent instead.
func (r *Runner) Inject(p types.PeerAnswer, now time.Time) bool {
	if p.AgentID == r.agentID {
		return true // own answers are never injected back
	}
	r.mu.Lock()
	deadline := r.deadline
	r.mu.Unlock()
	if deadline.Enabled() && now.Add(deadline.Grace()).After(deadline.SoftAt) {
		return false
	}
	select {
	case r.mailbox <- p:
		return true
	default:
		return false
	}
}

// NotifyWrapUp arms the one-shot wrap-up advisory for the next boundary.
func (r *Runner) NotifyWrapUp() {
	r.wrapUp.Store(true)
}

// RequestRestart cancels the in-flight round so the agent can be restarted
// with full answer context. Run returns no_progress(inject_skipped).
func (r *Runner) RequestRestart() {
	r.restart.Store(true)
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Usage returns the tokens consumed so far by this round.
func (r *Runner) Usage() types.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// Run executes the round to its terminal result. The conversation must
// start with the coordination system prompt and the task; Run appends every
// later turn itself.
func (r *Runner) Run(ctx context.Context, conv []types.Message, deadline types.Deadline) types.AgentResult {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.deadline = deadline
	r.mu.Unlock()

	specs := append(coordinationToolSpecs(), r.tools.Specs()...)
	injected := make(map[string]bool)
	compacted := false
	wrapUpSent := false
	postHardTurns := 0
	errTurns := 0

	for {
		if r.restart.Load() {
			return types.AgentResult{Kind: types.ResultNoProgress, Reason: "inject_skipped"}
		}
		conv = r.drainInjections(conv, injected)
		if r.wrapUp.Load() && !wrapUpSent {
			conv = append(conv, types.Message{Role: "user", Content: wrapUpAdvisory, Timestamp: time.Now()})
			wrapUpSent = true
			r.logger.Debug("wrap-up advisory injected")
		}
		if deadline.Enabled() && time.Now().After(deadline.HardAt) {
			if postHardTurns >= maxPostHardTurns {
				r.logger.Warn("hard deadline elapsed without terminal action")
				return types.AgentResult{Kind: types.ResultTimedOut}
			}
			postHardTurns++
		}

		// The turn context cuts an in-flight stream at the hard deadline.
		// Turns started after it get one grace budget each, so a blocked
		// agent can still cast its terminal vote.
		turnCtx := runCtx
		turnCancel := context.CancelFunc(func() {})
		if deadline.Enabled() {
			cut := deadline.HardAt
			if now := time.Now(); !now.Before(cut) {
				cut = now.Add(deadline.Grace())
			}
			turnCtx, turnCancel = context.WithDeadline(runCtx, cut)
		}
		hardCut := func() bool {
			return turnCtx.Err() != nil && runCtx.Err() == nil && !r.restart.Load()
		}

		stream, err := r.streamWithRetry(turnCtx, conv, specs)
		if err != nil {
			turnCancel()
			if hardCut() {
				r.logger.Info("hard deadline cut the backend call")
				continue
			}
			if errors.Is(err, backend.ErrContextLength) && !compacted {
				r.logger.Info("conversation exceeds context window, compacting")
				conv = compactConversation(conv, GetTokenCounter(), r.cfg.ContextBudget)
				compacted = true
				continue
			}
			return r.classifyStreamError(err, ctx)
		}

		text, calls, done := r.consume(stream)
		turnCancel()
		conv = append(conv, types.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
			Timestamp: time.Now(),
		})

		if len(calls) == 0 {
			switch done {
			case types.DoneCancelled:
				if r.restart.Load() {
					return types.AgentResult{Kind: types.ResultNoProgress, Reason: "inject_skipped"}
				}
				if hardCut() {
					// The deadline cut the stream mid-turn; the agent gets
					// its terminal turn next.
					r.logger.Info("hard deadline cut the stream")
					continue
				}
				return types.AgentResult{Kind: types.ResultNoProgress, Reason: "cancelled"}
			case types.DoneError:
				errTurns++
				if errTurns > r.cfg.MaxRetries {
					return types.AgentResult{
						Kind:    types.ResultErrored,
						ErrKind: types.ErrKindTransientExhausted,
						Err:     errors.New("stream failed repeatedly"),
					}
				}
				r.logger.Warn("stream ended with error, retrying turn", zap.Int("attempt", errTurns))
				// Drop the empty assistant turn before retrying.
				conv = conv[:len(conv)-1]
				continue
			case types.DoneLength:
				if !compacted {
					conv = compactConversation(conv, GetTokenCounter(), r.cfg.ContextBudget)
					compacted = true
					continue
				}
				return types.AgentResult{Kind: types.ResultNoProgress, Reason: "length"}
			default:
				return types.AgentResult{Kind: types.ResultNoProgress, Reason: "stream_ended"}
			}
		}

		if result, terminal := r.processToolCalls(runCtx, calls, &conv); terminal {
			return result
		}
	}
}

// drainInjections appends pending peer answers as user turns, deduplicating
// by label across the whole round.
func (r *Runner) drainInjections(conv []types.Message, injected map[string]bool) []types.Message {
	for {
		select {
		case p := <-r.mailbox:
			if injected[p.Label] {
				continue
			}
			injected[p.Label] = true
			conv = append(conv, types.Message{
				Role:      "user",
				Content:   injectionNotification(p),
				Timestamp: time.Now(),
			})
			r.logger.Info("peer answer injected", zap.String("label", p.Label))
		default:
			return conv
		}
	}
}

// streamWithRetry calls the backend with exponential backoff on transient
// failures. Context-length and fatal errors surface immediately.
func (r *Runner) streamWithRetry(ctx context.Context, conv []types.Message, specs []backend.ToolSpec) (<-chan types.StreamChunk, error) {
	delay := r.cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		stream, err := r.backend.Stream(ctx, conv, specs, r.cfg.Params)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("backend retry succeeded", zap.Int("attempt", attempt+1))
			}
			return stream, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if !backend.IsTransient(err) {
			return nil, err
		}
		if attempt >= r.cfg.MaxRetries {
			break
		}

		r.logger.Warn("backend call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * r.cfg.Multiplier)
		if delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}

	r.logger.Error("backend retries exhausted",
		zap.Int("max_retries", r.cfg.MaxRetries),
		zap.Error(lastErr))
	return nil, backend.Transient(fmt.Errorf("backend call failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr))
}

// classifyStreamError maps a failed backend call to a terminal result.
// Compaction recovery happens in Run before this is reached; a context
// overflow here means the one retry already happened.
func (r *Runner) classifyStreamError(err error, parent context.Context) types.AgentResult {
	if r.restart.Load() {
		return types.AgentResult{Kind: types.ResultNoProgress, Reason: "inject_skipped"}
	}
	if parent.Err() != nil {
		return types.AgentResult{Kind: types.ResultNoProgress, Reason: "cancelled"}
	}
	if errors.Is(err, backend.ErrContextLength) {
		return types.AgentResult{Kind: types.ResultErrored, ErrKind: types.ErrKindContextLength, Err: err}
	}
	if backend.IsTransient(err) {
		return types.AgentResult{Kind: types.ResultErrored, ErrKind: types.ErrKindTransientExhausted, Err: err}
	}
	return types.AgentResult{Kind: types.ResultErrored, ErrKind: types.ErrKindFatal, Err: err}
}

// processToolCalls executes the turn's tool calls in order. Returns the
// terminal result when a vote or answer resolves the round; otherwise the
// tool results are appended and the round continues.
func (r *Runner) processToolCalls(ctx context.Context, calls []types.ToolCall, conv *[]types.Message) (types.AgentResult, bool) {
	for _, call := range calls {
		if invalid := validateToolInput(call.Name, call.Input); invalid != "" {
			r.appendToolResult(conv, types.ToolResult{ToolUseID: call.ID, Content: invalid, IsError: true})
			continue
		}

		switch call.Name {
		case types.ToolVote:
			target := stringArg(call.Input, "target")
			reason := stringArg(call.Input, "reason")
			res := r.tally.CastOrReplace(r.agentID, target, reason)
			if res.OK {
				r.emit(Event{Kind: EventVoteCast, AgentID: r.agentID, Target: target, At: time.Now()})
				return types.AgentResult{Kind: types.ResultVoted, Target: target}, true
			}
			r.appendToolResult(conv, types.ToolResult{
				ToolUseID: call.ID,
				Content:   fmt.Sprintf("vote rejected (%s): no answer labeled %q is registered", res.Reason, target),
				IsError:   true,
			})

		case types.ToolNewAnswer:
			out := r.reg.Submit(r.agentID, stringArg(call.Input, "text"))
			if out.Accepted {
				return types.AgentResult{Kind: types.ResultAnswered, Label: out.Label}, true
			}
			r.appendToolResult(conv, types.ToolResult{
				ToolUseID: call.ID,
				Content:   rejectionMessage(out),
				IsError:   true,
			})

		default:
			if d := r.gate.Allow(call.Name, r.agentID); !d.Allowed {
				r.appendToolResult(conv, types.ToolResult{ToolUseID: call.ID, Content: d.Message, IsError: true})
				continue
			}
			result := r.tools.Execute(ctx, r.agentID, call)
			result.ToolUseID = call.ID
			r.appendToolResult(conv, result)
		}
	}
	return types.AgentResult{}, false
}

// rejectionMessage renders a registry rejection for the model.
func rejectionMessage(out registry.Outcome) string {
	switch out.Reason {
	case registry.RejectCapExceeded:
		return "answer rejected: you have used your answer budget. Vote for the best existing answer instead."
	case registry.RejectInsufficientNovelty:
		return fmt.Sprintf("answer rejected: too similar to registered answer %q. Vote for it, or submit a substantially different answer.", out.Conflict)
	default:
		return "answer rejected"
	}
}

// consume drains one stream, forwarding chunks to the sink and collecting
// the turn's text, tool calls, and done reason.
func (r *Runner) consume(stream <-chan types.StreamChunk) (string, []types.ToolCall, types.DoneReason) {
	var text strings.Builder
	var calls []types.ToolCall
	done := types.DoneStop

	for chunk := range stream {
		if r.streamed.CompareAndSwap(false, true) {
			r.emit(Event{Kind: EventStreamStarted, AgentID: r.agentID, At: time.Now()})
		}
		switch chunk.Kind {
		case types.ChunkContent:
			text.WriteString(chunk.Text)
			r.sink.OnChunk(r.agentID, chunk)
		case types.ChunkReasoning:
			r.sink.OnChunk(r.agentID, chunk)
		case types.ChunkToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case types.ChunkUsage:
			if chunk.Usage != nil {
				r.mu.Lock()
				r.usage.Add(*chunk.Usage)
				r.mu.Unlock()
			}
		case types.ChunkDone:
			done = chunk.Done
		}
	}
	return text.String(), calls, done
}

// appendToolResult records a tool result turn and echoes it to the sink.
func (r *Runner) appendToolResult(conv *[]types.Message, result types.ToolResult) {
	*conv = append(*conv, types.Message{
		Role:      "tool",
		Content:   result.Content,
		ToolUseID: result.ToolUseID,
		Timestamp: time.Now(),
	})
	r.sink.OnChunk(r.agentID, types.StreamChunk{Kind: types.ChunkToolResult, ToolResult: &result})
}

// emit forwards an event to the coordination loop.
func (r *Runner) emit(ev Event) {
	if r.done == nil {
		r.events <- ev
		return
	}
	select {
	case r.events <- ev:
	case <-r.done:
	}
}
