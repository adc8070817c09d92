// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/registry"
	"github.com/teradata-labs/massgen/pkg/types"
	"github.com/teradata-labs/massgen/pkg/voting"
	"go.uber.org/zap/zaptest"
)

// runnerHarness wires a runner against real registry/tally instances and a
// buffered event queue large enough that nothing blocks.
type runnerHarness struct {
	reg    *registry.Registry
	tally  *voting.Tally
	gate   *Gate
	events chan Event
}

func newRunnerHarness(t *testing.T, regCfg registry.Config) *runnerHarness {
	t.Helper()
	reg := registry.New(regCfg, nil, zaptest.NewLogger(t))
	t.Cleanup(reg.Close)
	return &runnerHarness{
		reg:    reg,
		tally:  voting.New(reg, zaptest.NewLogger(t)),
		gate:   NewGate(),
		events: make(chan Event, 128),
	}
}

func (h *runnerHarness) runner(t *testing.T, agentID string, be backend.Backend, cfg RunnerConfig) *Runner {
	t.Helper()
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Millisecond
	}
	return NewRunner(agentID, be, cfg, h.reg, h.tally, h.gate, nil, nil, h.events, zaptest.NewLogger(t))
}

func defaultRegCfg() registry.Config {
	return registry.Config{MaxAnswersPerAgent: registry.UnlimitedAnswers, Novelty: registry.NoveltyLenient}
}

func startConv(question string) []types.Message {
	return []types.Message{
		{Role: "system", Content: "coordinate"},
		{Role: "user", Content: question},
	}
}

func (h *runnerHarness) eventKinds() []EventKind {
	var kinds []EventKind
	for {
		select {
		case ev := <-h.events:
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func TestRunnerRegistersAnswer(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake", backend.AnswerTurn("final answer text"))
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultAnswered, result.Kind)
	assert.Equal(t, "alpha.1", result.Label)

	a, ok := h.reg.Get("alpha.1")
	require.True(t, ok)
	assert.Equal(t, "final answer text", a.Text)
}

func TestRunnerCastsVote(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "existing answer").Accepted)

	be := backend.NewScripted("fake", backend.VoteTurn("beta.1", "covers everything"))
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Equal(t, "beta.1", result.Target)

	v, ok := h.tally.Vote("alpha")
	require.True(t, ok)
	assert.Equal(t, "beta.1", v.TargetLabel)
	assert.Contains(t, h.eventKinds(), EventVoteCast)
}

func TestRunnerUnknownVoteTargetGetsCorrected(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "existing answer").Accepted)

	be := backend.NewScripted("fake",
		backend.VoteTurn("ghost.1", "typo"),
		func(conv []types.Message) []types.StreamChunk {
			last := conv[len(conv)-1]
			if last.Role == "tool" && strings.Contains(last.Content, "vote rejected") {
				return []types.StreamChunk{backend.VoteCall("beta.1", "corrected")}
			}
			return []types.StreamChunk{backend.Content("confused")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Equal(t, "beta.1", result.Target)
	assert.Equal(t, 2, be.TurnsTaken())
}

func TestRunnerCapRejectionRedirectsToVote(t *testing.T) {
	h := newRunnerHarness(t, registry.Config{MaxAnswersPerAgent: 1, Novelty: registry.NoveltyLenient})
	require.True(t, h.reg.Submit("alpha", "my only answer").Accepted)

	be := backend.NewScripted("fake",
		backend.AnswerTurn("a second answer"),
		func(conv []types.Message) []types.StreamChunk {
			last := conv[len(conv)-1]
			if last.Role == "tool" && strings.Contains(last.Content, "answer budget") {
				return []types.StreamChunk{backend.VoteCall("alpha.1", "sticking with mine")}
			}
			return []types.StreamChunk{backend.Content("confused")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Equal(t, 1, h.reg.Len())
}

func TestRunnerNoveltyRejectionNamesConflict(t *testing.T) {
	h := newRunnerHarness(t, registry.Config{MaxAnswersPerAgent: registry.UnlimitedAnswers, Novelty: registry.NoveltyBalanced})
	require.True(t, h.reg.Submit("beta", "cache the results in redis with a ttl").Accepted)

	be := backend.NewScripted("fake",
		backend.AnswerTurn("cache the results in redis with a ttl please"),
		func(conv []types.Message) []types.StreamChunk {
			last := conv[len(conv)-1]
			if last.Role == "tool" && strings.Contains(last.Content, "beta.1") {
				return []types.StreamChunk{backend.VoteCall("beta.1", "same idea")}
			}
			return []types.StreamChunk{backend.Content("confused")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Equal(t, "beta.1", result.Target)
}

func TestRunnerInjectionArrivesAtTurnBoundary(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "peer answer body").Accepted)

	be := backend.NewScripted("fake",
		func(conv []types.Message) []types.StreamChunk {
			for _, m := range conv {
				if strings.Contains(m.Content, "beta.1") && strings.Contains(m.Content, "peer answer body") {
					return []types.StreamChunk{backend.VoteCall("beta.1", "peer already solved it")}
				}
			}
			return []types.StreamChunk{backend.Content("no peer yet")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})
	require.True(t, r.Inject(types.PeerAnswer{Label: "beta.1", AgentID: "beta", Text: "peer answer body"}, time.Now()))

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Equal(t, 1, be.TurnsTaken())
}

func TestRunnerInjectionDeduplicatesByLabel(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())

	var mu sync.Mutex
	notifications := 0
	be := backend.NewScripted("fake",
		func(conv []types.Message) []types.StreamChunk {
			mu.Lock()
			for _, m := range conv {
				if strings.Contains(m.Content, "beta.1") {
					notifications++
				}
			}
			mu.Unlock()
			return []types.StreamChunk{backend.Content("noted")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})
	peer := types.PeerAnswer{Label: "beta.1", AgentID: "beta", Text: "dup"}
	require.True(t, r.Inject(peer, time.Now()))
	require.True(t, r.Inject(peer, time.Now()))

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultNoProgress, result.Kind)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, notifications)
}

func TestRunnerOwnAnswerNeverInjected(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	r := h.runner(t, "alpha", backend.NewScripted("fake"), RunnerConfig{})

	// Accepted but discarded: agents never see their own answers echoed.
	assert.True(t, r.Inject(types.PeerAnswer{Label: "alpha.1", AgentID: "alpha", Text: "mine"}, time.Now()))

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultNoProgress, result.Kind)
	assert.Equal(t, "stream_ended", result.Reason)
}

func TestRunnerInjectRefusedNearSoftDeadline(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	r := h.runner(t, "alpha", backend.NewScripted("fake"), RunnerConfig{})

	now := time.Now()
	r.mu.Lock()
	r.deadline = types.NewDeadline(now, 100*time.Millisecond, 5*time.Second)
	r.mu.Unlock()

	assert.False(t, r.Inject(types.PeerAnswer{Label: "beta.1", AgentID: "beta", Text: "late"}, now))
}

func TestRunnerRequestRestart(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake",
		backend.ChunkTurn(
			backend.Content("a"), backend.Content("b"), backend.Content("c"),
			backend.Content("d"), backend.Content("e"),
		),
	).WithChunkDelay(20 * time.Millisecond)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	done := make(chan types.AgentResult, 1)
	go func() {
		done <- r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	}()

	time.Sleep(30 * time.Millisecond)
	r.RequestRestart()

	result := <-done
	assert.Equal(t, types.ResultNoProgress, result.Kind)
	assert.Equal(t, "inject_skipped", result.Reason)
}

func TestRunnerWrapUpAdvisoryInjectedOnce(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "existing").Accepted)

	var mu sync.Mutex
	maxAdvisories := 0
	countAdvisories := func(conv []types.Message) {
		n := 0
		for _, m := range conv {
			if m.Content == wrapUpAdvisory {
				n++
			}
		}
		mu.Lock()
		if n > maxAdvisories {
			maxAdvisories = n
		}
		mu.Unlock()
	}
	be := backend.NewScripted("fake",
		func(conv []types.Message) []types.StreamChunk {
			countAdvisories(conv)
			return []types.StreamChunk{backend.ToolCallChunk("noop", nil)}
		},
		func(conv []types.Message) []types.StreamChunk {
			countAdvisories(conv)
			return []types.StreamChunk{backend.VoteCall("beta.1", "wrapping up")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})
	r.NotifyWrapUp()

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxAdvisories, "advisory must appear exactly once in the conversation")
}

func TestRunnerGateBlocksToolsAfterHardDeadline(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "existing").Accepted)
	h.gate.MarkHardElapsed("alpha")

	exec := &recordingExecutor{}
	be := backend.NewScripted("fake",
		backend.ChunkTurn(backend.ToolCallChunk("shell_execute", map[string]interface{}{"cmd": "ls"})),
		func(conv []types.Message) []types.StreamChunk {
			last := conv[len(conv)-1]
			if last.Role == "tool" && strings.Contains(last.Content, "deadline has passed") {
				return []types.StreamChunk{backend.VoteCall("beta.1", "forced to decide")}
			}
			return []types.StreamChunk{backend.Content("confused")}
		},
	)
	r := NewRunner("alpha", be, RunnerConfig{InitialDelay: time.Millisecond}, h.reg, h.tally, h.gate, exec, nil, h.events, zaptest.NewLogger(t))

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Zero(t, exec.calls, "blocked tool must never reach the executor")
}

func TestRunnerExecutesSubstrateTools(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())

	exec := &recordingExecutor{result: "file written"}
	be := backend.NewScripted("fake",
		backend.ChunkTurn(backend.ToolCallChunk("write_file", map[string]interface{}{"path": "x"})),
		func(conv []types.Message) []types.StreamChunk {
			last := conv[len(conv)-1]
			if last.Role == "tool" && last.Content == "file written" {
				return []types.StreamChunk{backend.NewAnswerCall("done with the file")}
			}
			return []types.StreamChunk{backend.Content("confused")}
		},
	)
	r := NewRunner("alpha", be, RunnerConfig{InitialDelay: time.Millisecond}, h.reg, h.tally, h.gate, exec, nil, h.events, zaptest.NewLogger(t))

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})

	assert.Equal(t, types.ResultAnswered, result.Kind)
	assert.Equal(t, 1, exec.calls)
}

func TestRunnerInvalidTerminalToolArgs(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "existing").Accepted)

	be := backend.NewScripted("fake",
		backend.ChunkTurn(backend.ToolCallChunk(types.ToolVote, map[string]interface{}{"target": 42})),
		func(conv []types.Message) []types.StreamChunk {
			last := conv[len(conv)-1]
			if last.Role == "tool" && strings.Contains(last.Content, "invalid vote arguments") {
				return []types.StreamChunk{backend.VoteCall("beta.1", "fixed args")}
			}
			return []types.StreamChunk{backend.Content("confused")}
		},
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultVoted, result.Kind)
}

func TestRunnerRetriesTransientErrors(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake", backend.AnswerTurn("made it")).
		FailNext(backend.Transient(errors.New("rate limited")), backend.Transient(errors.New("503")))
	r := h.runner(t, "alpha", be, RunnerConfig{MaxRetries: 3})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultAnswered, result.Kind)
}

func TestRunnerTransientBudgetExhausted(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	flaky := backend.Transient(errors.New("still down"))
	be := backend.NewScripted("fake", backend.AnswerTurn("never reached")).
		FailNext(flaky, flaky, flaky, flaky)
	r := h.runner(t, "alpha", be, RunnerConfig{MaxRetries: 2})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultErrored, result.Kind)
	assert.Equal(t, types.ErrKindTransientExhausted, result.ErrKind)
}

func TestRunnerFatalErrorNotRetried(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake", backend.AnswerTurn("never reached")).
		FailNext(errors.New("invalid api key"))
	r := h.runner(t, "alpha", be, RunnerConfig{MaxRetries: 3})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultErrored, result.Kind)
	assert.Equal(t, types.ErrKindFatal, result.ErrKind)
	assert.Equal(t, 0, be.TurnsTaken())
}

func TestRunnerContextLengthCompactionRecovers(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake", backend.AnswerTurn("fits now")).
		FailNext(backend.ErrContextLength)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultAnswered, result.Kind)
}

func TestRunnerContextLengthEscalatesAfterOneCompaction(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake", backend.AnswerTurn("never reached")).
		FailNext(backend.ErrContextLength, backend.ErrContextLength)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	assert.Equal(t, types.ResultErrored, result.Kind)
	assert.Equal(t, types.ErrKindContextLength, result.ErrKind)
}

func TestRunnerTimedOutAfterHardDeadline(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	h.gate.MarkHardElapsed("alpha")

	be := backend.NewScripted("fake",
		backend.ChunkTurn(backend.ToolCallChunk("tinker", nil)),
		backend.ChunkTurn(backend.ToolCallChunk("tinker", nil)),
		backend.ChunkTurn(backend.ToolCallChunk("tinker", nil)),
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	past := time.Now().Add(-time.Minute)
	deadline := types.Deadline{SoftAt: past, HardAt: past.Add(time.Second)}

	result := r.Run(context.Background(), startConv("solve it"), deadline)
	assert.Equal(t, types.ResultTimedOut, result.Kind)
}

func TestRunnerHardDeadlineCancelsStream(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	require.True(t, h.reg.Submit("beta", "existing").Accepted)

	// Turn 1 would stream for ~2s on its own; the hard deadline must cut
	// it mid-flight. Turn 2 is the terminal turn the agent still gets.
	var chunks []types.StreamChunk
	for i := 0; i < 100; i++ {
		chunks = append(chunks, backend.Content("rambling on... "))
	}
	be := backend.NewScripted("fake",
		backend.ChunkTurn(chunks...),
		backend.VoteTurn("beta.1", "out of time"),
	).WithChunkDelay(20 * time.Millisecond)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	start := time.Now()
	deadline := types.NewDeadline(start, 50*time.Millisecond, 250*time.Millisecond)

	result := r.Run(context.Background(), startConv("solve it"), deadline)

	assert.Equal(t, types.ResultVoted, result.Kind)
	assert.Equal(t, "beta.1", result.Target)
	assert.Equal(t, 2, be.TurnsTaken())
	assert.Less(t, time.Since(start), 1500*time.Millisecond,
		"the first stream must be cancelled at the hard deadline, not drained")
}

func TestRunnerAccumulatesUsage(t *testing.T) {
	h := newRunnerHarness(t, defaultRegCfg())
	be := backend.NewScripted("fake",
		backend.ChunkTurn(backend.UsageOf(100, 20), backend.NewAnswerCall("answer")),
	)
	r := h.runner(t, "alpha", be, RunnerConfig{})

	result := r.Run(context.Background(), startConv("solve it"), types.Deadline{})
	require.Equal(t, types.ResultAnswered, result.Kind)

	usage := r.Usage()
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, 20, usage.OutputTokens)
	assert.Equal(t, 120, usage.TotalTokens)
}

// recordingExecutor counts substrate tool executions.
type recordingExecutor struct {
	mu     sync.Mutex
	calls  int
	result string
}

func (e *recordingExecutor) Specs() []backend.ToolSpec { return nil }

func (e *recordingExecutor) Execute(_ context.Context, _ string, call types.ToolCall) types.ToolResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return types.ToolResult{ToolUseID: call.ID, Content: e.result}
}
