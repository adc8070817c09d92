// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package backend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teradata-labs/massgen/pkg/types"
)

// TurnFunc produces the chunks for one model turn given the conversation
// seen so far. Scripts can inspect injected peer answers or tool results to
// decide what the fake model says next.
type TurnFunc func(conversation []types.Message) []types.StreamChunk

// Scripted is a deterministic Backend for tests. Each Stream call consumes
// the next scripted turn; once the script is exhausted every turn ends with
// done(stop) and no terminal tool call.
type Scripted struct {
	name  string
	model string

	mu       sync.Mutex
	turns    []TurnFunc
	next     int
	preErrs  []error
	perChunk time.Duration
}

// NewScripted creates a scripted backend with the given turns.
func NewScripted(name string, turns ...TurnFunc) *Scripted {
	return &Scripted{
		name:  name,
		model: "scripted-v1",
		turns: turns,
	}
}

// WithChunkDelay makes every chunk emission sleep first, simulating a slow
// stream.
func (s *Scripted) WithChunkDelay(d time.Duration) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perChunk = d
	return s
}

// FailNext queues errors returned by Stream before any turn runs, in order.
// Use Transient(...) to exercise the retry path.
func (s *Scripted) FailNext(errs ...error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preErrs = append(s.preErrs, errs...)
	return s
}

// Name implements Backend.
func (s *Scripted) Name() string { return s.name }

// Model implements Backend.
func (s *Scripted) Model() string { return s.model }

// TurnsTaken returns how many turns have been consumed.
func (s *Scripted) TurnsTaken() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Stream implements Backend.
func (s *Scripted) Stream(ctx context.Context, conversation []types.Message, tools []ToolSpec, params Params) (<-chan types.StreamChunk, error) {
	s.mu.Lock()
	if len(s.preErrs) > 0 {
		err := s.preErrs[0]
		s.preErrs = s.preErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	var turn TurnFunc
	if s.next < len(s.turns) {
		turn = s.turns[s.next]
	}
	s.next++
	delay := s.perChunk
	s.mu.Unlock()

	var chunks []types.StreamChunk
	if turn != nil {
		chunks = turn(conversation)
	}
	if len(chunks) == 0 || chunks[len(chunks)-1].Kind != types.ChunkDone {
		chunks = append(chunks, types.StreamChunk{Kind: types.ChunkDone, Done: types.DoneStop})
	}

	out := make(chan types.StreamChunk, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					out <- types.StreamChunk{Kind: types.ChunkDone, Done: types.DoneCancelled}
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				out <- types.StreamChunk{Kind: types.ChunkDone, Done: types.DoneCancelled}
				return
			}
		}
	}()
	return out, nil
}

var _ Backend = (*Scripted)(nil)

// ============================================================================
// Script building helpers
// ============================================================================

// Content builds a content chunk.
func Content(text string) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkContent, Text: text}
}

// Reasoning builds a reasoning chunk.
func Reasoning(text string) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkReasoning, Text: text}
}

// Done builds a done chunk.
func Done(reason types.DoneReason) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkDone, Done: reason}
}

// UsageOf builds a usage chunk.
func UsageOf(in, out int) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkUsage, Usage: &types.Usage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
	}}
}

// NewAnswerCall builds a new_answer tool call chunk.
func NewAnswerCall(text string) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkToolCall, ToolCall: &types.ToolCall{
		ID:    "call-" + uuid.New().String()[:8],
		Name:  types.ToolNewAnswer,
		Input: map[string]interface{}{"text": text},
	}}
}

// VoteCall builds a vote tool call chunk.
func VoteCall(target, reason string) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkToolCall, ToolCall: &types.ToolCall{
		ID:    "call-" + uuid.New().String()[:8],
		Name:  types.ToolVote,
		Input: map[string]interface{}{"target": target, "reason": reason},
	}}
}

// ToolCallChunk builds an arbitrary tool call chunk.
func ToolCallChunk(name string, input map[string]interface{}) types.StreamChunk {
	return types.StreamChunk{Kind: types.ChunkToolCall, ToolCall: &types.ToolCall{
		ID:    "call-" + uuid.New().String()[:8],
		Name:  name,
		Input: input,
	}}
}

// AnswerTurn scripts a turn that submits an answer.
func AnswerTurn(text string) TurnFunc {
	return func([]types.Message) []types.StreamChunk {
		return []types.StreamChunk{NewAnswerCall(text), Done(types.DoneStop)}
	}
}

// VoteTurn scripts a turn that votes for target.
func VoteTurn(target, reason string) TurnFunc {
	return func([]types.Message) []types.StreamChunk {
		return []types.StreamChunk{VoteCall(target, reason), Done(types.DoneStop)}
	}
}

// ChunkTurn scripts a turn from a fixed chunk list.
func ChunkTurn(chunks ...types.StreamChunk) TurnFunc {
	return func([]types.Message) []types.StreamChunk {
		return chunks
	}
}
