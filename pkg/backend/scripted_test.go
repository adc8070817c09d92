// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/massgen/pkg/types"
)

func collect(t *testing.T, ch <-chan types.StreamChunk) []types.StreamChunk {
	t.Helper()
	var chunks []types.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestScriptedConsumesTurnsInOrder(t *testing.T) {
	s := NewScripted("fake",
		ChunkTurn(Content("first")),
		ChunkTurn(Content("second")),
	)

	ch, err := s.Stream(context.Background(), nil, nil, Params{})
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Text)
	assert.Equal(t, types.DoneStop, chunks[1].Done)

	ch, err = s.Stream(context.Background(), nil, nil, Params{})
	require.NoError(t, err)
	chunks = collect(t, ch)
	assert.Equal(t, "second", chunks[0].Text)
	assert.Equal(t, 2, s.TurnsTaken())
}

func TestScriptedExhaustedScriptEndsWithStop(t *testing.T) {
	s := NewScripted("fake")

	ch, err := s.Stream(context.Background(), nil, nil, Params{})
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkDone, chunks[0].Kind)
	assert.Equal(t, types.DoneStop, chunks[0].Done)
}

func TestScriptedAppendsMissingDone(t *testing.T) {
	s := NewScripted("fake", ChunkTurn(Content("no explicit done")))

	ch, err := s.Stream(context.Background(), nil, nil, Params{})
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, types.ChunkDone, chunks[1].Kind)
}

func TestScriptedSeesConversation(t *testing.T) {
	s := NewScripted("fake", func(conv []types.Message) []types.StreamChunk {
		if len(conv) > 0 && conv[len(conv)-1].Content == "vote now" {
			return []types.StreamChunk{VoteCall("alpha.1", "asked to")}
		}
		return []types.StreamChunk{Content("still thinking")}
	})

	ch, err := s.Stream(context.Background(), []types.Message{{Role: "user", Content: "vote now"}}, nil, Params{})
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.NotEmpty(t, chunks)
	require.Equal(t, types.ChunkToolCall, chunks[0].Kind)
	assert.Equal(t, types.ToolVote, chunks[0].ToolCall.Name)
	assert.Equal(t, "alpha.1", chunks[0].ToolCall.Input["target"])
}

func TestScriptedFailNext(t *testing.T) {
	sentinel := errors.New("boom")
	s := NewScripted("fake", AnswerTurn("answer")).FailNext(Transient(sentinel))

	_, err := s.Stream(context.Background(), nil, nil, Params{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, sentinel)

	// Next call runs the scripted turn.
	ch, err := s.Stream(context.Background(), nil, nil, Params{})
	require.NoError(t, err)
	chunks := collect(t, ch)
	require.Equal(t, types.ChunkToolCall, chunks[0].Kind)
	assert.Equal(t, types.ToolNewAnswer, chunks[0].ToolCall.Name)
}

func TestScriptedCancellation(t *testing.T) {
	s := NewScripted("fake",
		ChunkTurn(Content("a"), Content("b"), Content("c")),
	).WithChunkDelay(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Stream(ctx, nil, nil, Params{})
	require.NoError(t, err)
	cancel()

	chunks := collect(t, ch)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, types.ChunkDone, last.Kind)
	assert.Equal(t, types.DoneCancelled, last.Done)
}

func TestTransientErrorClassification(t *testing.T) {
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(Transient(errors.New("flaky"))))
	assert.False(t, IsTransient(ErrContextLength))
	assert.Nil(t, Transient(nil))
}
