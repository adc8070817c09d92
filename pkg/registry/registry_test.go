// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package registry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSnapshotter struct {
	ids   map[string]string
	err   error
	calls []string
}

func (f *fakeSnapshotter) Snapshot(agentID string) (string, error) {
	f.calls = append(f.calls, agentID)
	if f.err != nil {
		return "", f.err
	}
	return f.ids[agentID], nil
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r := New(cfg, nil, zaptest.NewLogger(t))
	t.Cleanup(r.Close)
	return r
}

func TestSubmitAssignsSequentialLabels(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: UnlimitedAnswers, Novelty: NoveltyLenient})

	out1 := r.Submit("alpha", "first answer")
	require.True(t, out1.Accepted)
	assert.Equal(t, "alpha.1", out1.Label)

	out2 := r.Submit("alpha", "second answer")
	require.True(t, out2.Accepted)
	assert.Equal(t, "alpha.2", out2.Label)

	out3 := r.Submit("beta", "another take")
	require.True(t, out3.Accepted)
	assert.Equal(t, "beta.1", out3.Label)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.Count("alpha"))

	idx, ok := r.IndexOf("alpha.2")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestSubmitCapEnforcement(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: 1, Novelty: NoveltyLenient})

	require.True(t, r.Submit("alpha", "only answer").Accepted)
	assert.True(t, r.CapReached("alpha"))

	out := r.Submit("alpha", "one too many")
	assert.False(t, out.Accepted)
	assert.Equal(t, RejectCapExceeded, out.Reason)
	assert.Equal(t, 1, r.Len())
}

func TestSubmitZeroCapForbidsAnswers(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: 0, Novelty: NoveltyLenient})

	out := r.Submit("alpha", "anything")
	assert.False(t, out.Accepted)
	assert.Equal(t, RejectCapExceeded, out.Reason)
	assert.True(t, r.CapReached("alpha"))
}

func TestSubmitNoveltyRejection(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: UnlimitedAnswers, Novelty: NoveltyBalanced})

	require.True(t, r.Submit("alpha", "use a bloom filter for fast membership checks").Accepted)

	out := r.Submit("beta", "use a bloom filter for fast membership checks today")
	assert.False(t, out.Accepted)
	assert.Equal(t, RejectInsufficientNovelty, out.Reason)
	assert.Equal(t, "alpha.1", out.Conflict)

	// A genuinely different answer passes.
	out = r.Submit("beta", "maintain a sorted index and binary search it")
	assert.True(t, out.Accepted)
	assert.Equal(t, "beta.1", out.Label)
}

func TestSubmitNoveltyDisabledByDefault(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: UnlimitedAnswers, Novelty: NoveltyLenient})

	require.True(t, r.Submit("alpha", "identical text").Accepted)
	assert.True(t, r.Submit("beta", "identical text").Accepted)
}

func TestSubmitSnapshotsWorkspace(t *testing.T) {
	snap := &fakeSnapshotter{ids: map[string]string{"alpha": "abc123"}}
	r := New(Config{MaxAnswersPerAgent: UnlimitedAnswers, Novelty: NoveltyLenient}, snap, zaptest.NewLogger(t))
	defer r.Close()

	out := r.Submit("alpha", "answer")
	require.True(t, out.Accepted)

	a, ok := r.Get("alpha.1")
	require.True(t, ok)
	assert.Equal(t, "abc123", a.SnapshotID)
	assert.Equal(t, []string{"alpha"}, snap.calls)
}

func TestSubmitSnapshotFailureIsNotFatal(t *testing.T) {
	snap := &fakeSnapshotter{err: errors.New("disk full")}
	r := New(Config{MaxAnswersPerAgent: UnlimitedAnswers, Novelty: NoveltyLenient}, snap, zaptest.NewLogger(t))
	defer r.Close()

	out := r.Submit("alpha", "answer")
	require.True(t, out.Accepted)

	a, ok := r.Get("alpha.1")
	require.True(t, ok)
	assert.Empty(t, a.SnapshotID)
}

func TestSubscribeObservesAcceptanceOrder(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: UnlimitedAnswers, Novelty: NoveltyLenient})

	ch, cancel := r.Subscribe(16)
	defer cancel()

	for i := 0; i < 5; i++ {
		require.True(t, r.Submit("alpha", fmt.Sprintf("answer %d", i)).Accepted)
	}

	for i := 1; i <= 5; i++ {
		ev := <-ch
		assert.Equal(t, TopicAnswerRegistered, ev.Topic)
		assert.Equal(t, fmt.Sprintf("alpha.%d", i), ev.Payload.Label)
	}
}

func TestResetClearsAttemptState(t *testing.T) {
	r := newTestRegistry(t, Config{MaxAnswersPerAgent: 1, Novelty: NoveltyLenient})

	require.True(t, r.Submit("alpha", "first attempt answer").Accepted)
	assert.True(t, r.CapReached("alpha"))

	r.Reset(2)

	assert.Equal(t, 0, r.Len())
	assert.False(t, r.CapReached("alpha"))
	assert.False(t, r.Has("alpha.1"))

	// Labels restart from .1 in the new attempt.
	out := r.Submit("alpha", "second attempt answer")
	require.True(t, out.Accepted)
	assert.Equal(t, "alpha.1", out.Label)

	a, _ := r.Get("alpha.1")
	assert.Equal(t, 2, a.Attempt)
}
