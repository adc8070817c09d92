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
	"time"

	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/types"
	"github.com/teradata-labs/massgen/pkg/workspace"
	"go.uber.org/zap"
)

// PresentationResult is the outcome of the final presentation stage.
type PresentationResult struct {
	// FinalText is the winner's polished answer as streamed to the user.
	FinalText string

	// WorkspacePublished reports whether the winner's workspace snapshot
	// made it to the final workspace directory.
	WorkspacePublished bool

	// FinalWorkspace is the published directory when WorkspacePublished.
	FinalWorkspace string

	Usage types.Usage
}

// Presentation runs the elected winner one more time, without coordination
// tools, to deliver the final answer. The winner's workspace snapshot is
// published first so the presentation can refer to real files.
type Presentation struct {
	backend backend.Backend
	params  backend.Params
	sink    UISink
	ws      *workspace.Manager
	logger  *zap.Logger
}

// NewPresentation wires the presentation stage for the winning agent's
// backend. ws may be nil when the session runs without workspaces.
func NewPresentation(be backend.Backend, params backend.Params, sink UISink, ws *workspace.Manager, logger *zap.Logger) *Presentation {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presentation{backend: be, params: params, sink: sink, ws: ws, logger: logger}
}

// Present publishes the winner's workspace and streams the final answer.
// Workspace failures degrade to a text-only presentation instead of
// failing the session.
func (p *Presentation) Present(ctx context.Context, question string, winner types.Answer, all []types.Answer) (PresentationResult, error) {
	result := PresentationResult{}

	if p.ws != nil {
		dir, err := p.ws.PromoteWinner(winner.AgentID)
		if err != nil {
			p.logger.Warn("failed to publish winner workspace, presenting without it",
				zap.String("agent_id", winner.AgentID),
				zap.Error(err))
		} else {
			result.WorkspacePublished = true
			result.FinalWorkspace = dir
			p.logger.Info("winner workspace published",
				zap.String("dir", dir),
				zap.String("snapshot_id", winner.SnapshotID))
		}
	}

	conv := []types.Message{
		{Role: "system", Content: presentationPrompt(question, winner, all, result.WorkspacePublished), Timestamp: time.Now()},
		{Role: "user", Content: "Present the final answer now.", Timestamp: time.Now()},
	}

	text, usage, err := p.streamOnce(ctx, conv)
	if err != nil {
		// The elected answer still stands; fall back to its raw text.
		p.logger.Error("presentation stream failed, falling back to elected answer text",
			zap.Error(err))
		result.FinalText = winner.Text
		result.Usage = usage
		return result, nil
	}
	if strings.TrimSpace(text) == "" {
		text = winner.Text
	}
	result.FinalText = text
	result.Usage = usage
	return result, nil
}

// PostEvaluate asks the winner to audit the delivered answer and decide
// whether to burn a restart. Evaluation failures count as approval.
func (p *Presentation) PostEvaluate(ctx context.Context, question, finalText string, restartsLeft int) (bool, string, types.Usage) {
	conv := []types.Message{
		{Role: "system", Content: postEvaluationPrompt(restartsLeft), Timestamp: time.Now()},
		{Role: "user", Content: fmt.Sprintf("Original task:\n%s\n\nDelivered answer:\n%s", question, finalText), Timestamp: time.Now()},
	}
	reply, usage, err := p.streamOnce(ctx, conv)
	if err != nil {
		p.logger.Warn("post-evaluation failed, keeping answer", zap.Error(err))
		return false, "", usage
	}
	restart, reason := parsePostEvaluation(reply)
	if restart {
		p.logger.Info("post-evaluation requested restart", zap.String("reason", reason))
	}
	return restart, reason, usage
}

// streamOnce runs a single tool-free model turn and collects its text.
// Presentation chunks go to the sink under the "presenter" id.
func (p *Presentation) streamOnce(ctx context.Context, conv []types.Message) (string, types.Usage, error) {
	var usage types.Usage

	stream, err := p.backend.Stream(ctx, conv, nil, p.params)
	if err != nil {
		return "", usage, err
	}

	var text strings.Builder
	done := types.DoneStop
	for chunk := range stream {
		switch chunk.Kind {
		case types.ChunkContent:
			text.WriteString(chunk.Text)
			p.sink.OnChunk("presenter", chunk)
		case types.ChunkReasoning:
			p.sink.OnChunk("presenter", chunk)
		case types.ChunkUsage:
			if chunk.Usage != nil {
				usage.Add(*chunk.Usage)
			}
		case types.ChunkDone:
			done = chunk.Done
		}
	}
	if done == types.DoneError {
		return text.String(), usage, errors.New("presentation stream reported an error")
	}
	if done == types.DoneCancelled {
		return text.String(), usage, ctx.Err()
	}
	return text.String(), usage, nil
}
