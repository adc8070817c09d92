// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package backend defines the streaming adapter interface the coordination
// runtime consumes, plus error classification shared by all adapters.
//
// A backend executes exactly one model turn per Stream call. Multi-turn
// conversations (tool results, peer-answer injections, wrap-up advisories)
// are driven by the caller appending messages and calling Stream again.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/teradata-labs/massgen/pkg/types"
)

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	// Name is the tool name the model calls
	Name string

	// Description tells the model when to use the tool
	Description string

	// InputSchema is the JSON schema for the tool arguments
	InputSchema map[string]interface{}
}

// Params are per-turn sampling parameters.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Backend streams one model turn at a time.
//
// Contract: the returned channel carries zero or more content/reasoning/
// tool_call/usage chunks and is closed after exactly one ChunkDone. A stream
// that ends without a terminal tool call and with Done==DoneStop is treated
// by the runner as no progress. Cancellation is cooperative via ctx.
type Backend interface {
	// Stream starts one model turn over the full conversation so far.
	Stream(ctx context.Context, conversation []types.Message, tools []ToolSpec, params Params) (<-chan types.StreamChunk, error)

	// Name returns the adapter name (e.g. "anthropic", "scripted").
	Name() string

	// Model returns the model identifier.
	Model() string
}

// ErrContextLength signals that the conversation no longer fits the model
// context window. The runner is allowed one compression retry before
// escalating.
var ErrContextLength = errors.New("context length exceeded")

// TransientError wraps failures worth retrying: network errors, 5xx
// responses, and rate limits.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
