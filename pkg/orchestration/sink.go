// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"fmt"
	"io"
	"sync"

	"github.com/teradata-labs/massgen/pkg/types"
)

// UISink receives live stream chunks per agent. Implementations must be
// safe for concurrent use; every runner streams on its own goroutine.
type UISink interface {
	OnChunk(agentID string, chunk types.StreamChunk)
}

// NopSink discards everything.
type NopSink struct{}

// OnChunk implements UISink.
func (NopSink) OnChunk(string, types.StreamChunk) {}

// WriterSink renders content chunks as prefixed lines, one writer shared by
// all agents. Reasoning and tool traffic are dropped; this is the plain
// terminal view.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer

	// last tracks which agent wrote most recently so the prefix is only
	// printed on speaker change.
	last string
}

// NewWriterSink creates a sink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// OnChunk implements UISink.
func (s *WriterSink) OnChunk(agentID string, chunk types.StreamChunk) {
	if chunk.Kind != types.ChunkContent || chunk.Text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != agentID {
		fmt.Fprintf(s.w, "\n[%s] ", agentID)
		s.last = agentID
	}
	fmt.Fprint(s.w, chunk.Text)
}
