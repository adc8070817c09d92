// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/teradata-labs/massgen/pkg/types"
)

// TokenCounter estimates conversation sizes for compaction decisions.
// Uses tiktoken with cl100k_base encoding (Claude-compatible approximation).
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns the singleton counter.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fallback: char-based estimation when the encoding is
			// unavailable (offline first run).
			globalTokenCounter = &TokenCounter{encoder: nil}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count for a text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateMessagesTokens estimates the token count of a conversation,
// including per-message structural overhead.
func (tc *TokenCounter) EstimateMessagesTokens(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += 10
		total += tc.CountTokens(msg.Content)
		if len(msg.ToolCalls) > 0 {
			total += tc.CountTokens(fmt.Sprintf("%v", msg.ToolCalls))
		}
	}
	return total
}

const compactionNotice = "[Earlier turns were summarized away to fit the context window. All registered answers remain listed in the system prompt and injected notifications below.]"

// compactConversation shrinks a conversation that overflowed the model
// context: the system prompt and the original task survive, the oldest
// middle turns are dropped, and a notice marks the gap. Returns the
// original slice unchanged when nothing can be dropped.
func compactConversation(conv []types.Message, counter *TokenCounter, budget int) []types.Message {
	if len(conv) <= 3 {
		return conv
	}

	// Head: system prompt plus the first user turn (the task itself).
	head := 1
	if conv[0].Role == "system" && len(conv) > 1 {
		head = 2
	}

	// Keep the most recent turns that fit the remaining budget, never
	// splitting a tool result from its assistant turn.
	headTokens := counter.EstimateMessagesTokens(conv[:head])
	remaining := budget - headTokens - counter.CountTokens(compactionNotice)

	tailStart := len(conv)
	for i := len(conv) - 1; i >= head; i-- {
		if counter.EstimateMessagesTokens(conv[i:]) > remaining {
			break
		}
		tailStart = i
	}
	// A tool result must follow the assistant turn that produced it.
	for tailStart < len(conv) && conv[tailStart].Role == "tool" {
		tailStart++
	}
	if tailStart <= head {
		return conv
	}

	out := make([]types.Message, 0, head+1+len(conv)-tailStart)
	out = append(out, conv[:head]...)
	out = append(out, types.Message{Role: "user", Content: compactionNotice})
	out = append(out, conv[tailStart:]...)
	return out
}
