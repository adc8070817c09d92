// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teradata-labs/massgen/pkg/types"
)

func TestCompactConversationKeepsHeadAndTail(t *testing.T) {
	conv := []types.Message{
		{Role: "system", Content: "protocol rules"},
		{Role: "user", Content: "the original task"},
	}
	for i := 0; i < 50; i++ {
		conv = append(conv, types.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("middle turn %d %s", i, strings.Repeat("filler ", 200)),
		})
	}
	conv = append(conv, types.Message{Role: "user", Content: "latest injected note"})

	got := compactConversation(conv, GetTokenCounter(), 2000)
	require.Less(t, len(got), len(conv))

	assert.Equal(t, "system", got[0].Role)
	assert.Equal(t, "protocol rules", got[0].Content)
	assert.Equal(t, "the original task", got[1].Content)
	assert.Equal(t, compactionNotice, got[2].Content)
	assert.Equal(t, "latest injected note", got[len(got)-1].Content)
}

func TestCompactConversationShortConversationUntouched(t *testing.T) {
	conv := []types.Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "task"},
		{Role: "assistant", Content: "working"},
	}
	got := compactConversation(conv, GetTokenCounter(), 10)
	assert.Equal(t, conv, got)
}

func TestCompactConversationNeverSplitsToolResults(t *testing.T) {
	conv := []types.Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "task"},
	}
	for i := 0; i < 30; i++ {
		conv = append(conv,
			types.Message{Role: "assistant", Content: strings.Repeat("call ", 300)},
			types.Message{Role: "tool", Content: "result", ToolUseID: fmt.Sprintf("c%d", i)},
		)
	}

	got := compactConversation(conv, GetTokenCounter(), 1500)
	require.Less(t, len(got), len(conv))

	// The first kept turn after the notice must not be an orphaned tool
	// result.
	assert.NotEqual(t, "tool", got[3].Role)
}
