// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/types"
	"github.com/xeipuuv/gojsonschema"
)

// ToolExecutor runs non-terminal tools on behalf of an agent. The runtime
// ships no substrate tools of its own; embedders plug in file or shell
// tools here.
type ToolExecutor interface {
	// Specs lists the tools offered to every agent.
	Specs() []backend.ToolSpec

	// Execute runs one tool call inside the agent's live workspace.
	Execute(ctx context.Context, agentID string, call types.ToolCall) types.ToolResult
}

// NoTools is the default executor: no substrate tools at all.
type NoTools struct{}

// Specs implements ToolExecutor.
func (NoTools) Specs() []backend.ToolSpec { return nil }

// Execute implements ToolExecutor.
func (NoTools) Execute(_ context.Context, _ string, call types.ToolCall) types.ToolResult {
	return types.ToolResult{
		ToolUseID: call.ID,
		Content:   fmt.Sprintf("unknown tool: %s", call.Name),
		IsError:   true,
	}
}

var voteSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"target": map[string]interface{}{
			"type":        "string",
			"description": "Label of the answer to vote for, e.g. \"alpha.1\"",
		},
		"reason": map[string]interface{}{
			"type":        "string",
			"description": "One or two sentences on why this answer should win",
		},
	},
	"required": []interface{}{"target", "reason"},
}

var newAnswerSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"text": map[string]interface{}{
			"type":        "string",
			"description": "The complete answer text",
			"minLength":   1,
		},
	},
	"required": []interface{}{"text"},
}

// coordinationToolSpecs returns the two terminal tools every agent gets.
func coordinationToolSpecs() []backend.ToolSpec {
	return []backend.ToolSpec{
		{
			Name:        types.ToolVote,
			Description: "Vote for an existing registered answer by label. Replaces your previous vote. Ends your round.",
			InputSchema: voteSchema,
		},
		{
			Name:        types.ToolNewAnswer,
			Description: "Register your own complete answer. Ends your round.",
			InputSchema: newAnswerSchema,
		},
	}
}

var (
	voteValidator      = gojsonschema.NewGoLoader(voteSchema)
	newAnswerValidator = gojsonschema.NewGoLoader(newAnswerSchema)
)

// validateToolInput checks a terminal tool's arguments against its schema.
// Returns a model-readable error string, or "" when valid.
func validateToolInput(name string, input map[string]interface{}) string {
	var schema gojsonschema.JSONLoader
	switch name {
	case types.ToolVote:
		schema = voteValidator
	case types.ToolNewAnswer:
		schema = newAnswerValidator
	default:
		return ""
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Sprintf("invalid %s arguments: %v", name, err)
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Sprintf("invalid %s arguments: %s", name, strings.Join(msgs, "; "))
}

// stringArg extracts a string field from decoded tool input.
func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}
