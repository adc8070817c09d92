// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package anthropic

import "encoding/json"

// messagesRequest represents a request to the Anthropic Messages API.
type messagesRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	System      string        `json:"system,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// wireMessage represents a single message in the conversation.
type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock represents a content block in a message.
// Uses custom MarshalJSON because tool_use blocks must always include
// "input", even when empty, and omitempty cannot express that.
type contentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

func (cb contentBlock) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"type": cb.Type,
	}
	if cb.Text != "" {
		m["text"] = cb.Text
	}
	if cb.Thinking != "" {
		m["thinking"] = cb.Thinking
	}
	if cb.ID != "" {
		m["id"] = cb.ID
	}
	if cb.Name != "" {
		m["name"] = cb.Name
	}
	if cb.Type == "tool_use" {
		if len(cb.Input) == 0 {
			m["input"] = map[string]interface{}{}
		} else {
			m["input"] = cb.Input
		}
	} else if len(cb.Input) > 0 {
		m["input"] = cb.Input
	}
	if cb.ToolUseID != "" {
		m["tool_use_id"] = cb.ToolUseID
	}
	if cb.Content != "" {
		m["content"] = cb.Content
	}
	if cb.IsError {
		m["is_error"] = true
	}
	return json.Marshal(m)
}

// wireTool represents a tool definition for the model.
type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// wireUsage represents token usage information.
type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// streamEvent represents a streaming event from the Anthropic API.
type streamEvent struct {
	Type         string        `json:"type"` // message_start, content_block_start, content_block_delta, content_block_stop, message_delta, message_stop
	Message      *wireEnvelope `json:"message,omitempty"`
	Index        int           `json:"index,omitempty"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *streamDelta  `json:"delta,omitempty"`
	Usage        *wireUsage    `json:"usage,omitempty"`
}

// wireEnvelope is the message object carried by message_start events.
type wireEnvelope struct {
	ID    string    `json:"id"`
	Model string    `json:"model"`
	Usage wireUsage `json:"usage"`
}

// streamDelta represents a delta in a streaming event.
type streamDelta struct {
	Type        string `json:"type,omitempty"`         // text_delta, thinking_delta, input_json_delta
	Text        string `json:"text,omitempty"`         // for text deltas
	Thinking    string `json:"thinking,omitempty"`     // for thinking deltas
	PartialJSON string `json:"partial_json,omitempty"` // for input_json_delta (tool input streaming)
	StopReason  string `json:"stop_reason,omitempty"`  // for message_delta events
}

// apiError is the error envelope returned on non-200 responses.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
