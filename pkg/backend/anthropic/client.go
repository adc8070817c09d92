// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package anthropic implements the backend adapter for the Anthropic
// Messages API with SSE streaming.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the Anthropic Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"

	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-20250514"

	apiVersion = "2023-06-01"
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string        // Default: DefaultModel
	Endpoint    string        // Default: DefaultEndpoint
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
	Timeout     time.Duration // Per-request HTTP timeout; default: 10m
	Logger      *zap.Logger
}

// Client streams completions from the Anthropic Messages API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient creates an Anthropic backend client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      config.Logger,
	}
}

// Name implements backend.Backend.
func (c *Client) Name() string { return "anthropic" }

// Model implements backend.Backend.
func (c *Client) Model() string { return c.model }

// Stream implements backend.Backend. It starts one model turn and emits
// typed chunks until the SSE stream completes.
func (c *Client) Stream(ctx context.Context, conversation []types.Message, tools []backend.ToolSpec, params backend.Params) (<-chan types.StreamChunk, error) {
	systemPrompt, apiMessages := convertMessages(conversation)

	maxTokens := c.maxTokens
	if params.MaxTokens > 0 {
		maxTokens = params.MaxTokens
	}
	temperature := c.temperature
	if params.Temperature > 0 {
		temperature = params.Temperature
	}

	req := &messagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      systemPrompt,
		Stream:      true,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, backend.Transient(err)
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, classifyAPIError(httpResp.StatusCode, respBody)
	}

	out := make(chan types.StreamChunk, 64)
	go c.consumeSSE(ctx, httpResp.Body, out)
	return out, nil
}

// classifyAPIError maps HTTP failures onto the runtime's error taxonomy.
// 429 and 5xx are transient; context overflow gets its own sentinel so the
// runner can attempt compression.
func classifyAPIError(status int, body []byte) error {
	var envelope apiError
	_ = json.Unmarshal(body, &envelope)
	msg := envelope.Error.Message
	if msg == "" {
		msg = string(body)
	}

	if status == http.StatusBadRequest {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "prompt is too long") || strings.Contains(lower, "context length") {
			return fmt.Errorf("%w: %s", backend.ErrContextLength, msg)
		}
	}
	err := fmt.Errorf("API error (status %d): %s", status, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return backend.Transient(err)
	}
	return err
}

// consumeSSE reads the SSE body and forwards typed chunks. The channel is
// closed after exactly one ChunkDone.
func (c *Client) consumeSSE(ctx context.Context, body io.ReadCloser, out chan<- types.StreamChunk) {
	defer func() { _ = body.Close() }()
	defer close(out)

	emit := func(chunk types.StreamChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		stopReason string
		usage      types.Usage
		// Tool input JSON accumulates across input_json_delta events,
		// indexed by content block index.
		toolInputBuffers = make(map[int]*strings.Builder)
		openToolCalls    = make(map[int]*types.ToolCall)
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event streamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing.
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				openToolCalls[event.Index] = &types.ToolCall{
					ID:    event.ContentBlock.ID,
					Name:  event.ContentBlock.Name,
					Input: make(map[string]interface{}),
				}
				toolInputBuffers[event.Index] = &strings.Builder{}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					if !emit(types.StreamChunk{Kind: types.ChunkContent, Text: event.Delta.Text}) {
						return
					}
				}
			case "thinking_delta":
				if event.Delta.Thinking != "" {
					if !emit(types.StreamChunk{Kind: types.ChunkReasoning, Text: event.Delta.Thinking}) {
						return
					}
				}
			case "input_json_delta":
				if buf, exists := toolInputBuffers[event.Index]; exists {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			call, open := openToolCalls[event.Index]
			if !open {
				continue
			}
			if buf, exists := toolInputBuffers[event.Index]; exists && buf.Len() > 0 {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
					call.Input = input
				}
			}
			delete(openToolCalls, event.Index)
			delete(toolInputBuffers, event.Index)
			if !emit(types.StreamChunk{Kind: types.ChunkToolCall, ToolCall: call}) {
				return
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if event.Usage != nil {
				if event.Usage.InputTokens > 0 {
					usage.InputTokens = event.Usage.InputTokens
				}
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn("anthropic stream read failed", zap.Error(err))
		emit(types.StreamChunk{Kind: types.ChunkDone, Done: types.DoneError})
		return
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	if !emit(types.StreamChunk{Kind: types.ChunkUsage, Usage: &usage}) {
		return
	}
	emit(types.StreamChunk{Kind: types.ChunkDone, Done: mapStopReason(stopReason, ctx)})
}

func mapStopReason(stopReason string, ctx context.Context) types.DoneReason {
	if ctx.Err() != nil {
		return types.DoneCancelled
	}
	switch stopReason {
	case "max_tokens":
		return types.DoneLength
	case "end_turn", "tool_use", "stop_sequence":
		return types.DoneStop
	case "":
		return types.DoneError
	default:
		return types.DoneStop
	}
}

// convertMessages splits system turns out into the dedicated system field
// and converts the rest to Anthropic wire messages.
func convertMessages(conversation []types.Message) (string, []wireMessage) {
	var systemParts []string
	var out []wireMessage

	for _, msg := range conversation {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)

		case "assistant":
			blocks := make([]contentBlock, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Input,
				})
			}
			if len(blocks) > 0 {
				out = append(out, wireMessage{Role: "assistant", Content: blocks})
			}

		case "tool":
			out = append(out, wireMessage{Role: "user", Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolUseID,
				Content:   msg.Content,
			}}})

		default: // user
			out = append(out, wireMessage{Role: "user", Content: []contentBlock{{
				Type: "text",
				Text: msg.Content,
			}}})
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

var _ backend.Backend = (*Client)(nil)
