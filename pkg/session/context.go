// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package session carries run-scoped identifiers through contexts.
package session

import "context"

// sessionIDKey is the context key for session IDs
type sessionIDKey struct{}

// agentIDKey is the context key for agent IDs
type agentIDKey struct{}

// attemptKey is the context key for coordination attempt numbers
type attemptKey struct{}

// WithSessionID injects a session ID into the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not found.
func SessionIDFromContext(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return sessionID
	}
	return ""
}

// WithAgentID injects an agent ID into the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	if agentID == "" {
		return ctx
	}
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

// AgentIDFromContext extracts the agent ID from the context.
// Returns empty string if not found.
func AgentIDFromContext(ctx context.Context) string {
	if agentID, ok := ctx.Value(agentIDKey{}).(string); ok {
		return agentID
	}
	return ""
}

// WithAttempt injects the coordination attempt number into the context
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext extracts the attempt number from the context.
// Returns 1 (the first attempt) if not found.
func AttemptFromContext(ctx context.Context) int {
	if attempt, ok := ctx.Value(attemptKey{}).(int); ok {
		return attempt
	}
	return 1
}
