// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package observability provides tracing for massgen coordination runs.
//
// Every phase of a coordination is instrumented: agent rounds, answer
// submissions, vote casts, elections, and the final presentation. Traces are
// exported by pluggable Tracer implementations; the default is a no-op.
package observability

import (
	"context"
	"time"
)

// StatusCode represents the final status of a span.
type StatusCode int

const (
	// StatusUnset indicates status was not explicitly set.
	StatusUnset StatusCode = iota
	// StatusOK indicates successful completion.
	StatusOK
	// StatusError indicates an error occurred.
	StatusError
)

// Status represents the final status of a span with optional message.
type Status struct {
	Code    StatusCode
	Message string
}

// Event represents a point-in-time occurrence within a span.
type Event struct {
	Timestamp  time.Time
	Name       string
	Attributes map[string]interface{}
}

// Span represents a unit of work with timing and metadata.
// Spans form a tree structure via ParentID references.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string

	Name       string
	Attributes map[string]interface{}

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Events []Event
	Status Status
}

// SetAttribute sets a key-value attribute on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]interface{})
	}
	s.Attributes[key] = value
}

// AddEvent adds a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]interface{}) {
	s.Events = append(s.Events, Event{
		Timestamp:  time.Now(),
		Name:       name,
		Attributes: attrs,
	})
}

// RecordError records an error on the span and marks it failed.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.Status = Status{Code: StatusError, Message: err.Error()}
}

// SpanOption configures a span at creation time.
type SpanOption func(*Span)

// WithAttribute sets an attribute when the span is created.
func WithAttribute(key string, value interface{}) SpanOption {
	return func(s *Span) {
		s.SetAttribute(key, value)
	}
}

// Tracer is the interface for instrumenting coordination operations.
//
// Thread-safe: all methods can be called concurrently.
type Tracer interface {
	// StartSpan creates a new span and returns a context containing it.
	// The span is linked to its parent via context propagation.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span)

	// EndSpan completes a span, calculates duration, and exports it.
	// Always call this via defer after StartSpan.
	EndSpan(span *Span)

	// RecordMetric records a point-in-time metric value with labels.
	RecordMetric(name string, value float64, labels map[string]string)

	// Flush forces immediate export of buffered traces.
	Flush(ctx context.Context) error
}

type contextKey string

const spanContextKey contextKey = "massgen.span"

// SpanFromContext retrieves the current span from context, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan returns a new context with the span attached.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}
