// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTracer is a test implementation of Tracer that captures completed
// spans for inspection.
// Thread-safe: all methods can be called concurrently.
type MockTracer struct {
	mu      sync.RWMutex
	spans   []*Span
	metrics map[string]float64
}

// NewMockTracer creates a new mock tracer for testing.
func NewMockTracer() *MockTracer {
	return &MockTracer{
		spans:   make([]*Span, 0),
		metrics: make(map[string]float64),
	}
}

// StartSpan creates a new span and links it to its parent.
func (m *MockTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
		Events:     make([]Event, 0),
	}
	for _, opt := range opts {
		opt(span)
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan completes a span and stores it.
func (m *MockTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, span)
}

// RecordMetric stores the latest value per metric name.
func (m *MockTracer) RecordMetric(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[name] = value
}

// Flush does nothing.
func (m *MockTracer) Flush(ctx context.Context) error {
	return nil
}

// Spans returns a copy of all completed spans.
func (m *MockTracer) Spans() []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Span, len(m.spans))
	copy(out, m.spans)
	return out
}

// SpansByName returns completed spans matching the given name.
func (m *MockTracer) SpansByName(name string) []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Span
	for _, s := range m.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

var _ Tracer = (*MockTracer)(nil)
