package tracing

import (
	"context"
	"strings"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}
	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
	if len(id1) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars", len(id1))
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if !strings.HasPrefix(id1, "run-") {
		t.Errorf("Expected run- prefix, got %s", id1)
	}
	if len(id1) != len("run-")+12 {
		t.Errorf("Expected 16 chars, got %d", len(id1))
	}
	if id1 == id2 {
		t.Error("NewRunID returned duplicate IDs")
	}
}

func TestWithValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRunID(ctx, "run-456")
	ctx = WithTaskID(ctx, "task-1")
	ctx = WithAgent(ctx, "Market Analyst")

	if GetTraceID(ctx) != "trace-123" {
		t.Errorf("Expected trace ID trace-123, got %s", GetTraceID(ctx))
	}
	if GetRunID(ctx) != "run-456" {
		t.Errorf("Expected run ID run-456, got %s", GetRunID(ctx))
	}
	if GetTaskID(ctx) != "task-1" {
		t.Errorf("Expected task ID task-1, got %s", GetTaskID(ctx))
	}
	if GetAgent(ctx) != "Market Analyst" {
		t.Errorf("Expected agent Market Analyst, got %s", GetAgent(ctx))
	}
}

func TestGettersEmpty(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" || GetRunID(ctx) != "" || GetTaskID(ctx) != "" || GetAgent(ctx) != "" {
		t.Error("Expected empty values on a bare context")
	}
}

func TestFromContextRoundTrip(t *testing.T) {
	tc := &TraceContext{
		TraceID: "trace-123",
		RunID:   "run-456",
		TaskID:  "task-2",
		Agent:   "Report Compiler",
	}

	got := FromContext(NewContext(context.Background(), tc))
	if *got != *tc {
		t.Errorf("Expected %+v, got %+v", *tc, *got)
	}
}

func TestNewContextPartial(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{TraceID: "trace-123"})

	if GetTraceID(ctx) != "trace-123" {
		t.Error("Trace ID not set correctly")
	}
	if GetRunID(ctx) != "" {
		t.Error("Run ID should be empty")
	}
	if GetTaskID(ctx) != "" {
		t.Error("Task ID should be empty")
	}
}

func TestNewRunContext(t *testing.T) {
	ctx := NewRunContext(context.Background(), "run-abc")

	if GetTraceID(ctx) == "" {
		t.Error("Trace ID not generated")
	}
	if GetRunID(ctx) != "run-abc" {
		t.Errorf("Expected run-abc, got %s", GetRunID(ctx))
	}

	existing := WithTraceID(context.Background(), "trace-keep")
	ctx = NewRunContext(existing, "run-def")
	if GetTraceID(ctx) != "trace-keep" {
		t.Error("Existing trace ID should be kept")
	}
}
