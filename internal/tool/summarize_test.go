package tool

import (
	"context"
	"strings"
	"testing"
)

func TestSummarizeLeavesSmallOutputUnchanged(t *testing.T) {
	out, summarized := Summarize("call-1", "short output")
	if summarized {
		t.Fatal("output under budget should not be summarized")
	}
	if out != "short output" {
		t.Errorf("unchanged output mutated: %q", out)
	}
}

func TestSummarizeTruncatesOversizedOutputAndKeepsEnds(t *testing.T) {
	big := strings.Repeat("a", SummaryBudget*2)
	summary, summarized := Summarize("call-2", big)
	if !summarized {
		t.Fatal("expected oversized output to be summarized")
	}
	if len(summary) >= len(big) {
		t.Fatalf("summary (%d bytes) should be shorter than original (%d bytes)", len(summary), len(big))
	}
	if !strings.Contains(summary, "call-2") {
		t.Error("expected summary to reference the tool_call_id for expand_result")
	}
	if !strings.HasPrefix(summary, "aaa") {
		t.Error("expected summary to retain a prefix of the original content")
	}
}

func TestResultStorePutGetRoundTrip(t *testing.T) {
	s := NewResultStore()
	s.Put("call-3", "the full payload")
	got, ok := s.Get("call-3")
	if !ok || got != "the full payload" {
		t.Fatalf("expected round trip, got %q, ok=%v", got, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("expected miss for unknown tool_call_id")
	}
}

func TestExpandResultToolReturnsStoredPayload(t *testing.T) {
	s := NewResultStore()
	s.Put("call-4", "full content here")
	def := ExpandResultTool(s)
	result, err := def.Execute(context.Background(), &ToolContext{}, map[string]interface{}{"tool_call_id": "call-4"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "full content here" {
		t.Errorf("want retained payload, got %q", result.Output)
	}
}

func TestExpandResultToolErrorsOnUnknownID(t *testing.T) {
	def := ExpandResultTool(NewResultStore())
	result, err := def.Execute(context.Background(), &ToolContext{}, map[string]interface{}{"tool_call_id": "nope"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected an error result for an unknown tool_call_id")
	}
}

func TestExpandResultToolRequiresID(t *testing.T) {
	def := ExpandResultTool(NewResultStore())
	result, err := def.Execute(context.Background(), &ToolContext{}, map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected an error result when tool_call_id is missing")
	}
}
