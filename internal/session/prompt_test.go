package session

import (
	"testing"

	"github.com/coderidge/forge/internal/agent"
	"github.com/coderidge/forge/internal/cancel"
)

func userTurn(text string) Message {
	return Message{Role: "user", Content: text}
}

func toolResultTurn() Message {
	return Message{Role: "user", Parts: []Part{{Type: "tool_result", Content: "ok"}}}
}

func assistantTurn() Message {
	return Message{Role: "assistant", Content: "ok"}
}

func TestWindowMessagesPureModeKeepsOnlyFinalUserTurn(t *testing.T) {
	messages := []Message{
		userTurn("turn one"),
		assistantTurn(),
		toolResultTurn(),
		assistantTurn(),
		userTurn("turn two"),
	}

	out := windowMessages(messages, 0)
	if len(out) != 1 {
		t.Fatalf("pure mode: want 1 message, got %d", len(out))
	}
	if out[0].Content != "turn two" {
		t.Errorf("pure mode: want final user turn, got %q", out[0].Content)
	}
}

func TestWindowMessagesPureModeSkipsToolResultMessages(t *testing.T) {
	messages := []Message{
		userTurn("turn one"),
		assistantTurn(),
		toolResultTurn(),
	}
	out := windowMessages(messages, 0)
	if len(out) != 3 {
		t.Fatalf("want the last true user turn onward (3 messages), got %d", len(out))
	}
	if out[0].Content != "turn one" {
		t.Errorf("want scan to skip the tool_result message and land on the true user turn, got %q", out[0].Content)
	}
}

func TestWindowMessagesKeepsLastNTurns(t *testing.T) {
	messages := []Message{
		userTurn("turn one"),
		assistantTurn(),
		userTurn("turn two"),
		assistantTurn(),
		userTurn("turn three"),
		assistantTurn(),
	}

	out := windowMessages(messages, 2)
	if len(out) != 4 {
		t.Fatalf("window=2: want last 2 turns (4 messages), got %d", len(out))
	}
	if out[0].Content != "turn two" {
		t.Errorf("window=2: want to start at turn two, got %q", out[0].Content)
	}
}

func TestWindowMessagesFewerTurnsThanWindowReturnsAll(t *testing.T) {
	messages := []Message{
		userTurn("only turn"),
		assistantTurn(),
	}
	out := windowMessages(messages, 5)
	if len(out) != len(messages) {
		t.Fatalf("window larger than history: want all %d messages, got %d", len(messages), len(out))
	}
}

func TestWindowMessagesToolResultDoesNotCountAsTurnStart(t *testing.T) {
	messages := []Message{
		userTurn("turn one"),
		assistantTurn(),
		toolResultTurn(),
		assistantTurn(),
		userTurn("turn two"),
		assistantTurn(),
	}
	out := windowMessages(messages, 1)
	if len(out) != 2 {
		t.Fatalf("window=1: want only turn two onward (2 messages), got %d", len(out))
	}
	if out[0].Content != "turn two" {
		t.Errorf("window=1: want to start at turn two, got %q", out[0].Content)
	}
}

func TestResolveToolPermissionUsesLegacyRulesWhenNoApprovalManager(t *testing.T) {
	pe := &PromptEngine{
		agent: &agent.Agent{},
	}
	allowed, denyMsg, err := pe.resolveToolPermission(nil, "read_file", map[string]interface{}{"path": "a.go"})
	if err != nil {
		t.Fatalf("resolveToolPermission: %v", err)
	}
	if !allowed {
		t.Errorf("expected legacy path to default-allow an unconfigured tool, got denied: %s", denyMsg)
	}
}

func TestInterruptTripsCancelSignal(t *testing.T) {
	pe := &PromptEngine{cancelSig: cancel.New()}
	if pe.cancelSig.Cancelled() {
		t.Fatal("expected a freshly constructed signal to be uncancelled")
	}
	pe.Interrupt()
	if !pe.cancelSig.Cancelled() {
		t.Fatal("expected Interrupt to trip the shared cancellation signal")
	}
}
