package approval

import (
	"context"
	"testing"

	"github.com/coderidge/forge/internal/tool"
)

func TestDecideReadOnlyAlwaysAllowed(t *testing.T) {
	m := NewManager(nil, nil)
	d := m.Decide(Operation{ToolName: "read", PermissionClass: tool.PermissionReadOnly})
	if d != Allow {
		t.Fatalf("read-only op: want Allow, got %v", d)
	}
}

func TestDecidePersistentRuleWins(t *testing.T) {
	m := NewManager(nil, nil)
	m.AddPersistentRule(ApprovalRule{ToolName: "bash", Decision: Deny})

	d := m.Decide(Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute, Args: map[string]interface{}{"command": "rm -rf /"}})
	if d != Deny {
		t.Fatalf("persistent deny rule: want Deny, got %v", d)
	}
}

func TestDecideApproveAllShortCircuits(t *testing.T) {
	m := NewManager(nil, nil)
	m.approveAll = true
	d := m.Decide(Operation{ToolName: "write", PermissionClass: tool.PermissionWriteLocal})
	if d != Allow {
		t.Fatalf("approveAll: want Allow, got %v", d)
	}
}

func TestDecideMemoizedDecisionReused(t *testing.T) {
	m := NewManager(nil, nil)
	op := Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute, Args: map[string]interface{}{"command": "ls"}}
	m.memoize(op, Deny)
	if d := m.Decide(op); d != Deny {
		t.Fatalf("memoized decision: want Deny, got %v", d)
	}
}

func TestDecideDefaultsToPrompt(t *testing.T) {
	m := NewManager(nil, nil)
	d := m.Decide(Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute})
	if d != Prompt {
		t.Fatalf("unmatched op: want Prompt, got %v", d)
	}
}

func TestResolveYesMemoizesAllow(t *testing.T) {
	m := NewManager(nil, func(ctx context.Context, op Operation) (PromptOutcome, map[string]interface{}, error) {
		return Yes, nil, nil
	})
	op := Operation{ToolName: "write", PermissionClass: tool.PermissionWriteLocal, Args: map[string]interface{}{"path": "a.go"}}
	allowed, _, err := m.Resolve(context.Background(), op)
	if err != nil || !allowed {
		t.Fatalf("Resolve: want allowed, got allowed=%v err=%v", allowed, err)
	}
	if d := m.Decide(op); d != Allow {
		t.Fatalf("after Yes, op should be memoized as Allow, got %v", d)
	}
}

func TestResolveYesForSessionSetsApproveAll(t *testing.T) {
	m := NewManager(nil, func(ctx context.Context, op Operation) (PromptOutcome, map[string]interface{}, error) {
		return YesForSession, nil, nil
	})
	op := Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute}
	allowed, _, err := m.Resolve(context.Background(), op)
	if err != nil || !allowed {
		t.Fatalf("Resolve: want allowed, got allowed=%v err=%v", allowed, err)
	}

	other := Operation{ToolName: "write", PermissionClass: tool.PermissionWriteBroad}
	if d := m.Decide(other); d != Allow {
		t.Fatalf("YesForSession should approve-all subsequent ops, got %v", d)
	}
}

func TestResolveNoDeniesAndMemoizes(t *testing.T) {
	m := NewManager(nil, func(ctx context.Context, op Operation) (PromptOutcome, map[string]interface{}, error) {
		return No, nil, nil
	})
	op := Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute, Args: map[string]interface{}{"command": "ls"}}
	allowed, _, err := m.Resolve(context.Background(), op)
	if err != nil || allowed {
		t.Fatalf("Resolve: want denied, got allowed=%v err=%v", allowed, err)
	}
	if d := m.Decide(op); d != Deny {
		t.Fatalf("after No, op should be memoized as Deny, got %v", d)
	}
}

func TestResolveQuitReturnsErrUserAborted(t *testing.T) {
	m := NewManager(nil, func(ctx context.Context, op Operation) (PromptOutcome, map[string]interface{}, error) {
		return Quit, nil, nil
	})
	op := Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute}
	_, _, err := m.Resolve(context.Background(), op)
	if err != ErrUserAborted {
		t.Fatalf("Resolve on Quit: want ErrUserAborted, got %v", err)
	}
}

func TestResolveEditReprompts(t *testing.T) {
	calls := 0
	m := NewManager(nil, func(ctx context.Context, op Operation) (PromptOutcome, map[string]interface{}, error) {
		calls++
		if calls == 1 {
			return Edit, map[string]interface{}{"command": "ls -la"}, nil
		}
		return Yes, nil, nil
	})
	op := Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute, Args: map[string]interface{}{"command": "ls"}}
	allowed, newArgs, err := m.Resolve(context.Background(), op)
	if err != nil || !allowed {
		t.Fatalf("Resolve: want allowed, got allowed=%v err=%v", allowed, err)
	}
	if calls != 2 {
		t.Fatalf("Edit outcome should trigger a re-prompt: want 2 calls, got %d", calls)
	}
	if newArgs["command"] != "ls -la" {
		t.Fatalf("expected mutated args to carry through: got %v", newArgs)
	}
}

func TestResolveNoPromptFuncErrors(t *testing.T) {
	m := NewManager(nil, nil)
	op := Operation{ToolName: "bash", PermissionClass: tool.PermissionExecute}
	_, _, err := m.Resolve(context.Background(), op)
	if err == nil {
		t.Fatal("expected error when Prompt is required but no PromptFunc is configured")
	}
}

func TestPreviewTruncatesToThreeLines(t *testing.T) {
	desc := "line one\nline two\nline three\nline four\nline five"
	got := Preview(desc)
	wantLines := 4 // 3 original lines + "..."
	count := 1
	for _, c := range got {
		if c == '\n' {
			count++
		}
	}
	if count != wantLines {
		t.Fatalf("Preview: want %d lines, got %d (%q)", wantLines, count, got)
	}
}
