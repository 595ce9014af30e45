// Package approval implements the Approval Manager (spec §4.C): the
// policy engine deciding which tool operations run automatically versus
// prompting the operator, layered over the teacher's internal/permission
// engine rather than replacing it.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coderidge/forge/internal/logging"
	"github.com/coderidge/forge/internal/permission"
	"github.com/coderidge/forge/internal/tool"
)

// Decision mirrors spec §4.C's decide() result.
type Decision string

const (
	Allow  Decision = "allow"
	Deny   Decision = "deny"
	Prompt Decision = "prompt"
)

// PromptOutcome is the operator's response to a Prompt, per spec §4.C.
type PromptOutcome string

const (
	Yes           PromptOutcome = "yes"
	YesForSession PromptOutcome = "yes_for_session"
	No            PromptOutcome = "no"
	Edit          PromptOutcome = "edit"
	Quit          PromptOutcome = "quit"
)

// ErrUserAborted is returned up to the agent loop when the operator
// chooses Quit at a prompt.
var ErrUserAborted = errors.New("user aborted")

// PromptTimeout bounds how long the Manager waits for an operator
// response before treating the prompt as No, per spec §4.C.
const PromptTimeout = 5 * time.Minute

// Operation is one candidate tool invocation awaiting a decision.
type Operation struct {
	ToolName       string
	PermissionClass tool.PermissionClass
	Args           map[string]interface{}
	// Description is a short, human-facing summary of what the
	// operation will do, shown in the prompt preview.
	Description string
}

// ApprovalRule mirrors spec §3's ApprovalRule: a predicate over a tool's
// arguments plus a decision and a scope.
type ApprovalRule struct {
	ToolName  string
	Predicate func(args map[string]interface{}) bool
	Decision  Decision
	Scope     Scope
}

type Scope string

const (
	OnceSession Scope = "once_session"
	Persistent  Scope = "persistent"
)

// PromptFunc is invoked when the Manager needs to ask the operator. ctx
// carries the prompt timeout; implementations must return (No, nil) or
// an error if they cannot answer before ctx is done.
type PromptFunc func(ctx context.Context, op Operation) (PromptOutcome, map[string]interface{}, error)

// Manager implements the decision procedure of spec §4.C: read-only
// short-circuit, its own persistent rules, approve-all, session
// memoization, then (when one is attached) the teacher's permission.Engine
// (glob/regex rule matching, sensitive path protection) via
// CheckRulesOnly, and finally Prompt.
type Manager struct {
	mu sync.Mutex

	engine *permission.Engine
	prompt PromptFunc

	persistentRules []ApprovalRule
	approveAll      bool
	memo            map[string]Decision // key: tool + normalized arg signature
}

// NewManager wraps an existing permission.Engine (the teacher's glob/regex
// rule matcher) with the session-memoization and approve-all semantics
// spec §4.C requires on top of it.
func NewManager(engine *permission.Engine, prompt PromptFunc) *Manager {
	return &Manager{
		engine: engine,
		prompt: prompt,
		memo:   make(map[string]Decision),
	}
}

// AddPersistentRule registers a rule that outlives the current session
// decision (spec: "persistent rule matches").
func (m *Manager) AddPersistentRule(r ApprovalRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistentRules = append(m.persistentRules, r)
}

// signature normalizes an operation's arguments into a stable string for
// session memoization, per spec §4.C step 4.
func signature(toolName string, args map[string]interface{}) string {
	data, _ := json.Marshal(args)
	sum := sha256.Sum256(data)
	return toolName + ":" + hex.EncodeToString(sum[:8])
}

// Decide implements spec §4.C's decide(op) procedure.
func (m *Manager) Decide(op Operation) Decision {
	if op.PermissionClass == tool.PermissionReadOnly {
		return Allow
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.persistentRules {
		if r.ToolName != "" && r.ToolName != op.ToolName {
			continue
		}
		if r.Predicate == nil || r.Predicate(op.Args) {
			return r.Decision
		}
	}

	if m.approveAll {
		return Allow
	}

	sig := signature(op.ToolName, op.Args)
	if d, ok := m.memo[sig]; ok {
		return d
	}

	if m.engine != nil {
		if resp, ok := m.engine.CheckRulesOnly(toEngineRequest(op)); ok {
			if resp.Allowed {
				return Allow
			}
			return Deny
		}
	}

	return Prompt
}

// toEngineRequest adapts an Operation to the legacy engine's Request shape
// so its glob/regex ruleset and sensitive-path protection still apply.
func toEngineRequest(op Operation) *permission.Request {
	action := permission.ActionExecute
	switch op.PermissionClass {
	case tool.PermissionReadOnly:
		action = permission.ActionRead
	case tool.PermissionWriteLocal, tool.PermissionWriteBroad:
		action = permission.ActionWrite
	case tool.PermissionExecute:
		action = permission.ActionExecute
	case tool.PermissionNetwork:
		action = permission.ActionNetwork
	}
	path := ""
	if p, ok := op.Args["path"].(string); ok {
		path = p
	} else if p, ok := op.Args["file_path"].(string); ok {
		path = p
	} else if p, ok := op.Args["filePath"].(string); ok {
		path = p
	} else if c, ok := op.Args["command"].(string); ok {
		path = c
	}
	return &permission.Request{
		Action:      action,
		Path:        path,
		Description: op.Description,
	}
}

// Resolve runs Decide, and if the result is Prompt, synchronously asks
// the operator via PromptFunc, applying YesForSession/Edit/Quit
// semantics. It returns the final allow/deny verdict and, for Edit,
// possibly-mutated args.
func (m *Manager) Resolve(ctx context.Context, op Operation) (bool, map[string]interface{}, error) {
	switch m.Decide(op) {
	case Allow:
		return true, op.Args, nil
	case Deny:
		return false, op.Args, nil
	}

	if m.prompt == nil {
		return false, op.Args, fmt.Errorf("approval: prompt required but no PromptFunc configured")
	}

	for {
		promptCtx, cancel := context.WithTimeout(ctx, PromptTimeout)
		outcome, newArgs, err := m.prompt(promptCtx, op)
		cancel()
		if err != nil {
			if errors.Is(promptCtx.Err(), context.DeadlineExceeded) {
				outcome, err = No, nil
			} else {
				return false, op.Args, err
			}
		}
		if newArgs != nil {
			op.Args = newArgs
		}

		switch outcome {
		case Yes:
			m.memoize(op, Allow)
			return true, op.Args, nil
		case YesForSession:
			m.mu.Lock()
			m.approveAll = true
			m.mu.Unlock()
			return true, op.Args, nil
		case Edit:
			continue // re-prompt with mutated args
		case Quit:
			logging.For("approval").Info().Str("tool", op.ToolName).Msg("user aborted at approval prompt")
			return false, op.Args, ErrUserAborted
		case No:
			fallthrough
		default:
			m.memoize(op, Deny)
			return false, op.Args, nil
		}
	}
}

func (m *Manager) memoize(op Operation, d Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memo[signature(op.ToolName, op.Args)] = d
}

// Preview truncates a human-facing operation description to roughly
// three lines, per spec §4.C's prompt protocol.
func Preview(description string) string {
	lines := strings.SplitN(description, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
		lines = append(lines, "...")
	}
	return strings.Join(lines, "\n")
}
