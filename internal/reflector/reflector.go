// Package reflector implements the post-iteration Reflector/Curator pair
// (spec §4.F): after a turn completes, the Reflector examines what
// happened and the Curator turns that into a bounded Playbook DeltaBatch.
// Both run as tool-free "hidden agent" LLM calls against the same
// provider.Provider the rest of the system uses, mirroring the teacher's
// compaction/title agents in internal/session/prompt.go.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coderidge/forge/internal/playbook"
	"github.com/coderidge/forge/internal/provider"
)

// BulletTag pairs a referenced bullet id with the outcome it should be
// tagged with.
type BulletTag struct {
	BulletID string       `json:"bullet_id"`
	Tag      playbook.Tag `json:"tag"`
}

// Reflection is the Reflector's structured output (spec §4.F).
type Reflection struct {
	RootCause   string      `json:"root_cause"`
	KeyInsight  string      `json:"key_insight"`
	BulletTags  []BulletTag `json:"bullet_tags"`
}

// Turn captures everything the Reflector needs from one completed agent
// iteration: the user's query, the assistant's reply, its tool calls and
// their results, and which bullets were surfaced as context for it.
type Turn struct {
	Query            string
	AssistantMessage string
	ToolCalls        []ToolCallOutcome
	ReferencedBullets []string
}

type ToolCallOutcome struct {
	Name   string
	Args   map[string]interface{}
	Result string
	Error  string
}

const reflectorSystemPrompt = `You analyze one completed coding-agent turn and report what happened, without taking any action yourself.
You have no tools. Reply with ONLY a JSON object of the form:
{"root_cause": "...", "key_insight": "...", "bullet_tags": [{"bullet_id": "...", "tag": "helpful|harmful|neutral"}]}
root_cause: the proximate cause of the turn's outcome (success or failure), one sentence.
key_insight: one atomic, reusable strategy worth remembering, one sentence, or empty if nothing is worth keeping.
bullet_tags: for each bullet id you were told was referenced, say whether it helped, hurt, or was neutral to this turn's outcome. Omit bullets you cannot judge.`

// Reflector runs the structured Reflection pass.
type Reflector struct {
	prov  provider.Provider
	model string
}

func New(prov provider.Provider, model string) *Reflector {
	return &Reflector{prov: prov, model: model}
}

// Reflect asks the model to analyze turn and returns a structured
// Reflection. It never dispatches tools: the request carries no Tools.
func (r *Reflector) Reflect(ctx context.Context, turn Turn) (*Reflection, error) {
	prompt := buildReflectionPrompt(turn)
	req := &provider.MessageRequest{
		Model:       r.model,
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens:   512,
		Temperature: 0,
		System:      reflectorSystemPrompt,
	}
	resp, err := r.prov.CreateMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reflector: llm call failed: %w", err)
	}
	text := extractText(resp)
	var reflection Reflection
	if err := json.Unmarshal([]byte(extractJSON(text)), &reflection); err != nil {
		return nil, fmt.Errorf("reflector: malformed response: %w", err)
	}
	return &reflection, nil
}

func buildReflectionPrompt(turn Turn) string {
	var sb strings.Builder
	sb.WriteString("User query:\n" + turn.Query + "\n\n")
	sb.WriteString("Assistant reply:\n" + turn.AssistantMessage + "\n\n")
	if len(turn.ToolCalls) > 0 {
		sb.WriteString("Tool calls:\n")
		for _, tc := range turn.ToolCalls {
			status := "ok"
			detail := tc.Result
			if tc.Error != "" {
				status = "error"
				detail = tc.Error
			}
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", tc.Name, status, truncate(detail, 300)))
		}
		sb.WriteString("\n")
	}
	if len(turn.ReferencedBullets) > 0 {
		sb.WriteString("Referenced playbook bullets: " + strings.Join(turn.ReferencedBullets, ", ") + "\n")
	}
	return sb.String()
}

func extractText(resp *provider.MessageResponse) string {
	var parts []string
	for _, b := range resp.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// extractJSON pulls the first {...} block out of text, tolerating models
// that wrap JSON in prose or code fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return text[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
