package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coderidge/forge/internal/playbook"
	"github.com/coderidge/forge/internal/provider"
)

const curatorSystemPrompt = `You maintain a small playbook of reusable coding-agent strategies. Given a reflection on the last turn and a sample of the current playbook, propose at most 8 operations to keep the playbook accurate and useful. You have no tools; you only propose data.
Reply with ONLY a JSON object:
{"reasoning": "...", "operations": [
  {"kind": "add", "section": "...", "content": "..."},
  {"kind": "update", "bullet_id": "...", "content": "..."},
  {"kind": "tag", "bullet_id": "...", "tag": "helpful|harmful|neutral"},
  {"kind": "remove", "bullet_id": "..."}
]}
Only emit "add" when key_insight names a genuinely new, atomic strategy not already covered. Only emit "tag" for bullet ids you were told were referenced. "reasoning" is for audit logs only.`

// Curator runs the structured delta-proposal pass.
type Curator struct {
	prov  provider.Provider
	model string
}

func NewCurator(prov provider.Provider, model string) *Curator {
	return &Curator{prov: prov, model: model}
}

// Curate asks the model to propose a DeltaBatch given the Reflection and
// a rendered sample of the current Playbook. It never dispatches tools.
func (c *Curator) Curate(ctx context.Context, reflection *Reflection, pb *playbook.Playbook, recentContext string) (*playbook.DeltaBatch, error) {
	prompt := buildCuratorPrompt(reflection, pb, recentContext)
	req := &provider.MessageRequest{
		Model:       c.model,
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens:   512,
		Temperature: 0,
		System:      curatorSystemPrompt,
	}
	resp, err := c.prov.CreateMessage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("curator: llm call failed: %w", err)
	}
	text := extractText(resp)

	var wire wireBatch
	if err := json.Unmarshal([]byte(extractJSON(text)), &wire); err != nil {
		return nil, fmt.Errorf("curator: malformed response: %w", err)
	}
	return wire.toDeltaBatch(), nil
}

// wireBatch mirrors the JSON shape the Curator's LLM prompt asks for;
// DeltaOperation's Go-side Kind/TagValue typing is reconstructed here
// rather than asking the model to match Go's exact field casing.
type wireBatch struct {
	Reasoning  string     `json:"reasoning"`
	Operations []wireOp   `json:"operations"`
}

type wireOp struct {
	Kind     string `json:"kind"`
	Section  string `json:"section"`
	Content  string `json:"content"`
	BulletID string `json:"bullet_id"`
	Tag      string `json:"tag"`
}

func (w wireBatch) toDeltaBatch() *playbook.DeltaBatch {
	batch := &playbook.DeltaBatch{Reasoning: w.Reasoning}
	for _, op := range w.Operations {
		switch strings.ToLower(op.Kind) {
		case "add":
			batch.Operations = append(batch.Operations, playbook.Add(op.Section, op.Content))
		case "update":
			batch.Operations = append(batch.Operations, playbook.Update(op.BulletID, op.Content))
		case "tag":
			batch.Operations = append(batch.Operations, playbook.TagOp(op.BulletID, playbook.Tag(strings.ToLower(op.Tag))))
		case "remove":
			batch.Operations = append(batch.Operations, playbook.Remove(op.BulletID))
		}
	}
	return batch
}

func buildCuratorPrompt(reflection *Reflection, pb *playbook.Playbook, recentContext string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Reflection:\nroot_cause: %s\nkey_insight: %s\n", reflection.RootCause, reflection.KeyInsight))
	if len(reflection.BulletTags) > 0 {
		sb.WriteString("bullet_tags:\n")
		for _, t := range reflection.BulletTags {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", t.BulletID, t.Tag))
		}
	}
	sb.WriteString("\nCurrent playbook sample:\n")
	sb.WriteString(pb.AsContext("", 20, playbook.Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}, nil))
	if recentContext != "" {
		sb.WriteString("\nRecent user context:\n" + truncate(recentContext, 1000))
	}
	return sb.String()
}
