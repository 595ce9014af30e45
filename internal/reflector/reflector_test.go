package reflector

import (
	"context"
	"testing"

	"github.com/coderidge/forge/internal/playbook"
	"github.com/coderidge/forge/internal/provider"
)

// fakeProvider returns a canned response and records the last request it
// was asked to handle, so tests can assert on the tool-free guardrail.
type fakeProvider struct {
	text    string
	lastReq *provider.MessageRequest
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateMessage(ctx context.Context, req *provider.MessageRequest) (*provider.MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.MessageResponse{
		Content: []provider.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func (f *fakeProvider) StreamMessage(ctx context.Context, req *provider.MessageRequest, cb func(*provider.StreamChunk) error) error {
	return nil
}

func (f *fakeProvider) Models() []string { return []string{"fake-model"} }

func TestReflectParsesStructuredResponse(t *testing.T) {
	fp := &fakeProvider{text: `Here is my analysis:
{"root_cause": "missing import", "key_insight": "always check imports before editing", "bullet_tags": [{"bullet_id": "imp-1", "tag": "helpful"}]}
Thanks.`}
	r := New(fp, "small-model")

	reflection, err := r.Reflect(context.Background(), Turn{
		Query:            "fix the build",
		AssistantMessage: "added the missing import",
		ToolCalls:        []ToolCallOutcome{{Name: "edit", Args: map[string]interface{}{"path": "a.go"}, Result: "ok"}},
		ReferencedBullets: []string{"imp-1"},
	})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if reflection.RootCause != "missing import" {
		t.Errorf("RootCause: got %q", reflection.RootCause)
	}
	if reflection.KeyInsight != "always check imports before editing" {
		t.Errorf("KeyInsight: got %q", reflection.KeyInsight)
	}
	if len(reflection.BulletTags) != 1 || reflection.BulletTags[0].BulletID != "imp-1" || reflection.BulletTags[0].Tag != playbook.Helpful {
		t.Errorf("BulletTags: got %+v", reflection.BulletTags)
	}
}

func TestReflectRequestCarriesNoTools(t *testing.T) {
	fp := &fakeProvider{text: `{"root_cause": "x", "key_insight": "", "bullet_tags": []}`}
	r := New(fp, "small-model")

	if _, err := r.Reflect(context.Background(), Turn{Query: "q", AssistantMessage: "a"}); err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if fp.lastReq == nil {
		t.Fatal("expected a request to have been issued")
	}
	if len(fp.lastReq.Tools) != 0 {
		t.Errorf("reflection call must be tool-free, got %d tools", len(fp.lastReq.Tools))
	}
	if fp.lastReq.Temperature != 0 {
		t.Errorf("expected deterministic temperature 0, got %v", fp.lastReq.Temperature)
	}
}

func TestReflectMalformedResponseErrors(t *testing.T) {
	fp := &fakeProvider{text: "not json at all, no braces"}
	r := New(fp, "small-model")
	if _, err := r.Reflect(context.Background(), Turn{Query: "q", AssistantMessage: "a"}); err == nil {
		t.Fatal("expected error on malformed response")
	}
}

func TestReflectPropagatesProviderError(t *testing.T) {
	fp := &fakeProvider{err: context.DeadlineExceeded}
	r := New(fp, "small-model")
	if _, err := r.Reflect(context.Background(), Turn{Query: "q", AssistantMessage: "a"}); err == nil {
		t.Fatal("expected error to propagate from provider")
	}
}

func TestCurateParsesOperationsIntoDeltaBatch(t *testing.T) {
	fp := &fakeProvider{text: `{"reasoning": "add a strategy", "operations": [
		{"kind": "add", "section": "Bash Commands", "content": "prefer rg over grep"},
		{"kind": "tag", "bullet_id": "imp-1", "tag": "helpful"},
		{"kind": "remove", "bullet_id": "stale-1"}
	]}`}
	c := NewCurator(fp, "small-model")
	pb := playbook.New()

	batch, err := c.Curate(context.Background(), &Reflection{RootCause: "x", KeyInsight: "y"}, pb, "recent context")
	if err != nil {
		t.Fatalf("Curate: %v", err)
	}
	if len(batch.Operations) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(batch.Operations))
	}
}

func TestCurateRequestCarriesNoTools(t *testing.T) {
	fp := &fakeProvider{text: `{"reasoning": "", "operations": []}`}
	c := NewCurator(fp, "small-model")
	pb := playbook.New()

	if _, err := c.Curate(context.Background(), &Reflection{}, pb, ""); err != nil {
		t.Fatalf("Curate: %v", err)
	}
	if len(fp.lastReq.Tools) != 0 {
		t.Errorf("curation call must be tool-free, got %d tools", len(fp.lastReq.Tools))
	}
}

func TestCurateUnknownKindIsSkipped(t *testing.T) {
	fp := &fakeProvider{text: `{"reasoning": "", "operations": [
		{"kind": "frobnicate", "bullet_id": "x"},
		{"kind": "add", "section": "S", "content": "c"}
	]}`}
	c := NewCurator(fp, "small-model")
	pb := playbook.New()

	batch, err := c.Curate(context.Background(), &Reflection{}, pb, "")
	if err != nil {
		t.Fatalf("Curate: %v", err)
	}
	if len(batch.Operations) != 1 {
		t.Fatalf("expected unknown kind to be dropped, got %d operations", len(batch.Operations))
	}
}

func TestCurateMalformedResponseErrors(t *testing.T) {
	fp := &fakeProvider{text: "no json here"}
	c := NewCurator(fp, "small-model")
	pb := playbook.New()
	if _, err := c.Curate(context.Background(), &Reflection{}, pb, ""); err == nil {
		t.Fatal("expected error on malformed response")
	}
}

func TestExtractJSONToleratesProseWrapping(t *testing.T) {
	got := extractJSON("sure, here you go:\n{\"a\": 1}\nhope that helps!")
	if got != `{"a": 1}` {
		t.Errorf("extractJSON: got %q", got)
	}
}

func TestExtractJSONNoBracesReturnsEmptyObject(t *testing.T) {
	if got := extractJSON("no braces here"); got != "{}" {
		t.Errorf("extractJSON: got %q", got)
	}
}
