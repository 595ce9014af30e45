package playbook

import (
	"strings"
	"testing"
	"time"
)

func TestBulletEffectivenessUntested(t *testing.T) {
	b := &Bullet{}
	if got := b.Effectiveness(); got != 0 {
		t.Errorf("untested bullet effectiveness: want 0, got %v", got)
	}
}

func TestBulletTaggedAndEffectiveness(t *testing.T) {
	b := &Bullet{}
	b.Tagged(Helpful)
	b.Tagged(Helpful)
	b.Tagged(Harmful)
	if b.Helpful != 2 || b.Harmful != 1 {
		t.Fatalf("counters: got helpful=%d harmful=%d", b.Helpful, b.Harmful)
	}
	if got, want := b.Effectiveness(), 1.0/3.0; got != want {
		t.Errorf("Effectiveness: want %v, got %v", want, got)
	}
}

func TestBulletTaggedUnknownIsNoOp(t *testing.T) {
	b := &Bullet{}
	b.Tagged(Tag("bogus"))
	if b.Helpful != 0 || b.Harmful != 0 || b.Neutral != 0 {
		t.Fatal("unknown tag should not change any counter")
	}
}

func TestApplyAddAssignsSequentialIDs(t *testing.T) {
	p := New()
	batch := DeltaBatch{Operations: []DeltaOperation{
		Add("Bash Commands", "Prefer rg over grep for speed"),
		Add("Bash Commands", "Quote paths containing spaces"),
	}}
	if err := p.Apply(batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len: want 2, got %d", p.Len())
	}
	all := p.allBySectionOrder()
	if all[0].ID != "bas-1" || all[1].ID != "bas-2" {
		t.Errorf("unexpected bullet ids: %s, %s", all[0].ID, all[1].ID)
	}
}

func TestApplyAtomicFailureLeavesPlaybookUnchanged(t *testing.T) {
	p := New()
	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{Add("Section", "one")}}); err != nil {
		t.Fatalf("seed Apply: %v", err)
	}
	before := p.Len()

	bad := DeltaBatch{Operations: []DeltaOperation{
		Add("Section", "two"),
		Update("does-not-exist", "oops"),
	}}
	if err := p.Apply(bad); err == nil {
		t.Fatal("expected batch with an invalid op to fail")
	}
	if p.Len() != before {
		t.Fatalf("failed batch must not mutate playbook: want %d bullets, got %d", before, p.Len())
	}
}

func TestApplyRejectsOversizedBatch(t *testing.T) {
	p := New()
	ops := make([]DeltaOperation, maxDeltaBatchOps+1)
	for i := range ops {
		ops[i] = Add("Section", "bullet")
	}
	if err := p.Apply(DeltaBatch{Operations: ops}); err == nil {
		t.Fatal("expected oversized batch to be rejected")
	}
	if p.Len() != 0 {
		t.Fatal("rejected batch must not mutate playbook")
	}
}

func TestApplyTagAndRemove(t *testing.T) {
	p := New()
	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{Add("Section", "bullet")}}); err != nil {
		t.Fatalf("Apply add: %v", err)
	}
	id := p.allBySectionOrder()[0].ID

	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{TagOp(id, Helpful)}}); err != nil {
		t.Fatalf("Apply tag: %v", err)
	}
	if p.Bullets[id].Helpful != 1 {
		t.Fatalf("tag did not apply: %+v", p.Bullets[id])
	}

	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{Remove(id)}}); err != nil {
		t.Fatalf("Apply remove: %v", err)
	}
	if p.Len() != 0 {
		t.Fatal("bullet should be removed")
	}
}

func TestAsContextSelectsTopKByFinalScore(t *testing.T) {
	p := New()
	now := time.Now()

	mk := func(id, section, content string, helpful, harmful int, age time.Duration) *Bullet {
		b := &Bullet{
			ID: id, Section: section, Content: content,
			Helpful: helpful, Harmful: harmful,
			CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age),
		}
		p.Bullets[id] = b
		p.ensureSection(section)
		p.Sections[section] = append(p.Sections[section], id)
		return b
	}

	mk("a-1", "A", "very effective and recent", 10, 0, 0)
	mk("a-2", "A", "moderately effective, old", 3, 1, 30*24*time.Hour)
	mk("a-3", "A", "harmful", 0, 5, 0)
	mk("b-1", "B", "untested but fresh", 0, 0, 0)
	mk("b-2", "B", "untested and old", 0, 0, 60*24*time.Hour)

	out := p.AsContext("query", 3, DefaultWeights(), nil)
	if out == "" {
		t.Fatal("expected non-empty rendered context")
	}

	// a-3 is actively harmful and should not make the top 3.
	if strings.Contains(out, "a-3") {
		t.Errorf("harmful-dominant bullet should not be selected:\n%s", out)
	}
	if !strings.Contains(out, "a-1") {
		t.Errorf("best bullet should be selected:\n%s", out)
	}
}

func TestAsContextDeterministicTieBreak(t *testing.T) {
	p := New()
	now := time.Now()
	mk := func(id string) {
		p.Bullets[id] = &Bullet{ID: id, Section: "S", Content: id, CreatedAt: now, UpdatedAt: now}
		p.ensureSection("S")
		p.Sections["S"] = append(p.Sections["S"], id)
	}
	mk("s-2")
	mk("s-1")
	mk("s-3")

	out1 := p.AsContext("q", 2, DefaultWeights(), nil)
	out2 := p.AsContext("q", 2, DefaultWeights(), nil)
	if out1 != out2 {
		t.Fatal("selection must be deterministic across repeated calls with identical state")
	}
	// All three bullets are identically scored (same counters, same
	// updated_at); the tie-break must pick by ascending id.
	if !strings.Contains(out1, "s-1") || !strings.Contains(out1, "s-2") {
		t.Errorf("tie-break should prefer lexicographically smaller ids:\n%s", out1)
	}
}

func TestAsContextSemanticsDisabledRedistributesWeight(t *testing.T) {
	p := New()
	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{Add("S", "bullet")}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Gamma > 0 but no query embedding supplied: semantics must degrade
	// gracefully rather than panic or zero out the result.
	out := p.AsContext("q", 5, Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}, nil)
	if out == "" {
		t.Fatal("expected rendered context even with semantics disabled")
	}
}

func TestRedistributeWeightsPreservesTotal(t *testing.T) {
	alpha, beta, gamma := redistributeWeights(Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2})
	if gamma != 0 {
		t.Errorf("gamma: want 0, got %v", gamma)
	}
	const tolerance = 1e-9
	if got, want := alpha, 0.625; got < want-tolerance || got > want+tolerance {
		t.Errorf("alpha: want %v, got %v", want, got)
	}
	if got, want := beta, 0.375; got < want-tolerance || got > want+tolerance {
		t.Errorf("beta: want %v, got %v", want, got)
	}
	if sum := alpha + beta + gamma; sum < 1.0-tolerance || sum > 1.0+tolerance {
		t.Errorf("redistributed weights must still sum to 1.0, got %v", sum)
	}
}

type fakeBatchEmbedder struct {
	calls      int
	batchCalls int
}

func (f *fakeBatchEmbedder) Embed(text string) ([]float32, error) {
	f.calls++
	return []float32{1, 0}, nil
}

func (f *fakeBatchEmbedder) Model() string { return "fake-batch" }

func (f *fakeBatchEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	f.batchCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestApplyAddGeneratesEmbeddingViaBatchEmbedder(t *testing.T) {
	p := New()
	emb := &fakeBatchEmbedder{}
	p.SetEmbedder(emb)

	batch := DeltaBatch{Operations: []DeltaOperation{
		Add("Section", "one"),
		Add("Section", "two"),
	}}
	if err := p.Apply(batch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if emb.batchCalls != 1 || emb.calls != 0 {
		t.Fatalf("expected one batched embed call, got batchCalls=%d calls=%d", emb.batchCalls, emb.calls)
	}
	for _, b := range p.allBySectionOrder() {
		if b.Embedding == nil {
			t.Errorf("bullet %s: expected Embedding to be populated", b.ID)
		}
		if b.EmbeddingModel != "fake-batch" {
			t.Errorf("bullet %s: expected EmbeddingModel to be recorded, got %q", b.ID, b.EmbeddingModel)
		}
	}
}

func TestApplyUpdateClearsStaleEmbeddingUntilRegenerated(t *testing.T) {
	p := New()
	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{Add("S", "bullet")}}); err != nil {
		t.Fatalf("seed Apply: %v", err)
	}
	id := p.allBySectionOrder()[0].ID

	emb := &fakeBatchEmbedder{}
	p.SetEmbedder(emb)
	if err := p.Apply(DeltaBatch{Operations: []DeltaOperation{Update(id, "revised content")}}); err != nil {
		t.Fatalf("Apply update: %v", err)
	}
	if p.Bullets[id].Embedding == nil {
		t.Fatal("expected updated bullet to have a freshly generated embedding")
	}
}

func TestRedistributeWeightsZeroRemainderIsNoOp(t *testing.T) {
	alpha, beta, gamma := redistributeWeights(Weights{Alpha: 0, Beta: 0, Gamma: 1})
	if alpha != 0 || beta != 0 || gamma != 0 {
		t.Errorf("zero alpha+beta remainder: want all zero, got alpha=%v beta=%v gamma=%v", alpha, beta, gamma)
	}
}
