package playbook

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Playbook holds the full set of bullets for a session, grouped by
// section. Section insertion order is preserved for rendering.
type Playbook struct {
	mu       sync.RWMutex
	Bullets  map[string]*Bullet  `json:"bullets"`
	Sections map[string][]string `json:"sections"`

	// SectionOrder records the order sections were first seen, since Go
	// map iteration order is not stable and spec §4.E selection must
	// preserve "original playbook" section insertion order. Persisted so
	// save/load round-trips preserve rendering order (spec §8 property 7).
	SectionOrder []string `json:"section_order"`

	// Counters are the per-section-prefix monotonic counters backing
	// bullet id allocation; persisted so ids are never reused across a
	// save/load round-trip.
	Counters map[string]int `json:"counters"`

	// embedder generates bullet embeddings on Add/Update. Unexported and
	// never persisted: it is re-wired from config each time a session is
	// loaded (see SetEmbedder), not carried across a save/load round-trip.
	embedder Embedder
}

// New returns an empty Playbook ready for use.
func New() *Playbook {
	return &Playbook{
		Bullets:  make(map[string]*Bullet),
		Sections: make(map[string][]string),
		Counters: make(map[string]int),
	}
}

// SetEmbedder wires in the Embedder used to generate bullet embeddings
// when Apply adds or updates a bullet. A nil embedder (the default)
// leaves Bullet.Embedding unpopulated, and AsContext's semantic term
// degrades to neutral for every bullet, per spec §4.E Failure Modes.
func (p *Playbook) SetEmbedder(e Embedder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedder = e
}

// sectionPrefix derives the 3-letter slug used in bullet ids, per spec
// §4.E ("<prefix>-<counter>").
func sectionPrefix(section string) string {
	clean := strings.ToLower(strings.TrimSpace(section))
	clean = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, clean)
	if len(clean) == 0 {
		return "gen"
	}
	if len(clean) > 3 {
		return clean[:3]
	}
	for len(clean) < 3 {
		clean += clean[len(clean)-1:]
	}
	return clean
}

// clone returns a deep-enough copy suitable for validating a batch before
// committing it.
func (p *Playbook) clone() *Playbook {
	cp := &Playbook{
		Bullets:      make(map[string]*Bullet, len(p.Bullets)),
		Sections:     make(map[string][]string, len(p.Sections)),
		SectionOrder: append([]string(nil), p.SectionOrder...),
		Counters:     make(map[string]int, len(p.Counters)),
		embedder:     p.embedder,
	}
	for id, b := range p.Bullets {
		nb := *b
		nb.Embedding = append([]float32(nil), b.Embedding...)
		cp.Bullets[id] = &nb
	}
	for sec, ids := range p.Sections {
		cp.Sections[sec] = append([]string(nil), ids...)
	}
	for k, v := range p.Counters {
		cp.Counters[k] = v
	}
	return cp
}

func (p *Playbook) ensureSection(section string) {
	if _, ok := p.Sections[section]; !ok {
		p.Sections[section] = nil
		p.SectionOrder = append(p.SectionOrder, section)
	}
}

// applyAdd allocates a fresh id and appends the bullet to its section. It
// returns the new id so the caller can queue it for embedding generation.
func (p *Playbook) applyAdd(op DeltaOperation, now time.Time) (string, error) {
	if strings.TrimSpace(op.Section) == "" {
		return "", fmt.Errorf("add: section is required")
	}
	if strings.TrimSpace(op.Content) == "" {
		return "", fmt.Errorf("add: content is required")
	}
	prefix := sectionPrefix(op.Section)
	p.Counters[prefix]++
	id := fmt.Sprintf("%s-%d", prefix, p.Counters[prefix])
	p.ensureSection(op.Section)
	p.Bullets[id] = &Bullet{
		ID:        id,
		Section:   op.Section,
		Content:   op.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.Sections[op.Section] = append(p.Sections[op.Section], id)
	return id, nil
}

func (p *Playbook) applyUpdate(op DeltaOperation, now time.Time) error {
	b, ok := p.Bullets[op.BulletID]
	if !ok {
		return fmt.Errorf("update: unknown bullet %q", op.BulletID)
	}
	if op.Content != "" {
		b.Content = op.Content
		// Content changed: the cached embedding no longer matches it
		// until embedTouched regenerates it below.
		b.Embedding = nil
	}
	b.UpdatedAt = now
	return nil
}

func (p *Playbook) applyTag(op DeltaOperation, now time.Time) error {
	b, ok := p.Bullets[op.BulletID]
	if !ok {
		return fmt.Errorf("tag: unknown bullet %q", op.BulletID)
	}
	switch op.TagValue {
	case Helpful, Harmful, Neutral:
	default:
		return fmt.Errorf("tag: unknown tag %q", op.TagValue)
	}
	b.Tagged(op.TagValue)
	b.UpdatedAt = now
	return nil
}

func (p *Playbook) applyRemove(op DeltaOperation) error {
	b, ok := p.Bullets[op.BulletID]
	if !ok {
		return fmt.Errorf("remove: unknown bullet %q", op.BulletID)
	}
	ids := p.Sections[b.Section]
	out := ids[:0:0]
	for _, id := range ids {
		if id != op.BulletID {
			out = append(out, id)
		}
	}
	p.Sections[b.Section] = out
	delete(p.Bullets, op.BulletID)
	return nil
}

// maxDeltaBatchOps bounds the number of operations the Curator may propose
// in a single turn (spec §4.F guardrail).
const maxDeltaBatchOps = 8

// Apply validates and applies a DeltaBatch atomically: either every
// operation succeeds, or the Playbook is left byte-for-byte unchanged.
func (p *Playbook) Apply(batch DeltaBatch) error {
	if len(batch.Operations) == 0 {
		return nil
	}
	if len(batch.Operations) > maxDeltaBatchOps {
		return fmt.Errorf("delta batch has %d operations, exceeds limit of %d", len(batch.Operations), maxDeltaBatchOps)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	scratch := p.clone()
	now := time.Now()
	touched := make(map[string]bool)
	for _, op := range batch.Operations {
		var err error
		switch op.Kind {
		case OpAdd:
			var id string
			id, err = scratch.applyAdd(op, now)
			if err == nil {
				touched[id] = true
			}
		case OpUpdate:
			err = scratch.applyUpdate(op, now)
			if err == nil {
				touched[op.BulletID] = true
			}
		case OpTag:
			err = scratch.applyTag(op, now)
		case OpRemove:
			err = scratch.applyRemove(op)
		default:
			err = fmt.Errorf("unknown delta operation kind %q", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("delta batch rejected: %w", err)
		}
	}

	if scratch.embedder != nil {
		scratch.embedTouched(touched)
	}

	// Commit: replace live state with the validated scratch copy.
	p.Bullets = scratch.Bullets
	p.Sections = scratch.Sections
	p.SectionOrder = scratch.SectionOrder
	p.Counters = scratch.Counters
	return nil
}

// embedTouched (re)generates embeddings for the bullets a batch just
// added or updated, using a single batched round trip when the embedder
// supports it (see BatchEmbedder) rather than one call per bullet.
// Generation failures are swallowed: a missing embedding degrades
// AsContext's semantic term to neutral for that bullet rather than
// failing the whole batch (spec §4.E Failure Modes).
func (p *Playbook) embedTouched(touched map[string]bool) {
	ids := make([]string, 0, len(touched))
	texts := make([]string, 0, len(touched))
	for id := range touched {
		b, ok := p.Bullets[id]
		if !ok {
			continue
		}
		ids = append(ids, id)
		texts = append(texts, b.Content)
	}
	if len(ids) == 0 {
		return
	}

	var model string
	if m, ok := p.embedder.(interface{ Model() string }); ok {
		model = m.Model()
	}

	if be, ok := p.embedder.(BatchEmbedder); ok {
		vecs, err := be.EmbedBatch(texts)
		if err != nil {
			return
		}
		for i, id := range ids {
			if i < len(vecs) && vecs[i] != nil {
				p.Bullets[id].Embedding = vecs[i]
				p.Bullets[id].EmbeddingModel = model
			}
		}
		return
	}

	for i, id := range ids {
		vec, err := p.embedder.Embed(texts[i])
		if err != nil {
			continue
		}
		p.Bullets[id].Embedding = vec
		p.Bullets[id].EmbeddingModel = model
	}
}

// Len returns the total number of bullets across all sections.
func (p *Playbook) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.Bullets)
}

// allBySectionOrder returns a stable-ordered snapshot of bullets grouped
// by section in original insertion order, for rendering or selection.
func (p *Playbook) allBySectionOrder() []*Bullet {
	out := make([]*Bullet, 0, len(p.Bullets))
	for _, section := range p.SectionOrder {
		for _, id := range p.Sections[section] {
			if b, ok := p.Bullets[id]; ok {
				out = append(out, b)
			}
		}
	}
	return out
}

// groupBySection groups a selected subset of bullets by section,
// preserving each section's original insertion order, both across
// sections and within a section's own bullet-id order.
func (p *Playbook) groupBySection(selected []*Bullet) [][]*Bullet {
	bySection := make(map[string][]*Bullet)
	for _, b := range selected {
		bySection[b.Section] = append(bySection[b.Section], b)
	}
	var groups [][]*Bullet
	for _, section := range p.SectionOrder {
		bullets, ok := bySection[section]
		if !ok {
			continue
		}
		ordered := make([]*Bullet, 0, len(bullets))
		for _, id := range p.Sections[section] {
			for _, b := range bullets {
				if b.ID == id {
					ordered = append(ordered, b)
				}
			}
		}
		groups = append(groups, ordered)
	}
	return groups
}
