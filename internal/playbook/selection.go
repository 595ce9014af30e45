package playbook

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Weights controls the hybrid scoring mix; Alpha+Beta+Gamma should sum to
// 1.0. Gamma=0 disables semantic scoring entirely.
type Weights struct {
	Alpha float64 // effectiveness
	Beta  float64 // recency
	Gamma float64 // semantic
}

// DefaultWeights matches spec Scenario D.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}
}

// recencyK is the implementation constant from spec §4.E.
const recencyK = 0.1

// Embedder produces a vector for a piece of text, used only for the
// semantic scoring term. A nil Embedder (or an error from Embed) degrades
// semantic scoring to neutral (0.5) for that call, per spec Failure Modes.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// BatchEmbedder is an optional capability of an Embedder: generating
// several vectors in one round trip. Playbook.Apply uses it, when
// available, to embed every bullet a delta batch adds or updates in a
// single call instead of one per bullet.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(texts []string) ([][]float32, error)
}

func effectivenessScore(b *Bullet) float64 {
	if b.Helpful == 0 && b.Harmful == 0 && b.Neutral == 0 {
		return 0.5
	}
	return (b.Effectiveness() + 1) / 2
}

func recencyScore(b *Bullet, now time.Time) float64 {
	days := now.Sub(b.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days*recencyK)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func semanticScore(queryEmb, bulletEmb []float32) float64 {
	if queryEmb == nil || bulletEmb == nil {
		return 0.5
	}
	return (cosine(queryEmb, bulletEmb) + 1) / 2
}

// redistributeWeights spreads gamma's share proportionally over alpha
// and beta so the three terms still sum to their original total (1.0,
// by convention) once the semantic term is omitted. Both the remainder
// and the total are computed from the *original* weights before either
// alpha or beta is reassigned, so mutating one doesn't skew the other.
func redistributeWeights(w Weights) (alpha, beta, gamma float64) {
	remainder := w.Alpha + w.Beta
	total := w.Alpha + w.Beta + w.Gamma
	if remainder <= 0 {
		return w.Alpha, w.Beta, 0
	}
	return w.Alpha / remainder * total, w.Beta / remainder * total, 0
}

type scored struct {
	bullet *Bullet
	final  float64
}

// AsContextWithEmbedder is a convenience wrapper that generates the query
// embedding via embedder (which may be nil) before calling AsContext. A
// generation failure degrades semantic scoring to neutral rather than
// failing the call, per spec §4.E Failure Modes.
func (p *Playbook) AsContextWithEmbedder(query string, k int, weights Weights, embedder Embedder) string {
	var queryEmbedding []float32
	if embedder != nil && weights.Gamma > 0 {
		if vec, err := embedder.Embed(query); err == nil {
			queryEmbedding = vec
		}
	}
	return p.AsContext(query, k, weights, queryEmbedding)
}

// AsContext implements spec §4.E selection: score all bullets, take the
// top K by final score (deterministic tie-break by updated_at then id),
// group by section preserving original insertion order, and render as a
// sectioned listing.
//
// queryEmbedding may be nil; if so (or if weights.Gamma==0) the semantic
// term is omitted proportionally by redistributing its weight onto
// effectiveness and recency.
func (p *Playbook) AsContext(query string, k int, weights Weights, queryEmbedding []float32) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all := p.allBySectionOrder()
	if len(all) == 0 {
		return ""
	}

	semanticsEnabled := weights.Gamma > 0 && queryEmbedding != nil
	alpha, beta, gamma := weights.Alpha, weights.Beta, weights.Gamma
	if !semanticsEnabled {
		alpha, beta, gamma = redistributeWeights(weights)
	}

	var selected []*Bullet
	if k >= len(all) && !semanticsEnabled {
		selected = all
	} else {
		now := time.Now()
		results := make([]scored, 0, len(all))
		for _, b := range all {
			eff := effectivenessScore(b)
			rec := recencyScore(b, now)
			var sem float64
			if semanticsEnabled {
				sem = semanticScore(queryEmbedding, b.Embedding)
			}
			final := alpha*eff + beta*rec + gamma*sem
			results = append(results, scored{bullet: b, final: final})
		}
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].final != results[j].final {
				return results[i].final > results[j].final
			}
			if !results[i].bullet.UpdatedAt.Equal(results[j].bullet.UpdatedAt) {
				return results[i].bullet.UpdatedAt.After(results[j].bullet.UpdatedAt)
			}
			return results[i].bullet.ID < results[j].bullet.ID
		})
		if k > len(results) {
			k = len(results)
		}
		selected = make([]*Bullet, 0, k)
		for i := 0; i < k; i++ {
			selected = append(selected, results[i].bullet)
		}
	}

	groups := p.groupBySection(selected)
	return renderGroups(groups)
}

func renderGroups(groups [][]*Bullet) string {
	if len(groups) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Playbook\n")
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n### %s\n", group[0].Section))
		for _, b := range group {
			sb.WriteString(fmt.Sprintf("- [%s] %s (helpful=%d harmful=%d neutral=%d)\n",
				b.ID, b.Content, b.Helpful, b.Harmful, b.Neutral))
		}
	}
	return sb.String()
}
