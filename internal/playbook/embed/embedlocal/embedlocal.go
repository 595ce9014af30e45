// Package embedlocal provides a dependency-free deterministic embedding
// fallback used when no embedding provider is configured. It is not a
// real semantic embedding: callers should treat it as "semantics
// degraded" per spec §4.E, included only so a Playbook is never left
// without a usable (if coarse) embedding model.
package embedlocal

import (
	"hash/fnv"
	"math"
	"strings"
)

const dimension = 64
const modelName = "local-hash-v1"

// Embedder hashes each lower-cased word into one of 64 buckets and
// normalizes the counts to a fixed-length unit vector. Two pieces of text sharing vocabulary land closer together
// than unrelated text, which is enough signal to keep selection
// deterministic and non-degenerate in tests and in environments with no
// embedding provider configured.
type Embedder struct{}

func New() *Embedder { return &Embedder{} }

func (e *Embedder) Model() string { return modelName }

func (e *Embedder) Embed(text string) ([]float32, error) {
	vec := make([]float64, dimension)
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32()) % dimension
		if idx < 0 {
			idx += dimension
		}
		vec[idx]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, dimension)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}
