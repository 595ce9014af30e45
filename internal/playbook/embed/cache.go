// Package embed implements the Playbook's embedding cache: a
// content-hash+model keyed store of vectors, with a pluggable generator
// and best-effort file persistence. Grounded on the cache shape in
// haasonsaas-nexus's internal/memory/manager.go, adapted to file-backed
// persistence matching the session store's plain-JSON idiom instead of a
// pluggable vector database.
package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"

	"github.com/coderidge/forge/internal/logging"
)

// Generator produces an embedding vector for a piece of text using a
// specific named model. Implementations may call out to a provider or
// compute a deterministic local fallback.
type Generator interface {
	Model() string
	Embed(text string) ([]float32, error)
}

type entry struct {
	Model  string    `json:"model"`
	Vector []float32 `json:"vector"`
}

// Cache is a content-hash+model keyed embedding cache with optional
// best-effort file persistence.
type Cache struct {
	mu       sync.Mutex
	items    map[string]entry
	path     string
	gen      Generator
	dirty    bool
}

// NewCache creates a cache that generates misses via gen and persists to
// path (if non-empty) on a best-effort basis. Load errors are ignored;
// the cache simply starts empty.
func NewCache(path string, gen Generator) *Cache {
	c := &Cache{
		items: make(map[string]entry),
		path:  path,
		gen:   gen,
	}
	c.load()
	return c
}

func key(text, model string) string {
	sum := sha256.Sum256([]byte(text))
	return model + ":" + hex.EncodeToString(sum[:])
}

// GetOrGenerate returns a cached vector for text, generating and caching
// one via the configured Generator on a miss. A nil Generator returns
// (nil, nil) and a generation error returns (nil, err), so callers can degrade semantic
// scoring to neutral per spec §4.E Failure Modes, rather than fail the
// whole turn.
func (c *Cache) GetOrGenerate(text string) ([]float32, error) {
	if c.gen == nil {
		return nil, nil
	}
	k := key(text, c.gen.Model())

	c.mu.Lock()
	if e, ok := c.items[k]; ok {
		c.mu.Unlock()
		return e.Vector, nil
	}
	c.mu.Unlock()

	vec, err := c.gen.Embed(text)
	if err != nil {
		logging.For("playbook").Warn().Err(err).Msg("embedding generation failed, degrading to neutral semantic score")
		return nil, err
	}

	c.mu.Lock()
	c.items[k] = entry{Model: c.gen.Model(), Vector: vec}
	c.dirty = true
	c.mu.Unlock()
	c.saveBestEffort()
	return vec, nil
}

// Model reports the configured generator's model name, or "" if none is
// configured.
func (c *Cache) Model() string {
	if c.gen == nil {
		return ""
	}
	return c.gen.Model()
}

// GetOrGenerateBatch is the batch variant of GetOrGenerate, preserving
// input order in the returned slice.
func (c *Cache) GetOrGenerateBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.GetOrGenerate(t)
		if err != nil {
			out[i] = nil
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return // missing file: start empty, not an error
	}
	var items map[string]entry
	if err := json.Unmarshal(data, &items); err != nil {
		logging.For("playbook").Warn().Err(err).Str("path", c.path).Msg("ignoring corrupt embedding cache file")
		return
	}
	c.items = items
}

// saveBestEffort writes the cache to disk, swallowing all errors: cache
// I/O failures must never propagate to callers (spec §4.E Failure Modes).
func (c *Cache) saveBestEffort() {
	if c.path == "" {
		return
	}
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	data, err := json.Marshal(c.items)
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.For("playbook").Warn().Err(err).Msg("failed to write embedding cache")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		logging.For("playbook").Warn().Err(err).Msg("failed to persist embedding cache")
	}
}
