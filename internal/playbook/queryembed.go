package playbook

import "github.com/coderidge/forge/internal/playbook/embed"

// cacheEmbedder adapts an embed.Cache to the Embedder interface used by
// AsContext, so selection code depends only on this package's narrow
// interface rather than the cache's full API.
type cacheEmbedder struct {
	cache *embed.Cache
}

// NewCacheEmbedder wraps cache as an Embedder for use with AsContext.
func NewCacheEmbedder(cache *embed.Cache) Embedder {
	if cache == nil {
		return nil
	}
	return &cacheEmbedder{cache: cache}
}

func (c *cacheEmbedder) Embed(text string) ([]float32, error) {
	return c.cache.GetOrGenerate(text)
}

// Model reports the cache's configured generator model, satisfying the
// optional "Model() string" capability embedTouched looks for when
// tagging a bullet's EmbeddingModel.
func (c *cacheEmbedder) Model() string {
	return c.cache.Model()
}

// EmbedBatch satisfies BatchEmbedder so a delta batch that adds or
// updates several bullets at once goes through one GetOrGenerateBatch
// call; each cache miss is still generated by its own Generator.Embed
// call.
func (c *cacheEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	return c.cache.GetOrGenerateBatch(texts)
}
