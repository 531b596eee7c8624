package providers

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// adapterCacheSize bounds the number of distinct (provider, apiKey, model)
// adapter instances held at once, per SPEC_FULL.md §4.4's note on bounding
// memory across many tenants/executions sharing one registry.
const adapterCacheSize = 512

// cacheKey identifies one adapter instance by its construction parameters.
// Adapters are otherwise stateless aside from their embedded HTTP client, so
// two calls with the same key can safely share an instance.
type cacheKey struct {
	provider string
	apiKey   string
	model    string
}

// AdapterCache memoizes constructed Adapters by (provider, apiKey, model),
// avoiding a fresh HTTP client and capability registration build on every
// step execution. Grounded on the source's `_get_adapter` cache, backed here
// by `hashicorp/golang-lru/v2` rather than an unbounded dict.
type AdapterCache struct {
	cache *lru.Cache[cacheKey, capabilities.Adapter]
}

// NewAdapterCache constructs a bounded adapter cache.
func NewAdapterCache() (*AdapterCache, error) {
	c, err := lru.New[cacheKey, capabilities.Adapter](adapterCacheSize)
	if err != nil {
		return nil, err
	}
	return &AdapterCache{cache: c}, nil
}

// GetOrCreate returns the cached adapter for (provider, apiKey, model),
// constructing one via factory on a miss.
func (c *AdapterCache) GetOrCreate(provider, apiKey, model string, factory capabilities.AdapterFactory) (capabilities.Adapter, error) {
	key := cacheKey{provider: provider, apiKey: apiKey, model: model}
	if a, ok := c.cache.Get(key); ok {
		return a, nil
	}
	a, err := factory(apiKey, model)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, a)
	return a, nil
}

// Len reports how many adapter instances are currently cached.
func (c *AdapterCache) Len() int {
	return c.cache.Len()
}

// Purge evicts every cached adapter, for tests and credential rotation.
func (c *AdapterCache) Purge() {
	c.cache.Purge()
}
