package providers

import (
	"sync"
	"time"

	"github.com/aisopod/aisopod/pkg/logger"
)

// ModelInfo describes one model's capabilities, aggregated from a
// provider's model listing.
type ModelInfo struct {
	ProviderID   string
	ModelID      string
	Vision       bool
	Tools        bool
	MinContext   int
	MaxOutputTokens int
}

// ModelLister is implemented by providers that can enumerate their
// available models (optional — providers without a listing endpoint are
// simply skipped during a catalog refresh).
type ModelLister interface {
	ListModels() ([]ModelInfo, error)
}

// Catalog aggregates ListModels() across every registered provider into a
// cache refreshed on a TTL. A failed per-provider refresh is logged and
// that provider's stale entries are kept rather than dropped — one
// misbehaving provider never empties the whole catalog.
type Catalog struct {
	registry *Registry
	ttl      time.Duration

	mu       sync.RWMutex
	models   []ModelInfo
	lastPull time.Time
}

// NewCatalog creates a catalog backed by registry, refreshed at most once
// per ttl. Seeded with static capability hints for the well-known OpenAI
// models so FindByCapability has answers before the first live refresh.
func NewCatalog(registry *Registry, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{registry: registry, ttl: ttl, models: SeedOpenAIModelHints()}
}

// Refresh re-pulls model listings from every provider that implements
// ModelLister, replacing entries only for providers that succeeded.
func (c *Catalog) Refresh() {
	c.registry.mu.RLock()
	snapshot := make(map[string]LLMProvider, len(c.registry.providers))
	for id, p := range c.registry.providers {
		snapshot[id] = p
	}
	c.registry.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]ModelInfo, 0, len(c.models))
	refreshedProviders := make(map[string]bool)

	for id, p := range snapshot {
		lister, ok := p.(ModelLister)
		if !ok {
			continue
		}
		models, err := lister.ListModels()
		if err != nil {
			logger.WarnCF("providers", "model listing refresh failed", map[string]any{
				"provider": id,
				"error":    err.Error(),
			})
			continue
		}
		refreshedProviders[id] = true
		kept = append(kept, models...)
	}

	// Preserve stale entries for providers that didn't refresh this round
	// (either they errored or don't implement ModelLister at all but were
	// seeded manually).
	for _, m := range c.models {
		if !refreshedProviders[m.ProviderID] {
			kept = append(kept, m)
		}
	}

	c.models = kept
	c.lastPull = time.Now()
}

// EnsureFresh refreshes the cache if it's older than the configured TTL.
func (c *Catalog) EnsureFresh() {
	c.mu.RLock()
	stale := time.Since(c.lastPull) > c.ttl
	c.mu.RUnlock()
	if stale {
		c.Refresh()
	}
}

// FindByCapability filters the cached catalog. minContext of 0 means no
// minimum. A nil vision/tools pointer means "don't care".
func (c *Catalog) FindByCapability(vision, tools *bool, minContext int) []ModelInfo {
	c.EnsureFresh()
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ModelInfo
	for _, m := range c.models {
		if vision != nil && m.Vision != *vision {
			continue
		}
		if tools != nil && m.Tools != *tools {
			continue
		}
		if minContext > 0 && m.MinContext < minContext {
			continue
		}
		out = append(out, m)
	}
	return out
}

// List returns the full cached catalog, refreshing first if stale.
func (c *Catalog) List() []ModelInfo {
	c.EnsureFresh()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}
