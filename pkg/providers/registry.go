package providers

import (
	"fmt"
	"strings"
	"sync"
)

// AliasEntry resolves a friendly alias to a concrete (provider, model) pair.
type AliasEntry struct {
	ProviderID      string
	CanonicalModel  string
}

// Registry is the process-wide mapping from provider id to instance, plus
// the alias table used by ResolveModel. A bare name with no alias entry is
// rejected even when a provider instance is registered under that id — see
// the "resolve_model" decision in DESIGN.md.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
	aliases   map[string]AliasEntry
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]LLMProvider),
		aliases:   make(map[string]AliasEntry),
	}
}

// Register installs a provider instance under providerID, overwriting any
// previous instance registered under the same id.
func (r *Registry) Register(providerID string, p LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(providerID)] = p
}

// RegisterAlias maps a friendly name to a (provider, model) pair, e.g.
// "fast" -> ("groq", "llama-3.3-70b-versatile").
func (r *Registry) RegisterAlias(alias, providerID, canonicalModel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(alias)] = AliasEntry{ProviderID: providerID, CanonicalModel: canonicalModel}
}

// Get returns the provider instance registered under providerID.
func (r *Registry) Get(providerID string) (LLMProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(providerID)]
	return p, ok
}

// ResolveModel resolves a name to a (provider, canonical model id) pair.
// It first checks the alias table; only if that misses does it fall back to
// treating name as "provider/model" against a registered provider instance.
// A bare provider id with no matching alias and no "/" separator is
// rejected — aliases are the only way to refer to a model without a
// provider prefix.
func (r *Registry) ResolveModel(name string) (provider LLMProvider, providerID, canonicalModel string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.aliases[strings.ToLower(name)]; ok {
		p, ok := r.providers[strings.ToLower(entry.ProviderID)]
		if !ok {
			return nil, "", "", fmt.Errorf("alias %q points at unregistered provider %q", name, entry.ProviderID)
		}
		return p, entry.ProviderID, entry.CanonicalModel, nil
	}

	ref := ParseModelRef(name, "")
	if ref == nil || ref.Provider == "" {
		return nil, "", "", fmt.Errorf("model %q has no alias and no provider prefix", name)
	}
	p, ok := r.providers[strings.ToLower(ref.Provider)]
	if !ok {
		return nil, "", "", fmt.Errorf("unregistered provider %q for model %q", ref.Provider, name)
	}
	return p, ref.Provider, ref.Model, nil
}
