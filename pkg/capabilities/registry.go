package capabilities

import (
	"fmt"
	"sort"
	"sync"
)

// Registry indexes provider registrations and their adapter factories, and
// answers routing questions: which providers offer a capability, which is
// cheapest, and what ordered fallback chain a step should try.
//
// Registration (RegisterProvider/unregister) is expected at startup and is not
// optimized for high-frequency writes; MarkProviderAvailable/Unavailable is the
// one mutation expected at runtime and is safe for concurrent use alongside
// concurrent reads, per spec.md §5.
type Registry struct {
	mu            sync.RWMutex
	providers     map[string]ProviderRegistration
	factories     map[string]AdapterFactory
	byCapability  map[Capability][]string // provider names, insertion order; sorted lazily on read
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:    make(map[string]ProviderRegistration),
		factories:    make(map[string]AdapterFactory),
		byCapability: make(map[Capability][]string),
	}
}

// RegisterProvider registers (or replaces) a provider and its adapter factory.
// Idempotent by ProviderName: re-registration fully replaces the prior entry,
// including its position in each capability's inverted index.
func (r *Registry) RegisterProvider(reg ProviderRegistration, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unindexLocked(reg.ProviderName)
	r.providers[reg.ProviderName] = reg
	if factory != nil {
		r.factories[reg.ProviderName] = factory
	}
	for _, cm := range reg.Capabilities {
		r.byCapability[cm.Capability] = append(r.byCapability[cm.Capability], reg.ProviderName)
	}
}

// UnregisterProvider removes a provider entirely.
func (r *Registry) UnregisterProvider(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unindexLocked(name)
	delete(r.providers, name)
	delete(r.factories, name)
}

func (r *Registry) unindexLocked(name string) {
	if _, exists := r.providers[name]; !exists {
		return
	}
	for cap_, names := range r.byCapability {
		filtered := names[:0:0]
		for _, n := range names {
			if n != name {
				filtered = append(filtered, n)
			}
		}
		r.byCapability[cap_] = filtered
	}
}

// GetProvider returns the registration for name.
func (r *Registry) GetProvider(name string) (ProviderRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[name]
	if !ok {
		return ProviderRegistration{}, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return reg, nil
}

// GetAllProviders returns a defensive copy of every registered provider.
func (r *Registry) GetAllProviders() map[string]ProviderRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ProviderRegistration, len(r.providers))
	for k, v := range r.providers {
		out[k] = v
	}
	return out
}

// GetAllCapabilities returns the set of capabilities at least one provider offers.
func (r *Registry) GetAllCapabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.byCapability))
	for c, names := range r.byCapability {
		if len(names) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// GetProvidersForCapability returns registrations offering capability, sorted
// ascending by priority. Ties are broken by provider name ascending — the
// source registry this was ported from leaves tie-breaking to map/list
// insertion order (nondeterministic); this port makes it deterministic, per
// the open question recorded in SPEC_FULL.md §9.
func (r *Registry) GetProvidersForCapability(capability Capability, qualityTier *QualityTier, exclude []string, onlyAvailable bool) []ProviderRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := toSet(exclude)
	var out []ProviderRegistration
	for _, name := range r.byCapability[capability] {
		if excluded[name] {
			continue
		}
		reg, ok := r.providers[name]
		if !ok {
			continue
		}
		if onlyAvailable && !reg.IsAvailable {
			continue
		}
		if qualityTier != nil {
			cm, _ := reg.GetCapability(capability)
			if cm.QualityTier != *qualityTier {
				continue
			}
		}
		out = append(out, reg)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ci, _ := out[i].GetCapability(capability)
		cj, _ := out[j].GetCapability(capability)
		if ci.Priority != cj.Priority {
			return ci.Priority < cj.Priority
		}
		return out[i].ProviderName < out[j].ProviderName
	})
	return out
}

// GetCheapestProvider linearly scans providers offering capability at or above
// minQualityTier and returns the one with the lowest CostPerUnit.
//
// This ignores CapabilityMetadata.OutputCostPerUnit, matching the source
// implementation — for token-based LLM capabilities with asymmetric
// input/output pricing this can misorder providers relative to true expected
// cost. EstimateCost (used on the hot path by the executor and budget service)
// does not share this limitation; only this convenience lookup does. See
// SPEC_FULL.md §9, open question #2.
func (r *Registry) GetCheapestProvider(capability Capability, minQualityTier QualityTier, exclude []string) (ProviderRegistration, bool) {
	tierRank := map[QualityTier]int{Economy: 0, Standard: 1, Premium: 2}
	excluded := toSet(exclude)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best ProviderRegistration
	var bestCost *CapabilityMetadata
	found := false
	for _, name := range r.byCapability[capability] {
		if excluded[name] {
			continue
		}
		reg, ok := r.providers[name]
		if !ok || !reg.IsAvailable {
			continue
		}
		cm, ok := reg.GetCapability(capability)
		if !ok || tierRank[cm.QualityTier] < tierRank[minQualityTier] {
			continue
		}
		if bestCost == nil || cm.CostPerUnit.LessThan(bestCost.CostPerUnit) {
			cmCopy := cm
			bestCost = &cmCopy
			best = reg
			found = true
		}
	}
	return best, found
}

// BuildFallbackChain produces the ordered list of provider names a pipeline
// step should try for capability, following spec.md §4.1's four-step algorithm:
// primary first (if registered/available/supporting), then the remaining
// priority-sorted providers, optionally re-sorted so the primary's quality
// tier comes first, truncated to primary?1:0 + maxFallbacks entries.
func (r *Registry) BuildFallbackChain(capability Capability, primary string, maxFallbacks int, exclude []string, preferSameQuality bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	excluded := toSet(exclude)
	var chain []string
	var primaryTier QualityTier
	havePrimary := false

	if primary != "" {
		if reg, ok := r.providers[primary]; ok && reg.IsAvailable && !excluded[primary] {
			if cm, ok := reg.GetCapability(capability); ok {
				chain = append(chain, primary)
				primaryTier = cm.QualityTier
				havePrimary = true
				excluded[primary] = true
			}
		}
	}

	var rest []ProviderRegistration
	for _, name := range r.byCapability[capability] {
		if excluded[name] {
			continue
		}
		reg, ok := r.providers[name]
		if !ok || !reg.IsAvailable {
			continue
		}
		rest = append(rest, reg)
	}
	sort.SliceStable(rest, func(i, j int) bool {
		ci, _ := rest[i].GetCapability(capability)
		cj, _ := rest[j].GetCapability(capability)
		if ci.Priority != cj.Priority {
			return ci.Priority < cj.Priority
		}
		return rest[i].ProviderName < rest[j].ProviderName
	})

	if havePrimary && preferSameQuality {
		sort.SliceStable(rest, func(i, j int) bool {
			ci, _ := rest[i].GetCapability(capability)
			cj, _ := rest[j].GetCapability(capability)
			iSame := ci.QualityTier == primaryTier
			jSame := cj.QualityTier == primaryTier
			if iSame != jSame {
				return iSame
			}
			return false // priority order already applied above; stable sort preserves it
		})
	}

	for _, reg := range rest {
		chain = append(chain, reg.ProviderName)
	}

	limit := maxFallbacks
	if havePrimary {
		limit++
	}
	if limit < 0 {
		limit = 0
	}
	if limit < len(chain) {
		chain = chain[:limit]
	}
	return chain
}

// CreateAdapter invokes the stored factory for name with the given credentials.
func (r *Registry) CreateAdapter(name, apiKey, modelName string) (Adapter, error) {
	r.mu.RLock()
	reg, regOK := r.providers[name]
	factory, factOK := r.factories[name]
	r.mu.RUnlock()

	if !regOK {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	if !factOK {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, name)
	}
	_ = reg
	return factory(apiKey, modelName)
}

// EstimateCost delegates to the named provider's metadata for capability.
func (r *Registry) EstimateCost(capability Capability, providerName string, inputTokens, outputTokens int, durationSeconds float64, characters, requests int) (float64, error) {
	reg, err := r.GetProvider(providerName)
	if err != nil {
		return 0, err
	}
	cm, ok := reg.GetCapability(capability)
	if !ok {
		return 0, fmt.Errorf("%w: %s does not offer %s", ErrCapabilityUnsupported, providerName, capability)
	}
	f, _ := cm.EstimateCost(inputTokens, outputTokens, durationSeconds, characters, requests).Float64()
	return f, nil
}

// IsCapabilityAvailable reports whether any available provider offers capability.
func (r *Registry) IsCapabilityAvailable(capability Capability) bool {
	return len(r.GetProvidersForCapability(capability, nil, nil, true)) > 0
}

// MarkProviderAvailable flips a provider's IsAvailable flag on.
func (r *Registry) MarkProviderAvailable(name string) error {
	return r.setAvailable(name, true)
}

// MarkProviderUnavailable flips a provider's IsAvailable flag off; subsequent
// fallback chains and capability lookups skip it until it is marked available
// again.
func (r *Registry) MarkProviderUnavailable(name string) error {
	return r.setAvailable(name, false)
}

func (r *Registry) setAvailable(name string, available bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	reg.IsAvailable = available
	r.providers[name] = reg
	return nil
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}
