// Package modelregistry implements the Model Registry (spec L4): a static
// provider/model catalog, capability queries, and a short-TTL cache for
// provider listings fetched with a caller-supplied API key.
//
// Grounded on the teacher's internal/provider model listing (each Provider
// exposes Models() []types.Model) generalized into a registry independent of
// any one provider's eino ChatModel wiring, plus pkoukk/tiktoken-go (seen in
// teradata-labs-loom) for token counting, with every model approximated by
// cl100k_base.
package modelregistry

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agentcore-ai/agentcore/pkg/apperr"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// cacheTTL bounds how long a provider's fetched model list is trusted before
// a caller must refresh it (spec §4.4: 1 hour).
const cacheTTL = time.Hour

// Provider is a catalog entry: a provider id/name plus its static model
// list. Dynamic providers (those whose model list depends on a live API
// call) populate Models via RefreshProvider instead of at construction time.
type Provider struct {
	ID     string
	Name   string
	Models []types.Model
}

type cacheKey struct {
	providerID   string
	apiKeyPrefix string
}

type cacheEntry struct {
	models    []types.Model
	fetchedAt time.Time
}

// Registry is the in-memory provider/model catalog plus TTL cache.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider

	cacheMu sync.Mutex
	cache   map[cacheKey]cacheEntry
}

// New creates an empty Registry. Seed it with RegisterProvider.
func New() *Registry {
	return &Registry{
		providers: make(map[string]*Provider),
		cache:     make(map[cacheKey]cacheEntry),
	}
}

// RegisterProvider adds or replaces a provider's static catalog entry.
func (r *Registry) RegisterProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.providers[p.ID] = &cp
}

// GetAllProviders returns every registered provider, sorted by ID for
// deterministic listing order.
func (r *Registry) GetAllProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	sortProvidersByID(out)
	return out
}

func sortProvidersByID(providers []Provider) {
	for i := 1; i < len(providers); i++ {
		for j := i; j > 0 && providers[j].ID < providers[j-1].ID; j-- {
			providers[j], providers[j-1] = providers[j-1], providers[j]
		}
	}
}

// GetAllModels returns every model across every registered provider.
func (r *Registry) GetAllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Model
	for _, p := range r.providers {
		out = append(out, p.Models...)
	}
	return out
}

// GetModelsByProvider returns the catalog for one provider.
func (r *Registry) GetModelsByProvider(providerID string) ([]types.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "unknown provider: "+providerID)
	}
	return p.Models, nil
}

// GetModel resolves a single model by (providerID, modelID).
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	models, err := r.GetModelsByProvider(providerID)
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "unknown model: "+providerID+"/"+modelID)
}

// ModelSupportsInput reports whether a model accepts a given input kind
// ("text", "image", "file", "tool-result"). The Model type has no separate
// file-attachment flag, so generic "file" input is gated on the same
// SupportsVision capability as "image" — a model that accepts images
// accepts other file attachments inline with the prompt too.
func ModelSupportsInput(m types.Model, kind string) bool {
	switch kind {
	case "text", "tool-result":
		return true
	case "image", "file":
		return m.SupportsVision
	default:
		return false
	}
}

// ModelSupportsOutput reports whether a model can produce a given output
// kind ("text", "tool-call", "reasoning").
func ModelSupportsOutput(m types.Model, kind string) bool {
	switch kind {
	case "text":
		return true
	case "tool-call":
		return m.SupportsTools
	case "reasoning":
		return m.SupportsReasoning
	default:
		return false
	}
}

// RefreshProvider re-fetches a provider's model list via fetch, honoring the
// cache TTL keyed by (providerID, a prefix of apiKey so the cache never
// holds the full secret). A cache hit skips the call to fetch entirely.
func (r *Registry) RefreshProvider(providerID, apiKey string, fetch func() ([]types.Model, error)) ([]types.Model, error) {
	key := cacheKey{providerID: providerID, apiKeyPrefix: keyPrefix(apiKey)}

	r.cacheMu.Lock()
	if entry, ok := r.cache[key]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		r.cacheMu.Unlock()
		return entry.models, nil
	}
	r.cacheMu.Unlock()

	models, err := fetch()
	if err != nil {
		return nil, apperr.Wrap(apperr.ProviderNetwork, "refresh provider models", err)
	}

	r.cacheMu.Lock()
	r.cache[key] = cacheEntry{models: models, fetchedAt: time.Now()}
	r.cacheMu.Unlock()

	r.mu.Lock()
	if p, ok := r.providers[providerID]; ok {
		p.Models = models
	}
	r.mu.Unlock()

	return models, nil
}

func keyPrefix(apiKey string) string {
	const n = 8
	if len(apiKey) <= n {
		return apiKey
	}
	return apiKey[:n]
}

// tokenizers caches tiktoken encodings by name; BPE construction is
// expensive enough to not repeat it per call.
var (
	tokenizersMu sync.Mutex
	tokenizers   = map[string]*tiktoken.Tiktoken{}
)

// TokenizerFor returns the tiktoken encoding used for accounting against m.
// Every provider is approximated with cl100k_base (spec §4.8.2: token
// accounting is an estimate, not provider-exact — matches the cl100k_base
// Claude approximation already used elsewhere in the pack).
func TokenizerFor(m types.Model) (*tiktoken.Tiktoken, error) {
	const encoding = "cl100k_base"

	tokenizersMu.Lock()
	defer tokenizersMu.Unlock()
	if tk, ok := tokenizers[encoding]; ok {
		return tk, nil
	}
	tk, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailed, "load tokenizer encoding "+encoding, err)
	}
	tokenizers[encoding] = tk
	return tk, nil
}

// CountTokens estimates the token count of text for model m.
func CountTokens(m types.Model, text string) (int, error) {
	tk, err := TokenizerFor(m)
	if err != nil {
		return 0, err
	}
	return len(tk.Encode(text, nil, nil)), nil
}
