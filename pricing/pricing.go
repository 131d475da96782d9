// Package pricing converts token usage into dollar cost.
package pricing

import (
	"sort"
	"strings"
	"sync"

	"github.com/mykhaliev/agent-oracle/model"
)

// Rates are USD per million tokens.
type Rates struct {
	InputPerMillion      float64 `yaml:"input" json:"input"`
	OutputPerMillion     float64 `yaml:"output" json:"output"`
	CacheWritePerMillion float64 `yaml:"cacheWrite,omitempty" json:"cacheWrite,omitempty"`
	CacheReadPerMillion  float64 `yaml:"cacheRead,omitempty" json:"cacheRead,omitempty"`
}

// Registry maps model names to rates. The zero value is not usable; use NewRegistry.
type Registry struct {
	mu    sync.RWMutex
	rates map[string]Rates
}

func NewRegistry() *Registry {
	return &Registry{rates: make(map[string]Rates)}
}

// FromMap builds a registry from configuration.
func FromMap(rates map[string]Rates) *Registry {
	r := NewRegistry()
	for name, rate := range rates {
		r.Register(name, rate)
	}
	return r
}

func (r *Registry) Register(modelName string, rates Rates) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[strings.ToLower(modelName)] = rates
}

// Lookup finds rates for a model. An exact name wins; otherwise the longest
// registered prefix matches, so dated snapshots resolve to their family.
func (r *Registry) Lookup(modelName string) (Rates, bool) {
	if r == nil {
		return Rates{}, false
	}
	name := strings.ToLower(modelName)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if rates, ok := r.rates[name]; ok {
		return rates, true
	}

	var best string
	for registered := range r.rates {
		if strings.HasPrefix(name, registered) && len(registered) > len(best) {
			best = registered
		}
	}
	if best == "" {
		return Rates{}, false
	}
	return r.rates[best], true
}

// Cost prices usage for a model. ok is false when the model is unknown.
func (r *Registry) Cost(modelName string, usage model.Usage) (model.Cost, bool) {
	rates, ok := r.Lookup(modelName)
	if !ok {
		return model.Cost{}, false
	}

	c := model.Cost{
		InputCost:      perMillion(usage.InputTokens, rates.InputPerMillion),
		OutputCost:     perMillion(usage.OutputTokens, rates.OutputPerMillion),
		CacheWriteCost: perMillion(usage.CacheWriteTokens, rates.CacheWritePerMillion),
		CacheReadCost:  perMillion(usage.CacheReadTokens, rates.CacheReadPerMillion),
	}
	c.TotalCost = c.InputCost + c.OutputCost + c.CacheWriteCost + c.CacheReadCost
	return c, true
}

// Models lists registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rates))
	for name := range r.rates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func perMillion(tokens int, rate float64) float64 {
	return float64(tokens) / 1_000_000 * rate
}
