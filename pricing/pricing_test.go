package pricing

import (
	"testing"

	"github.com/mykhaliev/agent-oracle/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCost(t *testing.T) {
	r := NewRegistry()
	r.Register("claude-sonnet-4-5", Rates{InputPerMillion: 3, OutputPerMillion: 15, CacheWritePerMillion: 3.75, CacheReadPerMillion: 0.3})

	c, ok := r.Cost("claude-sonnet-4-5", model.Usage{
		InputTokens:      1_000_000,
		OutputTokens:     200_000,
		CacheWriteTokens: 400_000,
		CacheReadTokens:  1_000_000,
	})
	require.True(t, ok)
	assert.InDelta(t, 3.0, c.InputCost, 1e-9)
	assert.InDelta(t, 3.0, c.OutputCost, 1e-9)
	assert.InDelta(t, 1.5, c.CacheWriteCost, 1e-9)
	assert.InDelta(t, 0.3, c.CacheReadCost, 1e-9)
	assert.InDelta(t, 7.8, c.TotalCost, 1e-9)
}

func TestRegistryLookup(t *testing.T) {
	r := FromMap(map[string]Rates{
		"gpt-4o":      {InputPerMillion: 2.5, OutputPerMillion: 10},
		"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	})

	t.Run("Exact and case-insensitive", func(t *testing.T) {
		rates, ok := r.Lookup("GPT-4o")
		require.True(t, ok)
		assert.Equal(t, 2.5, rates.InputPerMillion)
	})

	t.Run("Longest prefix wins for snapshots", func(t *testing.T) {
		rates, ok := r.Lookup("gpt-4o-mini-2024-07-18")
		require.True(t, ok)
		assert.Equal(t, 0.15, rates.InputPerMillion)
	})

	t.Run("Unknown model", func(t *testing.T) {
		_, ok := r.Cost("llama3", model.Usage{InputTokens: 10})
		assert.False(t, ok)
	})

	t.Run("Nil registry prices nothing", func(t *testing.T) {
		var nilRegistry *Registry
		_, ok := nilRegistry.Cost("gpt-4o", model.Usage{})
		assert.False(t, ok)
	})

	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, r.Models())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	a.Register("m", Rates{InputPerMillion: 1})

	_, ok := b.Lookup("m")
	assert.False(t, ok)
}
