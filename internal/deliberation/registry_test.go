package deliberation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/pkg/errors"
)

func echoAgent(name string) Agent {
	return AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		return name, nil
	})
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(CapabilityMarket, echoAgent("market"))
	r.Register(CapabilityFundamentals, echoAgent("fundamentals"))
	r.Register(CapabilityNews, echoAgent("news"))
	r.Register(CapabilitySocial, echoAgent("social"))
	r.AddMarket("us")
	r.AddMarket("ashare", CapabilitySocial)
	return r
}

func capabilityNames(stages []StageHandle) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Capability
	}
	return names
}

func TestResolveStages_OrderPreservedAndDeduplicated(t *testing.T) {
	r := newTestRegistry()

	stages, advisories, err := r.ResolveStages(
		[]string{CapabilityNews, CapabilityMarket, CapabilityNews, CapabilityMarket}, "us")
	require.NoError(t, err)

	assert.Equal(t, []string{CapabilityNews, CapabilityMarket}, capabilityNames(stages))
	assert.Empty(t, advisories)
}

func TestResolveStages_RestrictedCapabilityDroppedWithAdvisory(t *testing.T) {
	r := newTestRegistry()

	stages, advisories, err := r.ResolveStages(
		[]string{CapabilityMarket, CapabilitySocial}, "ashare")
	require.NoError(t, err)

	assert.Equal(t, []string{CapabilityMarket}, capabilityNames(stages))
	require.Len(t, advisories, 1)
	assert.Contains(t, advisories[0], "social")
	assert.Contains(t, advisories[0], "ashare")
}

func TestResolveStages_UnregisteredCapabilityDropped(t *testing.T) {
	r := newTestRegistry()

	stages, advisories, err := r.ResolveStages(
		[]string{CapabilityMarket, "astrology"}, "us")
	require.NoError(t, err)

	assert.Equal(t, []string{CapabilityMarket}, capabilityNames(stages))
	require.Len(t, advisories, 1)
	assert.Contains(t, advisories[0], "astrology")
}

func TestResolveStages_EmptyResultFallsBackToDefaults(t *testing.T) {
	r := newTestRegistry()

	// Everything requested is restricted or unknown
	stages, advisories, err := r.ResolveStages([]string{CapabilitySocial}, "ashare")
	require.NoError(t, err)

	assert.Equal(t, DefaultCapabilities, capabilityNames(stages))
	assert.NotEmpty(t, advisories)
}

func TestResolveStages_EmptyRequestFallsBackToDefaults(t *testing.T) {
	r := newTestRegistry()

	stages, _, err := r.ResolveStages(nil, "us")
	require.NoError(t, err)

	assert.Equal(t, DefaultCapabilities, capabilityNames(stages))
}

func TestResolveStages_UnknownMarket(t *testing.T) {
	r := newTestRegistry()

	_, _, err := r.ResolveStages([]string{CapabilityMarket}, "moonbase")
	assert.ErrorIs(t, err, errors.ErrUnknownMarket)
}

func TestKnownMarket(t *testing.T) {
	r := newTestRegistry()

	assert.True(t, r.KnownMarket("us"))
	assert.True(t, r.KnownMarket("ashare"))
	assert.False(t, r.KnownMarket("moonbase"))
}
