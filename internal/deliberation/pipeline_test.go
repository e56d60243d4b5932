package deliberation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_StepOrder(t *testing.T) {
	profile := ResolveDepth(3)
	stages := []StageHandle{
		{Capability: CapabilityMarket, Agent: echoAgent("market")},
		{Capability: CapabilityNews, Agent: echoAgent("news")},
	}

	p := Build(profile, stages)

	require.Len(t, p.Steps, 5)
	assert.Equal(t, StepStage, p.Steps[0].Kind)
	assert.Equal(t, CapabilityMarket, p.Steps[0].Capability)
	assert.Equal(t, StepStage, p.Steps[1].Kind)
	assert.Equal(t, CapabilityNews, p.Steps[1].Capability)
	assert.Equal(t, StepInvestmentDebate, p.Steps[2].Kind)
	assert.Equal(t, StepRiskDebate, p.Steps[3].Kind)
	assert.Equal(t, StepFinalDecision, p.Steps[4].Kind)
}

func TestBuild_IsPure(t *testing.T) {
	invoked := false
	ag := AgentFunc(func(ctx context.Context, p Prompt) (string, error) {
		invoked = true
		return "", nil
	})

	Build(ResolveDepth(1), []StageHandle{{Capability: CapabilityMarket, Agent: ag}})
	assert.False(t, invoked, "building a pipeline must not execute agents")
}

func TestTotalUnits(t *testing.T) {
	tests := []struct {
		level     int
		numStages int
		want      int
	}{
		// stages + 2*dr+1 + 3*rr+1
		{1, 2, 2 + 3 + 4},
		{3, 4, 4 + 3 + 7},
		{5, 4, 4 + 7 + 10},
	}

	for _, tt := range tests {
		stages := make([]StageHandle, tt.numStages)
		for i := range stages {
			stages[i] = StageHandle{Capability: CapabilityMarket, Agent: echoAgent("a")}
		}
		p := Build(ResolveDepth(tt.level), stages)
		assert.Equal(t, tt.want, p.TotalUnits(), "level %d stages %d", tt.level, tt.numStages)
	}
}
