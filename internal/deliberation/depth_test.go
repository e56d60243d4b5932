package deliberation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDepth_Table(t *testing.T) {
	tests := []struct {
		name             string
		level            int
		wantDebateRounds int
		wantRiskRounds   int
		wantMemory       bool
		wantBaseSeconds  int
		wantMultiplier   float64
	}{
		{"level 1 quick", 1, 1, 1, false, 180, 0.8},
		{"level 2 basic", 2, 1, 1, true, 360, 1.0},
		{"level 3 standard", 3, 1, 2, true, 360, 1.0},
		{"level 4 deep", 4, 2, 2, true, 600, 1.3},
		{"level 5 comprehensive", 5, 3, 3, true, 600, 1.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ResolveDepth(tt.level)

			assert.Equal(t, tt.level, p.Level)
			assert.Equal(t, tt.wantDebateRounds, p.MaxDebateRounds)
			assert.Equal(t, tt.wantRiskRounds, p.MaxRiskRounds)
			assert.Equal(t, tt.wantMemory, p.MemoryEnabled)
			assert.Equal(t, tt.wantBaseSeconds, p.BaseSecondsPerStage)
			assert.Equal(t, tt.wantMultiplier, p.StageMultiplier)
		})
	}
}

func TestResolveDepth_Clamping(t *testing.T) {
	assert.Equal(t, ResolveDepth(1), ResolveDepth(0))
	assert.Equal(t, ResolveDepth(1), ResolveDepth(-10))
	assert.Equal(t, ResolveDepth(5), ResolveDepth(6))
	assert.Equal(t, ResolveDepth(5), ResolveDepth(100))
}

func TestEstimateSeconds_MonotoneInDepth(t *testing.T) {
	// Same stage count, deeper level => never a smaller estimate
	for stages := 1; stages <= 4; stages++ {
		prev := 0
		for level := 1; level <= 5; level++ {
			est := ResolveDepth(level).EstimateSeconds(stages)
			assert.GreaterOrEqual(t, est, prev, "level %d stages %d", level, stages)
			prev = est
		}
	}
}

func TestEstimateSeconds_MonotoneInStages(t *testing.T) {
	for level := 1; level <= 5; level++ {
		p := ResolveDepth(level)
		assert.Greater(t, p.EstimateSeconds(3), p.EstimateSeconds(2))
	}
}

func TestEstimateSeconds_Level1(t *testing.T) {
	p := ResolveDepth(1)
	// 2 stages * 180s * 0.8 + (2+3 turns * 60s) + 2 syntheses * 90s
	assert.Equal(t, 288+300+180, p.EstimateSeconds(2))
}
